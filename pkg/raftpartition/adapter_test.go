package raftpartition

import (
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSingleNodeRaft bootstraps a one-node in-memory raft cluster, mirroring
// the teacher's poc/raft/main.go bootstrap sequence (NewRaft + fixed
// single-server configuration) with the file-backed transport/stores
// swapped for raft's in-memory test doubles.
func newSingleNodeRaft(t *testing.T) (*raft.Raft, raft.LogStore, raft.ServerID) {
	t.Helper()

	const serverID = raft.ServerID("node1")

	config := raft.DefaultConfig()
	config.LocalID = serverID
	config.HeartbeatTimeout = 50 * time.Millisecond
	config.ElectionTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 50 * time.Millisecond
	config.CommitTimeout = 5 * time.Millisecond
	config.Logger = hclog.NewNullLogger()

	addr, transport := raft.NewInmemTransport("")
	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()
	snapshotStore := raft.NewInmemSnapshotStore()

	fsm := NewFSM()
	r, err := raft.NewRaft(config, fsm, logStore, stableStore, snapshotStore, transport)
	require.NoError(t, err)

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: serverID, Address: addr}},
	})
	require.NoError(t, future.Error())

	t.Cleanup(func() { _ = r.Shutdown().Error() })

	return r, logStore, serverID
}

func waitForLeader(t *testing.T, r *raft.Raft) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if r.State() == raft.Leader {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for single node to become leader")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAdapterReportsLeaderRoleChange(t *testing.T) {
	r, logStore, serverID := newSingleNodeRaft(t)
	fsm := r.FSM().(*FSM)

	a := NewAdapter(r, logStore, serverID, fsm, zerolog.Nop())
	defer a.Close()

	var mu mutexRoleLog
	a.OnRoleChange(func(role Role, term Term) {
		mu.record(role, term)
	})

	waitForLeader(t, r)
	assert.Eventually(t, func() bool {
		return mu.last() == RoleLeader
	}, 5*time.Second, 20*time.Millisecond)

	assert.Greater(t, uint64(a.CurrentTerm()), uint64(0))
}

func TestAdapterCommittedEntryListenerFiresOnApply(t *testing.T) {
	r, logStore, serverID := newSingleNodeRaft(t)
	fsm := r.FSM().(*FSM)
	a := NewAdapter(r, logStore, serverID, fsm, zerolog.Nop())
	defer a.Close()

	waitForLeader(t, r)

	received := make(chan IndexedEntry, 1)
	unregister := a.OnCommittedEntry(func(entry IndexedEntry) {
		select {
		case received <- entry:
		default:
		}
	})
	defer unregister()

	applyFuture := r.Apply([]byte("hello"), 5*time.Second)
	require.NoError(t, applyFuture.Error())

	select {
	case entry := <-received:
		assert.Equal(t, []byte("hello"), entry.Payload)
		fetched, ok := a.EntryAtPosition(Position(entry.Index))
		require.True(t, ok)
		assert.Equal(t, entry.Index, fetched.Index)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for committed entry notification")
	}
}

func TestAdapterStepDownIsNoopWhenNotLeader(t *testing.T) {
	r, logStore, serverID := newSingleNodeRaft(t)
	fsm := r.FSM().(*FSM)
	a := NewAdapter(r, logStore, serverID, fsm, zerolog.Nop())
	defer a.Close()

	// A replica that has shut down is not leader, so there is nothing to
	// hand off.
	require.NoError(t, r.Shutdown().Error())
	require.NotEqual(t, raft.Leader, r.State())
	require.NoError(t, a.StepDown())
}

// mutexRoleLog is a tiny concurrency-safe recorder for the last observed
// role, avoiding a data race between the observer goroutine and the test.
type mutexRoleLog struct {
	mu    sync.Mutex
	value Role
}

func (m *mutexRoleLog) record(role Role, _ Term) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = role
}

func (m *mutexRoleLog) last() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}
