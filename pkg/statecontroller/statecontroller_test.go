package statecontroller

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/cuemby/brokerd/pkg/actor"
	"github.com/cuemby/brokerd/pkg/brokererr"
	"github.com/cuemby/brokerd/pkg/kvstore"
	"github.com/cuemby/brokerd/pkg/snapshotstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB is an in-memory kvstore.DB whose CreateSnapshot writes its
// contents to a flat file, so it round-trips through snapshotstore without
// needing bbolt in tests exercising the controller's orchestration logic.
type fakeDB struct {
	mu   sync.Mutex
	data map[string]string
}

func (d *fakeDB) Get(key []byte) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (d *fakeDB) Put(key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[string(key)] = string(value)
	return nil
}

func (d *fakeDB) Delete(key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, string(key))
	return nil
}

func (d *fakeDB) ForEach(fn func(key, value []byte) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), []byte(d.data[k])); err != nil {
			return err
		}
	}
	return nil
}

func (d *fakeDB) CreateSnapshot(dir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, d.data[k])
	}
	return os.WriteFile(filepath.Join(dir, "data.txt"), []byte(sb.String()), 0o644)
}

func (d *fakeDB) Close() error { return nil }

type fakeFactory struct{}

func (fakeFactory) Open(_ context.Context, dir string) (kvstore.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	data := map[string]string{}
	f, err := os.Open(filepath.Join(dir, "data.txt"))
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			parts := strings.SplitN(scanner.Text(), "=", 2)
			if len(parts) == 2 {
				data[parts[0]] = parts[1]
			}
		}
		f.Close()
	}
	return &fakeDB{data: data}, nil
}

func newTestController(t *testing.T, entrySupplier EntrySupplier, exporterPosition ExporterPositionFunc) (*Controller, string) {
	t.Helper()

	root := t.TempDir()
	store, err := snapshotstore.Open(filepath.Join(root, "snapshots"))
	require.NoError(t, err)

	runtimeDir := filepath.Join(root, "runtime")

	if entrySupplier == nil {
		entrySupplier = func(position int64) (IndexedEntry, bool) {
			return IndexedEntry{Index: 1, Term: 1}, true
		}
	}
	if exporterPosition == nil {
		exporterPosition = func(kvstore.DB) int64 { return 0 }
	}

	c := New(Config{
		PartitionID:      "0",
		RuntimeDir:       runtimeDir,
		DBFactory:        fakeFactory{},
		Store:            store,
		EntrySupplier:    entrySupplier,
		ExporterPosition: exporterPosition,
		Scheduler:        actor.NewScheduler(),
	})
	return c, runtimeDir
}

func TestOpenCloseLifecycle(t *testing.T) {
	c, runtimeDir := newTestController(t, nil, nil)

	assert.False(t, c.IsDBOpened())

	_, err := c.OpenDB(context.Background()).Wait()
	require.NoError(t, err)
	assert.True(t, c.IsDBOpened())
	assert.DirExists(t, runtimeDir)

	_, err = c.CloseDB(context.Background()).Wait()
	require.NoError(t, err)
	assert.False(t, c.IsDBOpened())
	assert.NoDirExists(t, runtimeDir)
}

func TestOpenDBIsIdempotent(t *testing.T) {
	c, _ := newTestController(t, nil, nil)

	db1, err := c.OpenDB(context.Background()).Wait()
	require.NoError(t, err)
	db2, err := c.OpenDB(context.Background()).Wait()
	require.NoError(t, err)
	assert.Same(t, db1, db2)
}

func TestRecoverWithoutSnapshotOpensEmpty(t *testing.T) {
	c, _ := newTestController(t, nil, nil)

	db, err := c.Recover(context.Background()).Wait()
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.True(t, c.IsDBOpened())

	_, ok, err := db.(*fakeDB).Get([]byte("x"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTakeTransientSnapshotWhenClosedIsBenign(t *testing.T) {
	c, _ := newTestController(t, nil, nil)

	result, err := c.TakeTransientSnapshot(context.Background(), 2).Wait()
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestTakeTransientSnapshotEntrySupplierMissIsInvariantViolation(t *testing.T) {
	c, _ := newTestController(t, func(int64) (IndexedEntry, bool) {
		return IndexedEntry{}, false
	}, nil)

	_, err := c.OpenDB(context.Background()).Wait()
	require.NoError(t, err)

	_, err = c.TakeTransientSnapshot(context.Background(), 2).Wait()
	require.Error(t, err)
	assert.True(t, brokererr.Is(err, brokererr.InvariantViolation))
}

// TestOpenPutSnapshotCloseRecoverRoundTrip mirrors the spec scenario: open
// DB, put x=3, take a snapshot at position 2 (exporter=3), close, recover,
// open -> x == 3.
func TestOpenPutSnapshotCloseRecoverRoundTrip(t *testing.T) {
	c, _ := newTestController(t,
		func(position int64) (IndexedEntry, bool) {
			return IndexedEntry{Index: uint64(position), Term: 1}, true
		},
		func(kvstore.DB) int64 { return 3 },
	)

	dbAny, err := c.OpenDB(context.Background()).Wait()
	require.NoError(t, err)
	db := dbAny.(*fakeDB)
	require.NoError(t, db.Put([]byte("x"), []byte("3")))

	result, err := c.TakeTransientSnapshot(context.Background(), 2).Wait()
	require.NoError(t, err)
	require.NotNil(t, result)
	transient := result.(*snapshotstore.TransientSnapshot)
	assert.Equal(t, int64(2), transient.ID().CompactionBound())

	_, err = transient.Persist()
	require.NoError(t, err)

	_, err = c.CloseDB(context.Background()).Wait()
	require.NoError(t, err)
	assert.False(t, c.IsDBOpened())

	recoveredAny, err := c.Recover(context.Background()).Wait()
	require.NoError(t, err)
	recovered := recoveredAny.(*fakeDB)

	value, ok, err := recovered.Get([]byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", string(value))
}

// TestScenarioSixthTransientSnapshotValidCountStaysOne mirrors the spec
// scenario of taking snapshots at positions 1, 3, 5 and then a sixth
// transient that is never persisted: valid_snapshot_count stays 1 and the
// retained snapshot's compaction bound is the last persisted one.
func TestScenarioSixthTransientSnapshotValidCountStaysOne(t *testing.T) {
	exporterPos := int64(0)
	c, _ := newTestController(t,
		func(position int64) (IndexedEntry, bool) {
			return IndexedEntry{Index: uint64(position), Term: 1}, true
		},
		func(kvstore.DB) int64 { return exporterPos },
	)

	_, err := c.OpenDB(context.Background()).Wait()
	require.NoError(t, err)

	for _, pos := range []int64{1, 3, 5} {
		exporterPos = pos
		result, err := c.TakeTransientSnapshot(context.Background(), pos).Wait()
		require.NoError(t, err)
		require.NotNil(t, result)
		_, err = result.(*snapshotstore.TransientSnapshot).Persist()
		require.NoError(t, err)
	}

	// A sixth transient is reserved but never persisted.
	exporterPos = 7
	sixth, err := c.TakeTransientSnapshot(context.Background(), 7).Wait()
	require.NoError(t, err)
	require.NotNil(t, sixth)

	count, err := c.ValidSnapshotCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	latest, ok, err := c.LatestSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), latest.ID.CompactionBound())
}

func TestConcurrentTakeTransientSnapshotRejectsSecondCall(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})

	c, _ := newTestController(t,
		func(position int64) (IndexedEntry, bool) {
			close(started)
			<-block
			return IndexedEntry{Index: uint64(position), Term: 1}, true
		},
		nil,
	)

	_, err := c.OpenDB(context.Background()).Wait()
	require.NoError(t, err)

	first := c.TakeTransientSnapshot(context.Background(), 1)
	<-started

	second, err := c.TakeTransientSnapshot(context.Background(), 1).Wait()
	require.NoError(t, err)
	assert.Nil(t, second, "a concurrent call must be rejected with a benign nil result")

	close(block)
	_, err = first.Wait()
	require.NoError(t, err)
}
