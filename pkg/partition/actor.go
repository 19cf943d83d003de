package partition

import (
	"context"
	"sync"

	"github.com/cuemby/brokerd/pkg/actor"
	"github.com/cuemby/brokerd/pkg/brokererr"
	"github.com/cuemby/brokerd/pkg/health"
	"github.com/cuemby/brokerd/pkg/log"
	"github.com/cuemby/brokerd/pkg/metrics"
	"github.com/cuemby/brokerd/pkg/startup"
	"github.com/rs/zerolog"
)

// Actor is the single logical thread that owns one partition: every Raft
// role change, admin request, and disk-space, snapshot-replication, or
// health-monitor-failure signal is serialized onto its actor.Actor, so two
// transitions for the same partition never run concurrently and admin
// reads never race a transition in flight.
type Actor struct {
	ctx        *Context
	transition *Transition
	stream     *streamProcessorStep

	act                     actor.Actor
	startupProcess          *startup.Process
	unregisterRole          func()
	unregisterDiskSpace     func()
	unregisterHealthFailure func()
	log                     zerolog.Logger

	mu                 sync.Mutex
	roleKnown          bool
	currentRole        Role
	currentTerm        Term
	dead               bool
	diskSpaceAvailable bool
}

// NewActor builds a partition actor wired to pc's collaborators. It
// registers the role-change, disk-space, and health-monitor-failure
// listeners immediately, but installs no role-specific services until
// Start runs the partition's own bring-up process and the first role
// change arrives. The snapshot-replication-started and -completed
// listeners are registered by the log replication step on the first
// transition to a non-Leader role.
func NewActor(pc *Context) *Actor {
	p := &Actor{
		ctx:                pc,
		log:                log.WithPartition(pc.PartitionID),
		diskSpaceAvailable: true,
	}

	p.stream = newStreamProcessorStep(pc)
	logReplication := newLogReplicationStep(pc,
		func() { p.submit(p.handleSnapshotReplicationStarted) },
		func() { p.submit(p.handleSnapshotReplicationCompleted) },
	)
	snapshotDirector := newSnapshotDirectorStep(pc)
	p.transition = NewTransition(logReplication, p.stream, snapshotDirector)

	p.act = pc.Scheduler.NewActor("partition-actor-" + pc.PartitionID)

	p.startupProcess = startup.New("partition-"+pc.PartitionID, startup.Step{
		Name: "state_controller",
		Startup: func(ctx context.Context) (context.Context, error) {
			if _, err := pc.Controller.Recover(ctx).Wait(); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Shutdown: func(ctx context.Context) (context.Context, error) {
			if _, err := pc.Controller.CloseDB(ctx).Wait(); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
	})

	p.unregisterRole = pc.Raft.OnRoleChange(func(role Role, term Term) {
		p.submit(func() { p.handleRoleChange(role, term) })
	})

	if pc.Health != nil {
		p.unregisterDiskSpace = pc.Health.OnComponentChange(health.DiskUsageComponent, func(available bool, message string) {
			p.submit(func() { p.handleDiskSpaceChange(available, message) })
		})
		p.unregisterHealthFailure = pc.Health.OnFailure(func(state health.State, name, message string) {
			p.submit(func() { p.handleHealthFailure(state, name, message) })
		})
	}

	return p
}

// submit enqueues fn onto the partition's own actor, dropping the result
// channel callers of handleRoleChange/handleSnapshotReplication* don't
// need.
func (p *Actor) submit(fn func()) {
	p.act.Submit(func() (any, error) {
		fn()
		return nil, nil
	})
}

// Start runs the partition's bring-up process (recovering its local
// database from the latest persisted snapshot). It runs on the caller's
// goroutine, before any role change has been observed, so there's no
// concurrency hazard with the actor yet.
func (p *Actor) Start(ctx context.Context) error {
	_, err := p.startupProcess.Startup(ctx)
	return err
}

// GetCurrentRole reports the partition's last successfully reached role.
func (p *Actor) GetCurrentRole() Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRole
}

// AppliedPosition reports the position of the last committed entry the
// stream processor step has observed. A caller with no real exporter
// pipeline to consult can use this as its exporter position and lower
// bound, so compaction stays pinned to what this partition has actually
// applied instead of a literal stand-in.
func (p *Actor) AppliedPosition() int64 {
	return p.stream.AppliedPosition()
}

// PartitionSnapshots implements metrics.Source for a single partition,
// reporting one entry describing its own role, term, applied position,
// and snapshot-store state. A node hosting several partitions aggregates
// every Actor's own single-element slice (see cmd/brokerd's
// multiPartitionSource) into the one Collector the node runs.
func (p *Actor) PartitionSnapshots() []metrics.PartitionSnapshot {
	p.mu.Lock()
	role := p.currentRole
	roleKnown := p.roleKnown
	term := p.currentTerm
	p.mu.Unlock()

	roleStr := "unknown"
	if roleKnown {
		roleStr = role.String()
	}

	count, err := p.ctx.Controller.ValidSnapshotCount()
	if err != nil {
		count = 0
	}

	var latestSize int64
	var compactionBound uint64
	if latest, ok, err := p.ctx.Controller.LatestSnapshot(); err == nil && ok {
		if sz, szErr := latest.Size(); szErr == nil {
			latestSize = sz
		}
		compactionBound = uint64(latest.ID.CompactionBound())
	}

	return []metrics.PartitionSnapshot{{
		ID:               p.ctx.PartitionID,
		Role:             roleStr,
		RaftTerm:         uint64(term),
		AppliedIndex:     uint64(p.stream.AppliedPosition()),
		SnapshotCount:    count,
		LatestSnapshotSz: latestSize,
		CompactionBound:  compactionBound,
	}}
}

// PauseProcessing stops the stream processor step from recording applied
// positions off the committed-entry stream, without leaving consensus.
func (p *Actor) PauseProcessing() *actor.Future {
	return p.act.Submit(func() (any, error) {
		p.ctx.Paused.Processing.Store(true)
		return nil, nil
	})
}

// ResumeProcessing reverses PauseProcessing.
func (p *Actor) ResumeProcessing() *actor.Future {
	return p.act.Submit(func() (any, error) {
		p.ctx.Paused.Processing.Store(false)
		return nil, nil
	})
}

// PauseExporting stops the canonical snapshot director's periodic
// take_transient_snapshot/persist round.
func (p *Actor) PauseExporting() *actor.Future {
	return p.act.Submit(func() (any, error) {
		p.ctx.Paused.Exporting.Store(true)
		return nil, nil
	})
}

// ResumeExporting reverses PauseExporting.
func (p *Actor) ResumeExporting() *actor.Future {
	return p.act.Submit(func() (any, error) {
		p.ctx.Paused.Exporting.Store(false)
		return nil, nil
	})
}

// TakeSnapshot requests an out-of-band transient snapshot construction,
// subject to the same at-most-one-in-flight rule as the periodic director.
func (p *Actor) TakeSnapshot(ctx context.Context, lowerBoundPosition int64) *actor.Future {
	return p.ctx.Controller.TakeTransientSnapshot(ctx, lowerBoundPosition)
}

// Close waits for any in-flight transition to finish, moves the partition
// to Inactive, unregisters every Raft listener, and runs the bring-up
// process's Shutdown. It closes the partition's actor, so it may be called
// only once: a second call panics in Submit.
func (p *Actor) Close(ctx context.Context) {
	done := make(chan struct{})
	p.act.Submit(func() (any, error) {
		if err := p.transition.ToInactive(ctx); err != nil {
			p.log.Warn().Err(err).Msg("transition to inactive during close failed")
		}
		p.mu.Lock()
		p.currentRole = RoleInactive
		p.roleKnown = true
		p.mu.Unlock()
		close(done)
		return nil, nil
	})
	<-done

	p.unregisterRole()
	for _, step := range p.transition.steps {
		if lr, ok := step.(*logReplicationStep); ok {
			lr.mu.Lock()
			lr.unregisterLocked()
			lr.mu.Unlock()
		}
	}
	if p.unregisterDiskSpace != nil {
		p.unregisterDiskSpace()
	}
	if p.unregisterHealthFailure != nil {
		p.unregisterHealthFailure()
	}
	if p.ctx.Health != nil {
		p.ctx.Health.Unregister(partitionComponentName(p.ctx.PartitionID))
	}
	p.startupProcess.Shutdown(ctx)
	p.act.Close()
}

// handleRoleChange runs on the partition actor. It decides, from the
// newly observed Raft role and the partition's last known role, whether a
// transition is needed at all:
//
//  1. observed Leader, and either wasn't already Leader or the term
//     advanced (a new leadership epoch at the same role) -> transition to
//     Leader.
//  2. observed Inactive (Raft shut down) -> transition to Inactive, unless
//     already there.
//  3. no role known yet, or the partition just stepped down from Leader
//     -> transition to Follower.
//  4. anything else (e.g. Candidate while already Follower) is a role
//     wobble this partition doesn't act on.
func (p *Actor) handleRoleChange(role Role, term Term) {
	p.mu.Lock()
	dead := p.dead
	known := p.roleKnown
	current := p.currentRole
	currentTerm := p.currentTerm
	p.mu.Unlock()

	if dead {
		return
	}

	target, fire := decideTransitionTarget(known, current, currentTerm, role, term)
	if !fire {
		p.mu.Lock()
		p.currentRole = role
		p.roleKnown = true
		p.currentTerm = term
		p.mu.Unlock()
		return
	}

	p.runTransition(term, target)
}

func decideTransitionTarget(known bool, current Role, currentTerm Term, observed Role, observedTerm Term) (target Role, fire bool) {
	switch observed {
	case RoleLeader:
		if !known || current != RoleLeader || currentTerm != observedTerm {
			return RoleLeader, true
		}
		return current, false
	case RoleInactive:
		if known && current == RoleInactive {
			return current, false
		}
		return RoleInactive, true
	default:
		if !known || current == RoleLeader {
			return RoleFollower, true
		}
		return current, false
	}
}

// runTransition executes the chosen transition synchronously on the
// partition actor's goroutine. Because every triggering input (role
// change, admin call, replication signal) is itself delivered through
// p.act.Submit, the actor's own FIFO ordering is what guarantees two
// transitions for this partition never overlap: a role-change event that
// arrives while this call is still running simply waits in the actor's
// queue behind it.
func (p *Actor) runTransition(term Term, target Role) {
	timer := metrics.NewTimer()
	var err error
	switch target {
	case RoleLeader:
		err = p.transition.ToLeader(context.Background(), term)
	case RoleFollower:
		err = p.transition.ToFollower(context.Background(), term)
	case RoleInactive:
		err = p.transition.ToInactive(context.Background())
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.PartitionTransitionsTotal.WithLabelValues(target.String(), outcome).Inc()
	timer.ObserveDurationVec(metrics.PartitionTransitionDuration, target.String())
	metrics.RaftTerm.WithLabelValues(p.ctx.PartitionID).Set(float64(term))

	if err == nil {
		p.mu.Lock()
		p.currentRole = target
		p.roleKnown = true
		p.currentTerm = term
		p.mu.Unlock()
		p.reportHealth()
		return
	}

	p.handleTransitionFailure(term, target, err)
	p.reportHealth()
}

// handleTransitionFailure applies the recovery rule for err's kind. An
// Unrecoverable error retires the partition for good: it's marked dead,
// forced to Inactive, and the Raft server is told to go inactive too, but
// the process itself stays up to keep serving its other partitions. Any
// other kind is treated as worth one corrective nudge to the Raft
// collaborator (StepDown from a failed Leader transition, GoInactive from
// a failed Follower or Inactive transition) unless term is already stale,
// in which case a newer role-change event has superseded this one and
// there's nothing to correct.
func (p *Actor) handleTransitionFailure(term Term, target Role, err error) {
	logger := p.log.With().Str("target_role", target.String()).Logger()
	kind, _ := brokererr.KindOf(err)

	if kind == brokererr.Unrecoverable {
		logger.Error().Err(err).Msg("unrecoverable failure during partition transition, retiring partition")
		p.retire(logger, err.Error())
		return
	}

	logger.Warn().Err(err).Msg("recoverable failure during partition transition")

	if term != p.ctx.Raft.CurrentTerm() {
		logger.Debug().Msg("stale-term transition failure, ignoring")
		return
	}

	switch target {
	case RoleLeader:
		if serr := p.ctx.Raft.StepDown(); serr != nil {
			logger.Warn().Err(serr).Msg("step_down after recoverable leader-transition failure also failed")
		}
	case RoleFollower, RoleInactive:
		if serr := p.ctx.Raft.GoInactive(); serr != nil {
			logger.Warn().Err(serr).Msg("go_inactive after recoverable transition failure also failed")
		}
	}
}

// retire marks the partition permanently dead, forces it to Inactive, and
// tells the Raft collaborator to go inactive too. The process stays up to
// keep serving other partitions. reason is recorded on the health monitor
// unless it is already Dead (a health-monitor failure callback reaching
// here has already done that itself).
func (p *Actor) retire(logger zerolog.Logger, reason string) {
	p.mu.Lock()
	p.dead = true
	p.mu.Unlock()

	if p.ctx.Health != nil && p.ctx.Health.State() != health.Dead {
		p.ctx.Health.MarkDead(reason)
	}
	if ierr := p.transition.ToInactive(context.Background()); ierr != nil {
		logger.Warn().Err(ierr).Msg("forced transition to inactive during retirement also failed")
	}
	p.mu.Lock()
	p.currentRole = RoleInactive
	p.roleKnown = true
	p.mu.Unlock()

	if rerr := p.ctx.Raft.GoInactive(); rerr != nil {
		logger.Warn().Err(rerr).Msg("go_inactive during retirement also failed")
	}
}

// partitionComponentName is the name this partition reports its own
// contributed health signal under.
func partitionComponentName(partitionID string) string {
	return "partition-" + partitionID
}

// reportHealth pushes the partition's own contributed health signal,
// driven by "services installed" (a role-dependent service set is
// currently live) and "disk space available" (the last disk-space
// callback observed).
func (p *Actor) reportHealth() {
	if p.ctx.Health == nil {
		return
	}

	p.mu.Lock()
	servicesInstalled := p.roleKnown && p.currentRole != RoleInactive
	diskSpaceAvailable := p.diskSpaceAvailable
	p.mu.Unlock()

	healthy := servicesInstalled && diskSpaceAvailable
	message := ""
	if !healthy {
		switch {
		case !diskSpaceAvailable:
			message = "disk space below watermark"
		case !servicesInstalled:
			message = "no role-dependent services installed"
		}
	}
	p.ctx.Health.Update(partitionComponentName(p.ctx.PartitionID), healthy, message)
}

// handleDiskSpaceChange runs on the partition actor in response to the
// shared disk-space checker's available/not-available transitions. It
// pauses exporting while space is short, matching
// disk_usage_replication_watermark, and resumes it once space recovers.
func (p *Actor) handleDiskSpaceChange(available bool, message string) {
	p.mu.Lock()
	p.diskSpaceAvailable = available
	p.mu.Unlock()

	p.ctx.Paused.Exporting.Store(!available)
	if !available {
		p.log.Warn().Str("reason", message).Msg("disk space below watermark, pausing exporting")
	} else {
		p.log.Info().Msg("disk space recovered, resuming exporting")
	}
	p.reportHealth()
}

// handleHealthFailure runs on the partition actor in response to another
// registered component (or this partition's own contributed signal)
// reporting unhealthy. A Dead state is terminal for the whole node, so the
// partition retires itself exactly as it would an UnrecoverableError; any
// other failing component is logged but doesn't force a transition, since
// the health monitor, not the partition, owns deciding what counts as
// node-wide fatal.
func (p *Actor) handleHealthFailure(state health.State, name, message string) {
	p.mu.Lock()
	dead := p.dead
	p.mu.Unlock()
	if dead {
		return
	}

	logger := p.log.With().Str("failed_component", name).Logger()
	if state != health.Dead {
		logger.Warn().Str("message", message).Msg("health monitor reported a failing component")
		return
	}

	logger.Error().Str("message", message).Msg("health monitor reported dead, retiring partition")
	p.retire(logger, message)
}

func (p *Actor) handleSnapshotReplicationStarted() {
	p.mu.Lock()
	current := p.currentRole
	p.mu.Unlock()
	if current != RoleFollower {
		return
	}

	if err := p.transition.ToInactive(context.Background()); err != nil {
		p.log.Warn().Err(err).Msg("transition to inactive for snapshot replication failed")
		return
	}
	p.mu.Lock()
	p.currentRole = RoleInactive
	p.roleKnown = true
	p.mu.Unlock()
}

func (p *Actor) handleSnapshotReplicationCompleted() {
	p.mu.Lock()
	current := p.currentRole
	p.mu.Unlock()
	if current != RoleInactive {
		return
	}

	term := p.ctx.Raft.CurrentTerm()
	if err := p.transition.ToFollower(context.Background(), term); err != nil {
		p.log.Warn().Err(err).Msg("transition back to follower after snapshot replication failed")
		return
	}
	p.mu.Lock()
	p.currentRole = RoleFollower
	p.currentTerm = term
	p.roleKnown = true
	p.mu.Unlock()
}
