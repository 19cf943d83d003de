package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/brokerd/pkg/actor"
	"github.com/cuemby/brokerd/pkg/config"
	"github.com/cuemby/brokerd/pkg/gateway"
	"github.com/cuemby/brokerd/pkg/health"
	"github.com/cuemby/brokerd/pkg/kvstore"
	"github.com/cuemby/brokerd/pkg/log"
	"github.com/cuemby/brokerd/pkg/metrics"
	"github.com/cuemby/brokerd/pkg/partition"
	"github.com/cuemby/brokerd/pkg/raftpartition"
	"github.com/cuemby/brokerd/pkg/snapshotstore"
	"github.com/cuemby/brokerd/pkg/startup"
	"github.com/cuemby/brokerd/pkg/statecontroller"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one or more partitions of the broker",
	Long: `serve bootstraps a fixed number of single-node Raft partitions in
this process, each with its own local database and snapshot store, and
runs until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a YAML configuration file (recognized options only; unknown keys are rejected)")
	serveCmd.Flags().String("node-id", "node-1", "This node's identity, used as a prefix for each partition's Raft server ID")
	serveCmd.Flags().String("data-dir", "./brokerd-data", "Root directory for partition runtime and snapshot state")
	serveCmd.Flags().Int("partitions", 1, "Number of partitions to run in this process")
	serveCmd.Flags().String("raft-bind-host", "127.0.0.1", "Host each partition's Raft transport binds to")
	serveCmd.Flags().Int("raft-base-port", 8300, "Partition p binds Raft on raft-base-port+p")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics and /healthz HTTP endpoints")
	serveCmd.Flags().String("gateway-addr", "127.0.0.1:9091", "Address for the gateway_enabled gRPC health service")

	rootCmd.AddCommand(serveCmd)
}

// runServe builds the process-wide bring-up as a startup.Process — the same
// ordered, reversible step framework the partition actor uses for its own
// bring-up — rather than a bespoke sequence of manual teardown calls: disk
// monitoring, the metrics/healthz HTTP server, the optional gateway_enabled
// seam, every configured partition, and finally the metrics collector, each
// unwound in reverse on the first failure or on interrupt.
func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	nodeID, _ := cmd.Flags().GetString("node-id")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	numPartitions, _ := cmd.Flags().GetInt("partitions")
	raftHost, _ := cmd.Flags().GetString("raft-bind-host")
	raftBasePort, _ := cmd.Flags().GetInt("raft-base-port")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	gatewayAddr, _ := cmd.Flags().GetString("gateway-addr")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	monitor := health.NewMonitor(Version)
	scheduler := actor.NewScheduler()

	process := startup.New("brokerd", buildServeSteps(serveDeps{
		cfg:           cfg,
		monitor:       monitor,
		scheduler:     scheduler,
		nodeID:        nodeID,
		dataDir:       dataDir,
		numPartitions: numPartitions,
		raftHost:      raftHost,
		raftBasePort:  raftBasePort,
		metricsAddr:   metricsAddr,
		gatewayAddr:   gatewayAddr,
	})...)

	if _, err := process.Startup(context.Background()); err != nil {
		return err
	}

	log.Logger.Info().Int("partitions", numPartitions).Str("metrics_addr", metricsAddr).Msg("brokerd serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	process.Shutdown(context.Background())
	return nil
}

// serveDeps collects runServe's flags and collaborators so buildServeSteps
// doesn't thread a dozen parameters through each Step closure individually.
type serveDeps struct {
	cfg       config.Config
	monitor   *health.Monitor
	scheduler actor.Scheduler

	nodeID        string
	dataDir       string
	numPartitions int
	raftHost      string
	raftBasePort  int
	metricsAddr   string
	gatewayAddr   string
}

// buildServeSteps returns the ordered step list for the process-wide
// startup.Process: disk-usage monitoring, the metrics/healthz HTTP server,
// the optional gateway seam (via gateway.NewStep, omitted entirely when
// gateway_enabled is false), every partition, and finally the metrics
// collector polling all of them.
func buildServeSteps(d serveDeps) []startup.Step {
	steps := []startup.Step{
		diskUsageStep(d),
		metricsServerStep(d),
	}

	if gw := gateway.NewStep(d.cfg.GatewayEnabled, d.gatewayAddr, d.monitor); gw != nil {
		steps = append(steps, *gw)
	}

	source := &multiPartitionSource{}
	steps = append(steps, partitionsStep(d, source), metricsCollectorStep(source))
	return steps
}

// multiPartitionSource implements metrics.Source for a node hosting several
// partitions by concatenating each partition.Actor's own single-element
// PartitionSnapshots() slice. set is called once by partitionsStep's
// Startup after every partition is up; reads and the one write never
// overlap in practice, but both go through the mutex since a Shutdown
// racing a slow Collector tick is possible.
type multiPartitionSource struct {
	mu     sync.Mutex
	actors []*partition.Actor
}

func (s *multiPartitionSource) set(actors []*partition.Actor) {
	s.mu.Lock()
	s.actors = actors
	s.mu.Unlock()
}

func (s *multiPartitionSource) PartitionSnapshots() []metrics.PartitionSnapshot {
	s.mu.Lock()
	actors := s.actors
	s.mu.Unlock()

	var out []metrics.PartitionSnapshot
	for _, a := range actors {
		out = append(out, a.PartitionSnapshots()...)
	}
	return out
}

func metricsCollectorStep(source *multiPartitionSource) startup.Step {
	collector := metrics.NewCollector(source)
	return startup.Step{
		Name: "metrics_collector",
		Startup: func(ctx context.Context) (context.Context, error) {
			collector.Start()
			return ctx, nil
		},
		Shutdown: func(ctx context.Context) (context.Context, error) {
			collector.Stop()
			return ctx, nil
		},
	}
}

func diskUsageStep(d serveDeps) startup.Step {
	var cancel context.CancelFunc

	return startup.Step{
		Name: "disk_usage_monitor",
		Startup: func(ctx context.Context) (context.Context, error) {
			if !d.cfg.DiskUsageMonitoringEnabled {
				return ctx, nil
			}
			checkerCtx, c := context.WithCancel(context.Background())
			cancel = c
			checker := health.NewDiskSpaceChecker(d.dataDir, 1-d.cfg.DiskUsageReplicationWatermark)
			go d.monitor.RunChecker(checkerCtx, health.DiskUsageComponent, checker, health.DefaultConfig())
			return ctx, nil
		},
		Shutdown: func(ctx context.Context) (context.Context, error) {
			if cancel != nil {
				cancel()
			}
			return ctx, nil
		},
	}
}

func metricsServerStep(d serveDeps) startup.Step {
	var srv *http.Server

	return startup.Step{
		Name: "metrics_server",
		Startup: func(ctx context.Context) (context.Context, error) {
			srv = startHTTPServer(d.metricsAddr, d.monitor)
			return ctx, nil
		},
		Shutdown: func(ctx context.Context) (context.Context, error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return ctx, nil
		},
	}
}

// partitionsStep brings up every configured partition's single-node Raft
// group and wires it into a partition.Actor. On a failure partway through,
// it tears down the partitions it already started itself before returning
// the error, since the overall Process only unwinds steps that completed
// Startup entirely. On success it publishes the final actor list to source
// so the metrics collector step can poll them.
func partitionsStep(d serveDeps, source *multiPartitionSource) startup.Step {
	var actors []*partition.Actor
	var closers []func()

	return startup.Step{
		Name: "partitions",
		Startup: func(ctx context.Context) (context.Context, error) {
			for i := 0; i < d.numPartitions; i++ {
				partitionID := fmt.Sprintf("%d", i)
				raftBindAddr := fmt.Sprintf("%s:%d", d.raftHost, d.raftBasePort+i)

				pact, closeRaft, err := newPartitionActor(partitionID, d.nodeID, d.dataDir, raftBindAddr, d.monitor, d.scheduler, d.cfg)
				if err != nil {
					shutdownPartitions(actors, closers)
					return ctx, fmt.Errorf("build partition %s: %w", partitionID, err)
				}

				if err := pact.Start(context.Background()); err != nil {
					closeRaft()
					shutdownPartitions(actors, closers)
					return ctx, fmt.Errorf("start partition %s: %w", partitionID, err)
				}

				actors = append(actors, pact)
				closers = append(closers, closeRaft)
			}
			source.set(actors)
			return ctx, nil
		},
		Shutdown: func(ctx context.Context) (context.Context, error) {
			source.set(nil)
			shutdownPartitions(actors, closers)
			return ctx, nil
		},
	}
}

func shutdownPartitions(actors []*partition.Actor, closers []func()) {
	for i := len(actors) - 1; i >= 0; i-- {
		actors[i].Close(context.Background())
		closers[i]()
	}
}

// newPartitionActor bootstraps a single-node Raft group for one partition
// and wires it into a partition.Actor. There is no cross-process snapshot
// transfer or record-application pipeline in scope here (spec Non-goals),
// so both the exporter position and the snapshot director's lower bound
// fall back to the partition's own applied position (pact.AppliedPosition):
// the stream processor step's committed-entry bookkeeping, rather than a
// literal stand-in, so compaction still tracks what this partition has
// actually processed.
func newPartitionActor(partitionID, nodeID, dataDir, raftBindAddr string, monitor *health.Monitor, scheduler actor.Scheduler, cfg config.Config) (*partition.Actor, func(), error) {
	partitionDir := filepath.Join(dataDir, "partitions", partitionID)
	raftDir := filepath.Join(partitionDir, "raft")
	runtimeDir := filepath.Join(partitionDir, "runtime")
	snapshotDir := filepath.Join(partitionDir, "snapshots")

	if err := os.MkdirAll(raftDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create raft directory: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	serverID := raft.ServerID(fmt.Sprintf("%s-p%s", nodeID, partitionID))
	raftConfig.LocalID = serverID
	raftConfig.Logger = hclog.New(&hclog.LoggerOptions{Name: "raft-" + partitionID, Level: hclog.Warn})

	addr, err := net.ResolveTCPAddr("tcp", raftBindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve raft address: %w", err)
	}
	transport, err := raft.NewTCPTransport(raftBindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapStore, err := raft.NewFileSnapshotStore(raftDir, 3, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create raft stable store: %w", err)
	}

	fsm := raftpartition.NewFSM()
	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft node: %w", err)
	}

	bootstrapFuture := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: serverID, Address: transport.LocalAddr()}},
	})
	if err := bootstrapFuture.Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, nil, fmt.Errorf("bootstrap raft cluster: %w", err)
	}

	adapter := raftpartition.NewAdapter(r, logStore, serverID, fsm, log.WithPartition(partitionID))

	snapStoreHandle, err := snapshotstore.Open(snapshotDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot store: %w", err)
	}

	// pact is assigned below, after the partition.Actor that owns the
	// stream processor step exists; ExporterPosition is only ever invoked
	// later, during a take_transient_snapshot call, by which point it's set.
	var pact *partition.Actor

	controller := statecontroller.New(statecontroller.Config{
		PartitionID: partitionID,
		RuntimeDir:  runtimeDir,
		DBFactory:   kvstore.NewBoltFactory(),
		Store:       snapStoreHandle,
		EntrySupplier: func(position int64) (statecontroller.IndexedEntry, bool) {
			entry, ok := adapter.EntryAtPosition(raftpartition.Position(position))
			if !ok {
				return statecontroller.IndexedEntry{}, false
			}
			return statecontroller.IndexedEntry{Index: entry.Index, Term: uint64(entry.Term)}, true
		},
		ExporterPosition: func(kvstore.DB) int64 {
			if pact == nil {
				return 0
			}
			return pact.AppliedPosition()
		},
		Scheduler: scheduler,
	})

	pc := &partition.Context{
		PartitionID:    partitionID,
		Raft:           adapter,
		Controller:     controller,
		Health:         monitor,
		Scheduler:      scheduler,
		SnapshotPeriod: cfg.SnapshotPeriod,
	}
	pc.LowerBoundPosition = func() int64 {
		if pact == nil {
			return 0
		}
		return pact.AppliedPosition()
	}

	pact = partition.NewActor(pc)
	closeRaft := func() {
		adapter.Close()
		_ = r.Shutdown().Error()
		_ = logStore.Close()
		_ = stableStore.Close()
		_ = transport.Close()
	}
	return pact, closeRaft, nil
}

func startHTTPServer(addr string, monitor *health.Monitor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", monitor.HTTPHandler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}
