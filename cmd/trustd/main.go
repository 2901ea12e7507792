// Command trustd runs the multi-agent trust fusion service: it ingests
// agent and command-center messages over UDP, synchronizes them into
// batches, runs the trust pipeline, and publishes the resulting
// artifacts over gRPC, with optional SQLite persistence and an HTTP
// monitoring endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cpsl-research/trust-ros/internal/config"
	"github.com/cpsl-research/trust-ros/internal/fusion"
	"github.com/cpsl-research/trust-ros/internal/ingest"
	"github.com/cpsl-research/trust-ros/internal/monitor"
	"github.com/cpsl-research/trust-ros/internal/publish"
	"github.com/cpsl-research/trust-ros/internal/storage/sqlite"
	"github.com/cpsl-research/trust-ros/internal/transforms"
	"github.com/cpsl-research/trust-ros/internal/trust"
	"github.com/cpsl-research/trust-ros/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file (defaults apply when omitted)")
	verbose    = flag.Bool("verbose", false, "Enable per-batch diagnostics logging")
	dbPath     = flag.String("db", "", "SQLite database path (overrides config; empty disables persistence)")
)

func main() {
	flag.Parse()

	cfg := config.EmptyServiceConfig()
	if *configPath != "" {
		loaded, err := config.LoadServiceConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	verboseMode := cfg.GetVerbose() || *verbose
	if verboseMode {
		fusion.SetLogWriters(fusion.LogWriters{
			Ops:   os.Stderr,
			Diag:  os.Stderr,
			Trace: os.Stderr,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pose buffer fed by ingest, read by the frame resolver.
	poses := transforms.NewBuffer(cfg.GetPoseHistory())

	// Synchronizer over the 2N+1 input channels.
	synchronizer, err := fusion.NewStreamSynchronizer(fusion.SynchronizerConfig{
		Channels:   fusion.Channels(cfg.GetNAgents()),
		Slop:       cfg.GetSlop(),
		QueueSize:  cfg.GetQueueSize(),
		BatchQueue: cfg.GetBatchQueue(),
		StallAfter: cfg.GetStallAfter(),
	})
	if err != nil {
		log.Fatalf("Failed to create synchronizer: %v", err)
	}
	defer synchronizer.Close()

	// Trust model.
	estimator := trust.NewTrustEstimator(trust.EstimatorConfig{
		NAgents:      cfg.GetNAgents(),
		AssignRadius: cfg.GetAssignRadius(),
		AgentUpdater: trust.UpdaterConfig{
			PriorAlpha:   cfg.GetPriorAlpha(),
			PriorBeta:    cfg.GetPriorBeta(),
			TimeConstant: cfg.GetTrustTimeConstant(),
		},
		TrackUpdater: trust.UpdaterConfig{
			PriorAlpha:   cfg.GetPriorAlpha(),
			PriorBeta:    cfg.GetPriorBeta(),
			TimeConstant: cfg.GetTrustTimeConstant(),
		},
	})

	// Artifact sinks: gRPC publisher always, SQLite when configured.
	publisher := publish.NewPublisher(publish.Config{
		ListenAddr: cfg.GetPublishAddr(),
		MaxClients: cfg.GetMaxClients(),
	})
	if err := publisher.Start(); err != nil {
		log.Fatalf("Failed to start publisher: %v", err)
	}
	defer publisher.Stop()

	sinks := fusion.MultiSink{publisher}

	path := cfg.GetDBPath()
	if *dbPath != "" {
		path = *dbPath
	}
	var store *sqlite.TrustStore
	if path != "" {
		store, err = sqlite.NewTrustStore(path)
		if err != nil {
			log.Fatalf("Failed to open trust store at %s: %v", path, err)
		}
		defer store.Close()
		sinks = append(sinks, store)
		log.Printf("Persisting trust artifacts to %s", path)
	}

	scheduler := fusion.NewTrustPropagationScheduler(estimator, cfg.GetStrictOrdering())

	orchestrator, err := fusion.NewOrchestrator(fusion.OrchestratorConfig{
		Resolver:  fusion.NewFrameResolver(poses),
		Scheduler: scheduler,
		Model:     estimator,
		Sink:      sinks,
		Reporter:  fusion.NewDiagnosticsReporter(),
		Verbose:   verboseMode,
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// UDP ingest feeding the synchronizer and pose buffer.
	listener := ingest.NewUDPListener(ingest.UDPListenerConfig{
		Address:  cfg.GetIngestAddr(),
		RcvBuf:   cfg.GetIngestBuf(),
		Channels: synchronizer,
		Poses:    poses,
	})

	// Monitoring endpoint.
	var history monitor.TrustHistoryProvider
	if store != nil {
		history = store
	}
	monitorServer := monitor.NewServer(synchronizer, orchestrator, publisher, history)
	httpServer := &http.Server{
		Addr:    cfg.GetMonitorAddr(),
		Handler: monitor.LoggingMiddleware(monitorServer.ServeMux()),
	}

	errCh := make(chan error, 3)
	go func() {
		log.Printf("Monitor listening on %s", cfg.GetMonitorAddr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := listener.Start(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	go func() {
		if err := orchestrator.Run(ctx, synchronizer.Batches()); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	log.Printf("trustd %s (%s) running: %d agents, slop %s, ingest %s",
		version.Version, version.GitSHA,
		cfg.GetNAgents(), cfg.GetSlop(), cfg.GetIngestAddr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down", sig)
	case err := <-errCh:
		log.Printf("Fatal error: %v", err)
	}

	cancel()
	httpServer.Shutdown(context.Background())
}
