package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/ingestengine/internal/config"
	"github.com/cuemby/ingestengine/pkg/engine"
	"github.com/cuemby/ingestengine/pkg/governor"
	"github.com/cuemby/ingestengine/pkg/index"
	"github.com/cuemby/ingestengine/pkg/log"
	"github.com/cuemby/ingestengine/pkg/metrics"
	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ingestengine",
	Short:   "Reference ingestion engine: resolve, fetch, verify, store",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ingestengine version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "./ingestengine.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(observeCmd)
	rootCmd.AddCommand(deadLetterCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// loadEngineConfig reads --config, opens the optional Governor snapshot
// store, and returns an engine.Config plus a closer for that store (a no-op
// if no snapshot path was configured).
func loadEngineConfig(cmd *cobra.Command) (engine.Config, func() error, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return engine.Config{}, nil, err
	}

	ecfg := cfg.ToEngineConfig()
	closer := func() error { return nil }
	if cfg.Governor.SnapshotPath != "" {
		store, err := governor.OpenBoltStore(cfg.Governor.SnapshotPath)
		if err != nil {
			return engine.Config{}, nil, fmt.Errorf("open governor snapshot store: %w", err)
		}
		ecfg.Governor.Snapshot = store
		closer = store.Close
	}
	return ecfg, closer, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion engine: scheduler, governor, and all wired components",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.WithComponent("cmd")

		ecfg, closeSnapshot, err := loadEngineConfig(cmd)
		if err != nil {
			return err
		}
		defer closeSnapshot()

		e, err := engine.New(ecfg)
		if err != nil {
			return fmt.Errorf("build engine: %w", err)
		}

		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		logger.Info().Msg("engine started")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("index", true, "open")
		metrics.RegisterComponent("queue", true, "running")
		metrics.RegisterComponent("governor", true, "ready")

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("metrics and health endpoints listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)

		if err := e.Shutdown(shutdownCtx, 25*time.Second); err != nil {
			return fmt.Errorf("shutdown engine: %w", err)
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue URL",
	Short: "Enqueue a new Reference for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ecfg, closeSnapshot, err := loadEngineConfig(cmd)
		if err != nil {
			return err
		}
		defer closeSnapshot()

		kindFlag, _ := cmd.Flags().GetString("kind")
		priority, _ := cmd.Flags().GetInt("priority")

		canonical, err := types.Canonicalize(args[0])
		if err != nil {
			return fmt.Errorf("canonicalize url: %w", err)
		}

		idx, err := index.Open(ecfg.DBPath)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()

		now := time.Now().UTC()
		ref := types.Reference{
			ReferenceID:  uuid.NewString(),
			Kind:         types.Kind(kindFlag),
			SourceURL:    args[0],
			CanonicalURL: canonical,
			Host:         types.HostKey(canonical),
			Processable:  true,
			Priority:     priority,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		status, err := idx.Enqueue(context.Background(), ref, index.EnqueueOptions{Priority: priority, Deduplicate: true})
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}

		fmt.Printf("reference_id: %s\n", ref.ReferenceID)
		fmt.Printf("outcome: %s\n", status)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().String("kind", string(types.KindArticle), "Reference kind (article, podcast_episode, newsletter, document, generic_url)")
	enqueueCmd.Flags().Int("priority", 0, "Scheduling priority")
}

var observeCmd = &cobra.Command{
	Use:   "observe ID",
	Short: "Look up a Reference's current stage and attempt history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ecfg, closeSnapshot, err := loadEngineConfig(cmd)
		if err != nil {
			return err
		}
		defer closeSnapshot()

		idx, err := index.Open(ecfg.DBPath)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()

		ref, err := idx.Get(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("observe: %w", err)
		}

		fmt.Printf("reference_id:    %s\n", ref.ReferenceID)
		fmt.Printf("canonical_url:   %s\n", ref.CanonicalURL)
		fmt.Printf("stage:           %d\n", ref.Stage)
		fmt.Printf("processable:     %t\n", ref.Processable)
		fmt.Printf("attempts:        %d\n", ref.Attempts)
		if ref.FailureReason != "" {
			fmt.Printf("failure_reason:  %s\n", ref.FailureReason)
		}
		if ref.ContentHash != "" {
			fmt.Printf("content_hash:    %s\n", ref.ContentHash)
		}
		return nil
	},
}

var deadLetterCmd = &cobra.Command{
	Use:   "dead-letter",
	Short: "List references parked in the dead letter state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ecfg, closeSnapshot, err := loadEngineConfig(cmd)
		if err != nil {
			return err
		}
		defer closeSnapshot()

		idx, err := index.Open(ecfg.DBPath)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()

		dead, err := idx.ListDeadLetter(context.Background())
		if err != nil {
			return fmt.Errorf("list dead letter: %w", err)
		}

		if len(dead) == 0 {
			fmt.Println("no dead-lettered references")
			return nil
		}

		fmt.Printf("%-36s %-10s %-30s %s\n", "REFERENCE_ID", "ATTEMPTS", "REASON", "CANONICAL_URL")
		for _, ref := range dead {
			fmt.Printf("%-36s %-10d %-30s %s\n", ref.ReferenceID, ref.Attempts, ref.FailureReason, ref.CanonicalURL)
		}
		return nil
	},
}
