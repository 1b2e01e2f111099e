package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/invoicepipe/invoicepipe/internal/common"
	"github.com/invoicepipe/invoicepipe/internal/joblog"
	"github.com/invoicepipe/invoicepipe/internal/llm/gemini"
	"github.com/invoicepipe/invoicepipe/internal/pipeline"
	"github.com/invoicepipe/invoicepipe/internal/store"
	"github.com/invoicepipe/invoicepipe/internal/vendorschema"
)

var (
	flagLogLevel string
	flagBackend  string
	flagRoot     string
	flagSchemas  string
	flagWorkers  int
	flagLedger   string
	flagForce    bool
)

func main() {
	root := &cobra.Command{
		Use:           "invoicepipe",
		Short:         "Invoice routing, extraction and evaluation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&flagBackend, "store", "", "store backend: local or minio (default from STORE_BACKEND)")
	pf.StringVar(&flagRoot, "root", "", "local store root directory (default from STORE_ROOT)")
	pf.StringVar(&flagSchemas, "schemas", "", "vendor schema registry YAML (default from SCHEMAS_PATH)")
	pf.IntVar(&flagWorkers, "workers", 0, "concurrent document workers (default from PIPELINE_WORKERS)")
	pf.StringVar(&flagLedger, "ledger", "", "job ledger sqlite path (default from LEDGER_PATH; empty = in-memory)")

	root.AddCommand(
		setupCmd(),
		routeCmd(),
		extractCmd(),
		evaluateCmd(),
		runCmd(),
		watchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env holds everything a command needs after wiring.
type env struct {
	svc    *pipeline.Service
	st     store.DocumentStore
	ledger *joblog.Ledger
	log    *slog.Logger
}

func (e *env) close() {
	if e.ledger != nil {
		if err := e.ledger.Close(); err != nil {
			e.log.Warn("joblog.close_error", "error", err)
		}
	}
}

func wire(ctx context.Context) (*env, error) {
	logger := common.NewLogger(flagLogLevel)

	cfg := common.LoadConfig()
	if flagBackend != "" {
		cfg.Store.Backend = flagBackend
	}
	if flagRoot != "" {
		cfg.Store.Root = flagRoot
	}
	if flagSchemas != "" {
		cfg.Pipeline.SchemasPath = flagSchemas
	}
	if flagWorkers > 0 {
		cfg.Pipeline.Workers = flagWorkers
	}
	if flagLedger != "" {
		cfg.Pipeline.LedgerPath = flagLedger
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg, err := vendorschema.Load(cfg.Pipeline.SchemasPath)
	if err != nil {
		return nil, err
	}
	logger.Info("schema registry loaded", "vendors", len(reg.Vendors()), "path", cfg.Pipeline.SchemasPath)

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	inf := gemini.NewClient(gemini.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	}, logger)

	ledger, err := joblog.Open(ctx, cfg.Pipeline.LedgerPath, logger)
	if err != nil {
		// the ledger only powers skip-on-rerun; run without it
		logger.Warn("job ledger unavailable, running without resume support", "error", err)
		ledger = nil
	}

	svc := pipeline.NewService(st, inf, reg, ledger, pipeline.Options{
		Workers:    cfg.Pipeline.Workers,
		DocTimeout: cfg.Pipeline.DocTimeout,
		Force:      flagForce,
	}, logger)

	return &env{svc: svc, st: st, ledger: ledger, log: logger}, nil
}

func openStore(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (store.DocumentStore, error) {
	switch cfg.Backend {
	case "minio":
		s, err := store.NewMinIO(cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return store.NewLocal(cfg.Root, logger)
	}
}

// signalContext cancels on SIGINT/SIGTERM so batches stop between documents.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printSummary(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the pipeline folder layout in the document store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			e, err := wire(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.svc.Setup(ctx); err != nil {
				return err
			}
			fmt.Println("layout ready: drop invoices in input_invoices/ and ground truth JSON in ground_truth/")
			return nil
		},
	}
}

func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route",
		Short: "Classify and move input invoices into vendor buckets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			e, err := wire(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			sum, err := e.svc.Route(ctx)
			if err != nil {
				return err
			}
			return printSummary(sum)
		},
	}
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract structured fields from sorted invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			e, err := wire(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			sum, err := e.svc.Extract(ctx)
			if err != nil {
				return err
			}
			return printSummary(sum)
		},
	}
	cmd.Flags().BoolVar(&flagForce, "force", false, "re-extract documents that already have a record")
	return cmd
}

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Score extracted records against ground truth and write reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			e, err := wire(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			sum, err := e.svc.Evaluate(ctx)
			if err != nil {
				return err
			}
			return printSummary(sum)
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Route, extract and evaluate in sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			e, err := wire(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			routeSum, err := e.svc.Route(ctx)
			if err != nil {
				return err
			}
			extractSum, err := e.svc.Extract(ctx)
			if err != nil {
				return err
			}
			evalSum, err := e.svc.Evaluate(ctx)
			if err != nil {
				return err
			}
			return printSummary(map[string]any{
				"route":    routeSum,
				"extract":  extractSum,
				"evaluate": evalSum,
			})
		},
	}
	cmd.Flags().BoolVar(&flagForce, "force", false, "re-extract documents that already have a record")
	return cmd
}

func watchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the local input area and route invoices as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			e, err := wire(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			local, ok := e.st.(*store.Local)
			if !ok {
				return fmt.Errorf("watch requires the local store backend")
			}
			keys, errs, err := local.WatchInput(ctx, store.WatchConfig{
				InitialScan: true,
				Debounce:    debounce,
			})
			if err != nil {
				return err
			}
			e.log.Info("watching input area")
			for {
				select {
				case <-ctx.Done():
					return nil
				case werr, ok := <-errs:
					if ok && werr != nil {
						e.log.Error("watch error", "error", werr)
					}
				case key, ok := <-keys:
					if !ok {
						return nil
					}
					if _, err := e.svc.RouteOne(ctx, key); err != nil {
						e.log.Error("route failed", "key", key, "error", err)
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "coalesce filesystem event bursts")
	return cmd
}
