package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/warp/points-park/advice"
	"github.com/warp/points-park/api"
	"github.com/warp/points-park/catalog"
	"github.com/warp/points-park/cue"
	"github.com/warp/points-park/metrics"
	"github.com/warp/points-park/repository"
	"github.com/warp/points-park/service"
)

const shutdownTimeout = 30 * time.Second

// =============================================================================
// serve
// =============================================================================

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "HTTP port (overrides PORT and config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(reg)

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	repo := repository.New(store,
		repository.WithLogger(logger.Named("repository")),
		repository.WithRecorder(rec))

	park := service.New(repo,
		service.WithAdvice(newAdvice(ctx, rec)),
		service.WithCues(cue.Log{Logger: logger.Named("cue")}),
		service.WithRecorder(rec),
		service.WithLogger(logger.Named("park")),
		service.WithAdminPassword(cfg.Admin.Password))

	handler := api.NewHandler(park, logger.Named("api"), cfg.Icons.BudgetBytes)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Gatherer:       reg,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Requests arriving before the load completes get 503 from /healthz and
	// the mutating routes.
	g.Go(func() error {
		return repo.Open(gctx)
	})

	g.Go(func() error {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("driver", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if cerr := repo.Close(); cerr != nil {
		logger.Error("repository close reported errors", zap.Error(cerr))
	}
	if err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// newAdvice builds the advice service. Without an API key, or when the
// client cannot be created, it serves the fixed fallback text.
func newAdvice(ctx context.Context, rec metrics.Recorder) *advice.Service {
	log := logger.Named("advice")
	var gen advice.Generator
	if cfg.Advice.APIKey != "" {
		client, err := advice.NewGenAI(ctx, cfg.Advice.APIKey, cfg.Advice.Model)
		if err != nil {
			log.Warn("advice disabled", zap.Error(err))
		} else {
			gen = client
		}
	}
	return advice.NewService(gen,
		advice.WithLimit(rate.Limit(cfg.Advice.RatePerMinute/60), cfg.Advice.Burst),
		advice.WithLogger(log),
		advice.WithRecorder(rec))
}

// =============================================================================
// export / import-legacy
// =============================================================================

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print every collection as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		data, err := repo.Export()
		if err != nil {
			return err
		}
		if exportOut == "" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		logger.Info("export written", zap.String("path", exportOut))
		return nil
	},
}

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy <file>",
	Short: "Replace collections from a browser local-storage dump",
	Long: `Reads a JSON object keyed by the browser storage names (fp_users,
fp_actions, fp_shop, fp_theme_id) or the server collection names, and
replaces each collection it finds. Unrecognised keys are reported and
left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open dump: %w", err)
		}
		defer f.Close()

		repo, err := openRepository(cmd.Context())
		if err != nil {
			return err
		}

		report, err := repo.ImportLegacy(cmd.Context(), f)
		if cerr := repo.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to file instead of stdout")
}

// openRepository opens the configured store for a one-shot command.
func openRepository(ctx context.Context) (*repository.Repository, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	repo := repository.New(store, repository.WithLogger(logger.Named("repository")))
	if err := repo.Open(ctx); err != nil {
		return nil, err
	}
	if repo.Degraded() {
		_ = repo.Close()
		return nil, fmt.Errorf("store %s unavailable", cfg.Store.Driver)
	}
	return repo, nil
}

// =============================================================================
// themes
// =============================================================================

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "List the theme catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPRIMARY\tBACKGROUND")
		for _, t := range catalog.Themes() {
			id := t.ID
			if id == catalog.DefaultThemeID {
				id += " (default)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, t.Name, t.Primary, t.Bg)
		}
		return w.Flush()
	},
}
