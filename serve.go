package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pharmacy-billing/internal/auth"
	billinghttp "pharmacy-billing/internal/billing/interfaces/http"
	"pharmacy-billing/internal/logging"
	"pharmacy-billing/internal/migrations"
)

var (
	serveMigrate bool
	serveSeed    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, outbox dispatcher and rollover scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply database migrations before serving")
	serveCmd.Flags().StringVar(&serveSeed, "seed", "", "YAML file with plans, subscriptions and cycles (memory driver only)")
}

func runServe(ctx context.Context) error {
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.cfg.ValidateServe(); err != nil {
		return err
	}

	if serveMigrate {
		if a.db == nil {
			return errors.New("--migrate requires the postgres store driver")
		}
		if err := migrations.Up(a.db); err != nil {
			return err
		}
	}
	if serveSeed != "" {
		if a.memory == nil {
			return errors.New("--seed requires the memory store driver")
		}
		if err := loadSeed(serveSeed, a.memory); err != nil {
			return err
		}
	}

	handler, err := billinghttp.NewHandler(billinghttp.Deps{
		Processor: a.engine,
		Events:    a.publisher,
		Usage:     a.usage,
		Rollover:  a.rollover,
		Audit:     a.audit,
		Currency:  a.cfg.Currency,
		Logger:    logging.Component("http"),
	})
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	handler.Register(router)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	guard := auth.NewMiddleware([]byte(a.cfg.JWTSecret), policy)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           billinghttp.AccessLog(logging.Component("http"))(guard.Wrap(router)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler, err := a.scheduler(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info().Str("addr", srv.Addr).Str("driver", a.cfg.StoreDriver).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := a.dispatcher.Run(gctx, a.cfg.Dispatch.Interval, a.cfg.Dispatch.Batch)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.logger.Info().Msg("shutdown complete")
	return err
}

// scheduler registers rollover and processed-event retention jobs.
func (a *app) scheduler(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	logger := logging.Component("scheduler")
	if _, err := c.AddFunc(a.cfg.Rollover.Schedule, func() {
		report, err := a.rollover.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("rollover run failed")
			return
		}
		logger.Info().
			Int("closed", len(report.Closed)).
			Int("skipped", len(report.Skipped)).
			Int("failed", len(report.Failed)).
			Msg("rollover run finished")
	}); err != nil {
		return nil, fmt.Errorf("rollover schedule %q: %w", a.cfg.Rollover.Schedule, err)
	}
	if a.purger != nil && a.cfg.Processed.Retention > 0 {
		retention := a.cfg.Processed.Retention
		if _, err := c.AddFunc("@hourly", func() {
			n, err := a.purger.PurgeBefore(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				logger.Warn().Err(err).Msg("processed events purge failed")
				return
			}
			if n > 0 {
				logger.Info().Int64("deleted", n).Msg("processed events purged")
			}
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}
