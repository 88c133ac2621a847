package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	wb "github.com/unkn0wn-root/writebehind"
	"github.com/unkn0wn-root/writebehind/config"
	"github.com/unkn0wn-root/writebehind/metrics"
)

const shutdownTimeout = time.Minute

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "writebehindd",
		Short:         "Flush partitioned write-behind queues into the durable store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/writebehind.yaml", "Path to config file")
	root.AddCommand(inspectCmd(&configPath))
	return root
}

func run(ctx context.Context, cfg config.Config) error {
	d, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	reg := prometheus.NewRegistry()
	mh, err := metrics.New(reg)
	if err != nil {
		return err
	}
	opts := d.options(cfg, mh)
	coord, err := wb.NewCoordinator(opts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if d.heartbeat != nil {
		if err := d.heartbeat.Heartbeat(ctx); err != nil {
			return fmt.Errorf("fleet join: %w", err)
		}
		g.Go(func() error { return d.heartbeat.Run(gctx) })
	}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.HandlerFor(reg))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if err := coord.Start(gctx); err != nil {
		return err
	}
	d.log.Info("writebehindd started", wb.Fields{"partitions": opts.Partitions})

	<-gctx.Done()
	d.log.Info("shutting down", nil)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := coord.Shutdown(sctx); err != nil {
		errs = append(errs, err)
	}
	if d.heartbeat != nil {
		if err := d.heartbeat.Leave(sctx); err != nil {
			errs = append(errs, fmt.Errorf("fleet leave: %w", err))
		}
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
