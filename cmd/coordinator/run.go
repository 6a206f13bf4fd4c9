package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dreamware/herd/internal/config"
	"github.com/dreamware/herd/internal/coordinator"
	"github.com/dreamware/herd/internal/jobs"
	"github.com/dreamware/herd/internal/logger"
	"github.com/dreamware/herd/internal/transport"
	"github.com/dreamware/herd/internal/transport/natsbus"
	"github.com/dreamware/herd/internal/transport/tcp"
)

// Create the run command
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the coordinator until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("listen"); v != "" {
				cfg.Coordinator.ListenURI = v
			}
			if v, _ := cmd.Flags().GetString("platform"); v != "" {
				cfg.Coordinator.Platform = v
			}
			if cmd.Flags().Changed("status") {
				cfg.Coordinator.StatusAddr, _ = cmd.Flags().GetString("status")
			}
			if v, _ := cmd.Flags().GetString("delivery"); v != "" {
				cfg.Coordinator.Delivery = v
			}
			if v, _ := cmd.Flags().GetString("ledger"); v != "" {
				cfg.Coordinator.LedgerPath = v
			}
			if cmd.Flags().Changed("idle-timeout") {
				cfg.Coordinator.IdleTimeout, _ = cmd.Flags().GetDuration("idle-timeout")
			}
			return runCoordinator(cmd.Context(), cfg.Coordinator, logger.GetLogger(), nil)
		},
	}
	cmd.Flags().String("listen", "", "address to listen on for resources (tcp://host:port or nats://host:port)")
	cmd.Flags().String("platform", "", "platform we are running on, or AUTO for automatic discovery")
	cmd.Flags().String("status", "", "address for the HTTP status view; empty disables it")
	cmd.Flags().String("delivery", "", "event delivery: callback or queued")
	cmd.Flags().String("ledger", "", "SQLite file for the job ledger; in memory when unset")
	cmd.Flags().Duration("idle-timeout", 0, "close TCP connections silent for this long; 0 keeps them open")
	return cmd
}

// newTransport picks the transport variant for the listen URI scheme.
func newTransport(cfg config.Coordinator, log zerolog.Logger) (transport.Transport, error) {
	scheme, err := config.ListenScheme(cfg.ListenURI)
	if err != nil {
		return nil, err
	}
	delivery, err := transport.ParseDelivery(cfg.Delivery)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case tcp.Scheme:
		return tcp.New(tcp.Options{Delivery: delivery, IdleTimeout: cfg.IdleTimeout, Logger: log}), nil
	case natsbus.Scheme:
		return natsbus.New(natsbus.Options{
			Subject:  cfg.NATSSubject,
			Queue:    cfg.NATSQueue,
			Delivery: delivery,
			Logger:   log,
		}), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnsupportedScheme, scheme)
}

func openLedger(path string) (jobs.Ledger, error) {
	if path == "" {
		return jobs.NewMemoryLedger(), nil
	}
	return jobs.OpenSQLite(path)
}

// process is what a started coordinator process exposes to its caller.
type process struct {
	coordinator *coordinator.Coordinator
	transport   transport.Transport
	statusAddr  net.Addr // nil when the status view is disabled
}

// runCoordinator runs one coordinator process until a signal arrives or
// ctx is cancelled. Configuration and startup failures are returned;
// everything after startup is logged. ready, when not nil, is called once
// the transport and status view are serving.
func runCoordinator(ctx context.Context, cfg config.Coordinator, log zerolog.Logger, ready func(process)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	platform, err := config.ResolvePlatform(cfg.Platform, runtime.GOOS)
	if err != nil {
		return err
	}

	tr, err := newTransport(cfg, log)
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	c, err := coordinator.New(coordinator.Options{
		Transport:    tr,
		Ledger:       ledger,
		Logger:       log,
		ListenURI:    cfg.ListenURI,
		WaitInterval: cfg.WaitInterval,
		ErrorBackoff: cfg.ErrorBackoff,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("listen", cfg.ListenURI).
		Str("platform", platform).
		Str("uuid", c.ID().String()).
		Msg("coordinator starting")

	bridge := coordinator.WatchSignals(c)
	defer bridge.Stop()

	if err := c.Start(ctx); err != nil {
		return err
	}

	monitor := coordinator.NewLivenessMonitor(c.Registry(), cfg.LivenessInterval, cfg.StaleAfter, log)
	monitor.SetOnStale(c.ResourceStale)
	go monitor.Start(ctx)
	defer monitor.Stop()

	var statusAddr net.Addr
	if cfg.StatusAddr != "" {
		ln, err := net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			c.Shutdown("status view failed to start")
			return fmt.Errorf("status view on %s: %w", cfg.StatusAddr, err)
		}
		statusAddr = ln.Addr()

		httpSrv := &http.Server{
			Handler:           newStatusServer(c, monitor, cfg.ListenURI).routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", statusAddr.String()).Msg("status view listening")
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status view stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	if ready != nil {
		ready(process{coordinator: c, transport: tr, statusAddr: statusAddr})
	}
	return c.Run(ctx)
}
