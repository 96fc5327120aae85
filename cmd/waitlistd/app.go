package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/pslog"
	"pkt.systems/waitlist"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("WAITLIST_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "waitlistd")

	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			baseLogger.Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg waitlist.Config

	cmd := &cobra.Command{
		Use:           "waitlistd",
		Short:         "waitlistd serializes conflicting operations against scoped resources on a fleet of servers",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Listen = viper.GetString("listen")
			cfg.ListenProto = viper.GetString("listen-proto")
			cfg.MetricsListen = viper.GetString("metrics-listen")
			cfg.Store = viper.GetString("store")
			cfg.SweepInterval = viper.GetDuration("sweep-interval")
			cfg.MaxTransitionsPerSweep = viper.GetInt("max-transitions-per-sweep")
			cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")

			srv, err := waitlist.NewServer(cfg, waitlist.WithLogger(baseLogger))
			if err != nil {
				return fmt.Errorf("new server: %w", err)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	flags := cmd.Flags()
	flags.String("listen", waitlist.DefaultListen, "HTTP listen address")
	flags.String("listen-proto", waitlist.DefaultListenProto, "listen network (tcp, tcp4, tcp6, unix)")
	flags.String("metrics-listen", waitlist.DefaultMetricsListen, "Prometheus metrics listen address (empty disables)")
	flags.String("store", waitlist.DefaultStore, "storage backend URL (mem:// is the only built-in scheme)")
	flags.Duration("sweep-interval", waitlist.DefaultSweepInterval, "director sweep cadence (T_sweep)")
	flags.Int("max-transitions-per-sweep", 0, "cap expire/promote writes per sweep (0 is unbounded)")
	flags.Duration("shutdown-timeout", waitlist.DefaultShutdownTimeout, "graceful shutdown timeout")

	names := []string{
		"listen", "listen-proto", "metrics-listen", "store", "sweep-interval",
		"max-transitions-per-sweep", "shutdown-timeout",
	}
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("WAITLIST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return cmd
}
