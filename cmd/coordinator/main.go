// Command coordinator runs the rendezvous point of a shufflestore group:
// nodes register to receive ranks, poll for the complete group, and are
// told to abort when a peer is lost.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dreamware/shufflestore/internal/config"
	"github.com/dreamware/shufflestore/internal/logging"
)

var logger = logrus.WithField("module", "coordinator")

func appExit(err error) {
	logrus.WithError(err).Error("app exit")
	os.Exit(1)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		appExit(err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	v := config.New()

	cmd := &cobra.Command{
		Use:           "coordinator",
		Short:         "assign ranks to shufflestore nodes and watch their health",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			if err := conf.ValidateCoordinator(); err != nil {
				return err
			}
			if err := logging.Init(conf.Log, "coordinator.log"); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, conf)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&configPath, "conf", "c", "", "path of the configuration file")
	fs.String("listen", ":8080", "address to listen on")
	fs.Int("world", 1, "number of ranks in the group")
	fs.Duration("health-interval", 5*time.Second, "interval between node health checks")
	fs.String("log-level", "info", "log level")
	fs.String("log-path", "", "directory for rotated log files; stderr if empty")
	if err := config.BindFlags(v, fs, map[string]string{
		"listen":          "coordinator.listen",
		"world":           "coordinator.world_size",
		"health-interval": "coordinator.health_interval",
		"log-level":       "log.level",
		"log-path":        "log.path",
	}); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, conf *config.Config) error {
	srv, err := newServer(ctx, conf.Coordinator.WorldSize, conf.Coordinator.HealthInterval)
	if err != nil {
		return err
	}
	defer srv.close()

	httpSrv := &http.Server{
		Addr:              conf.Coordinator.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   conf.Coordinator.Listen,
			"world":  conf.Coordinator.WorldSize,
			"run_id": srv.registry.RunID(),
		}).Info("coordinator listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Info("coordinator stopped")
	return nil
}
