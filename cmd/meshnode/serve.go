package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-network/internal/api"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the mesh node's HTTP API and background job dispatch loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cfg, err := bootstrapRuntime()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := rt.Start(ctx); err != nil {
				return err
			}
			defer rt.Shutdown()

			srv := api.NewServer(rt, api.ServerConfig{
				APIKey:          cfg.API.APIKey,
				RateLimitPerSec: cfg.API.RateLimitPerSec,
			}, logrus.StandardLogger())

			addr := cfg.API.ListenAddr
			if addr == "" {
				addr = ":8080"
			}
			httpSrv := &http.Server{Addr: addr, Handler: srv}

			go func() {
				logrus.WithField("addr", addr).Info("meshnode: serving HTTP API")
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logrus.WithError(err).Error("meshnode: http server stopped")
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logrus.Info("meshnode: shutting down")
			return httpSrv.Shutdown(context.Background())
		},
	}
}
