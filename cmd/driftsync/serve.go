package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon: HTTP API plus the periodic scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go rt.scheduler.Run(ctx)

		server := &http.Server{
			Addr: rt.cfg.Server.Addr,
			Handler: httpapi.NewServerWithConfig(rt.engine, rt.hub, httpapi.ServerConfig{
				JWTSecret:       rt.cfg.Server.JWTSecret,
				RateLimitMax:    rt.cfg.Server.RateLimitMax,
				RateLimitWindow: rt.cfg.Server.RateLimitWindow,
				MaxBodyBytes:    rt.cfg.Server.MaxBodyBytes,
			}),
		}
		go func() {
			<-ctx.Done()
			_ = server.Shutdown(context.Background())
		}()

		rt.logger.Printf("driftsync listening on %s", rt.cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
