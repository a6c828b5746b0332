package cli

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dawgdevv/bitespeed/internal/config"
	"github.com/dawgdevv/bitespeed/internal/handlers"
)

func newServeCommand(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app, _ io.Writer) error {
				return serve(ctx, a)
			})
		},
	}
	cmd.Flags().String("port", "", "listen port (env PORT)")
	if err := v.BindPFlag("port", cmd.Flags().Lookup("port")); err != nil {
		panic(err)
	}
	return cmd
}

// serve listens until ctx is cancelled, then drains in-flight requests for
// up to the configured shutdown timeout.
func serve(ctx context.Context, a *app) error {
	identifyHandler := handlers.NewIdentifyHandler(a.service, a.log)
	router := handlers.NewRouter(identifyHandler, a.log, a.cfg.RequestTimeout)

	srv := &http.Server{
		Addr:    a.cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", srv.Addr, "config", a.cfg.ConfigFile)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.log.Error("server failed", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
