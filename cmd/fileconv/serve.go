// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/fileconv/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve starts the HTTP API for a single transfer: select a file, pick a
format, convert, follow progress over a websocket, and download the result.
SIGINT or SIGTERM shuts down gracefully: in-flight requests finish, the
current attempt is cancelled, and storage connections are closed.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from config, :8080)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background(), cfg, loadedSecrets)
	if err != nil {
		return err
	}

	m := a.newMachine()
	srv := server.New(m, cfg.Server, slog.Default())

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": srv.Shutdown,
			"transfer": func(ctx context.Context) error {
				if err := m.Close(); err != nil {
					return err
				}
				return a.Close()
			},
		},
	)

	select {
	case err := <-errc:
		m.Close()
		a.Close()
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case code := <-wait:
		slog.Info("fileconv exited", "code", code)
		os.Exit(code)
	}
	return nil
}
