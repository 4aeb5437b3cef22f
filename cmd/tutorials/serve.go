package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to MongoDB and start the HTTP API on 0.0.0.0:3000",
	Long: `Serve runs the startup sequence: configure middleware, connect to
MongoDB, mount the tutorial routes and listen on 0.0.0.0:3000.

If the database cannot be reached the command exits non-zero without ever
opening the port. It shuts down cleanly on SIGTERM or SIGINT.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer app.close()

	return app.sequencer.Run(ctx)
}
