package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tutorials/backend/internal/bootstrap"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Connect to every configured dependency once and report health",
	Long: `Check connects to MongoDB, probes Redis and NATS when they are
configured, prints a JSON result to stdout and exits 0 when every
dependency is healthy or non-zero otherwise.`,
	RunE: runCheck,
}

type checkResult struct {
	Status       string                           `json:"status"`
	Error        string                           `json:"error,omitempty"`
	Dependencies map[string]bootstrap.ProbeResult `json:"dependencies,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	defer app.close()

	timeout := cfg.Mongo.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := app.mongo.Connect(ctx)
	if err != nil {
		printCheck(checkResult{Status: "error", Error: err.Error()})
		return fmt.Errorf("check failed: %w", err)
	}
	defer func() {
		if cerr := conn.Close(context.Background()); cerr != nil {
			slog.Warn("database disconnect failed", "err", cerr)
		}
	}()

	probes := app.health.RunDeepHealth(ctx)
	if !bootstrap.AllOK(probes) {
		printCheck(checkResult{Status: "error", Dependencies: probes})
		return errors.New("check completed with unhealthy dependencies")
	}

	printCheck(checkResult{Status: "ok", Dependencies: probes})
	slog.Info("all dependencies healthy", "count", len(probes))
	return nil
}

func printCheck(r checkResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		fmt.Fprintf(os.Stdout, `{"status":%q}`+"\n", r.Status)
	}
}
