// Command migrate applies the embedded schema migrations and exits.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/attriq/attriq/internal/infra/persistence"
)

func main() {
	url := flag.String("database-url", os.Getenv("ATTRIQ_DATABASE_URL"), "database URL to migrate")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *url == "" {
		logger.Error("database URL is required, set -database-url or ATTRIQ_DATABASE_URL")
		os.Exit(1)
	}

	if err := persistence.Migrate(*url); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")
}
