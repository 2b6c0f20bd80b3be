// migrate applies the embedded SQL migrations; run with go run ./cmd/migrate -direction up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-charity/auth-server/internal/config"
	"github.com/go-charity/auth-server/internal/db/migrate"
	"github.com/go-charity/auth-server/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	// Read, not Load: migrations only need DATABASE_URL, not token secrets.
	cfg, err := config.Read()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		log.Error(ctx, "invalid direction", "error", err)
		os.Exit(2)
	}
	if err := migrate.Run(ctx, cfg.DatabaseURL, dir, log); err != nil {
		log.Error(ctx, "migrate failed", "error", err)
		os.Exit(1)
	}
}
