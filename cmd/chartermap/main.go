package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"chartermap/cmd/chartermap/commands"
	"chartermap/lib/osutil"
	"chartermap/lib/telemetry"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional, it usually only carries LIBSQL_AUTH_TOKEN
	_ = godotenv.Load()

	ctx, cancel := osutil.SignalContext(context.Background())
	defer cancel()

	t, err := telemetry.SetupFromEnv(ctx, "chartermap")
	if err != nil {
		slog.Warn("failed to setup telemetry", "err", err)
	}

	err = commands.ExecuteContext(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if shutdownErr := t.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("failed to flush telemetry", "err", shutdownErr)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancelShutdown()
		cancel()
		os.Exit(1)
	}
}
