package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/workitems/backlog/cmd/backlog/commands"
	"github.com/workitems/backlog/pkg/telemetry"
)

// Set with -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configureGlobalLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err == nil {
		return 0
	}
	if ctx.Err() != nil {
		log.Warn().Msg("Interrupted")
	} else if !commands.IsReported(err) {
		log.Error().Err(err).Msg("backlog failed")
	}
	return commands.ExitCode(err)
}

// configureGlobalLogger sets up the package-level zerolog logger used before a
// workspace logger exists. BACKLOG_LOG_LEVEL wins over LOG_LEVEL. Without
// either, per-logger levels from the workspace config apply unfiltered.
func configureGlobalLogger() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level := os.Getenv("BACKLOG_LOG_LEVEL")
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level != "" {
		zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
	}
}
