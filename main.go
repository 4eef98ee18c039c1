package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"gonetcut/internal/config"
	"gonetcut/internal/engine"
	"gonetcut/internal/logging"
	"gonetcut/internal/reporting"
	"gonetcut/internal/tui"
)

var version = "dev"

const tuiLogFile = "gonetcut.log"

func main() {
	cmd := config.CreateCommand(run, version)
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger := logging.NewLogger(zerolog.InfoLevel)
		logging.ErrorUnwrapped(&logger, "gonetcut failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	compiled, err := cfg.Compile()
	if err != nil {
		return err
	}

	var baseLogger zerolog.Logger
	if cfg.Core.TUI {
		var closer io.Closer
		baseLogger, closer, err = logging.NewFileLogger(tuiLogFile, compiled.Level)
		if err != nil {
			return err
		}
		defer closer.Close()
	} else {
		baseLogger = logging.NewLogger(compiled.Level)
	}
	logger := logging.WithScope(baseLogger, "MAIN")

	m, err := engine.New(baseLogger, cfg, engine.SystemPlatform())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if cfg.Core.TUI {
		p := tea.NewProgram(tui.NewAttackModel(m), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("dashboard stopped")
		}
	} else {
		select {
		case <-ctx.Done():
			logger.Info().Msg("interrupted")
		case <-m.Done():
			logger.Info().Msg("capture file exhausted")
		}
	}

	m.Stop()

	snap := m.Snapshot()
	logger.Info().
		Stringer("filter", snap.Filter).
		Uint64("injected", snap.Injector.Sent).
		Msg("session finished")

	if cfg.Report.Path != "" {
		name, err := reporting.GenerateSessionReport(snap, m.Traffic(), cfg.Report.Path)
		if err != nil {
			return err
		}
		logger.Info().Str("file", name).Msg("report written")
	}
	return nil
}
