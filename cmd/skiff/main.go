package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/InsulaLabs/skiff/eval"
	"github.com/InsulaLabs/skiff/repl"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
)

func main() {
	var strategyFlag string
	var logFile string

	flag.StringVar(&strategyFlag, "strategy", string(eval.StrategyStrict), "Evaluation strategy to start in (strict, lazy, lexical)")
	flag.StringVar(&logFile, "log-file", "", "Write debug logs to this file. The TUI owns the terminal, so logs cannot go to stderr.")
	flag.Parse()

	strategy := eval.Strategy(strategyFlag)
	if !strategy.Valid() {
		fmt.Fprintf(os.Stderr, "unknown strategy %q, expected one of: strict, lazy, lexical\n", strategyFlag)
		os.Exit(1)
	}

	logWriter := io.Writer(io.Discard)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not open log file %s: %v\n", logFile, err)
			os.Exit(1)
		}
		defer f.Close()
		logWriter = f
	}

	// The repl logs through the charm logger as well; both go to the
	// same writer so nothing lands on the terminal the TUI owns.
	log.SetOutput(logWriter)

	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	model := repl.New(repl.Config{
		Logger:   logger,
		Strategy: strategy,
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "repl exited with error: %v\n", err)
		os.Exit(1)
	}
}
