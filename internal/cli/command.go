package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// CommandConfig configures a command run by RunCommand.
type CommandConfig struct {
	// Name identifies this command in errors.
	Name string

	// Format selects the output format.
	Format Format

	// Stdout receives rendered results. Nil means os.Stdout.
	Stdout io.Writer

	// Timeout for the command. Zero means no timeout.
	Timeout time.Duration

	// Run is the command's business logic.
	Run func(ctx context.Context, out *Output) error
}

// RunCommand runs cfg.Run with a context that ends on SIGINT, SIGTERM or
// the timeout.
func RunCommand(ctx context.Context, cfg CommandConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("command name required")
	}
	if cfg.Run == nil {
		return fmt.Errorf("run function required")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	w := cfg.Stdout
	if w == nil {
		w = os.Stdout
	}
	format := cfg.Format
	if format == "" {
		format = FormatText
	}

	if err := cfg.Run(ctx, NewOutput(format, w)); err != nil {
		return fmt.Errorf("%s: %w", cfg.Name, err)
	}
	return nil
}
