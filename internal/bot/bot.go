// Package bot wires the scheduler and the optional operator console into a
// single process lifecycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Listener receives console updates until ctx is done. Satisfied by
// *tgbot.Bot from go-telegram/bot.
type Listener interface {
	Start(ctx context.Context)
}

// Bot owns the long-running components.
type Bot struct {
	logger    *slog.Logger
	listener  Listener
	scheduler *Scheduler
	closers   []func() error
}

// NewBot returns a Bot. listener may be nil when the console is disabled.
// closers run in order after everything has stopped.
func NewBot(logger *slog.Logger, listener Listener, scheduler *Scheduler, closers ...func() error) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		listener:  listener,
		scheduler: scheduler,
		closers:   closers,
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	if b.listener != nil {
		g.Go(func() error {
			b.logger.Info("Starting Telegram console listener...")
			b.listener.Start(gCtx)
			b.logger.Info("Telegram console listener stopped.")

			if gCtx.Err() == nil {
				return fmt.Errorf("telegram listener stopped unexpectedly")
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := b.scheduler.Start(gCtx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	b.close()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

func (b *Bot) close() {
	for _, c := range b.closers {
		if err := c(); err != nil {
			b.logger.Error("Failed to release resource", "error", err)
		}
	}
}
