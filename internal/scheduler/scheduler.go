// Package scheduler provides the delivery scheduler for SlackPipe.
//
// The DeliveryScheduler polls the scheduled message queue on a fixed
// interval, attempts delivery of due rows through a deliver callback, and
// transitions each row's status based on the outcome. Overlapping ticks are
// skipped so at most one delivery pass is in flight at any instant.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/SlackPipe/internal/models"
	"github.com/BTreeMap/SlackPipe/internal/store"
)

// Default polling configuration
const (
	// DefaultPollInterval is the delay between due-row scans.
	DefaultPollInterval = 15 * time.Second
	// DefaultBatchSize caps the number of rows attempted per tick.
	DefaultBatchSize = 20
)

// DeliverFunc is the callback that performs the actual message delivery.
// It returns an error if the delivery attempt failed.
type DeliverFunc func(ctx context.Context, msg models.ScheduledMessage) error

// DeliveryScheduler periodically claims due scheduled messages and attempts
// to deliver them.
type DeliveryScheduler struct {
	repo         store.ScheduledMessageRepo
	deliver      DeliverFunc
	pollInterval time.Duration
	batchSize    int
	cron         *cron.Cron
}

// NewDeliveryScheduler creates a new DeliveryScheduler.
func NewDeliveryScheduler(repo store.ScheduledMessageRepo, deliver DeliverFunc, pollInterval time.Duration) *DeliveryScheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &DeliveryScheduler{
		repo:         repo,
		deliver:      deliver,
		pollInterval: pollInterval,
		batchSize:    DefaultBatchSize,
	}
}

// Start begins the polling loop. Ticks that would overlap a still-running
// pass are skipped, and a panicking pass is recovered, so the loop can never
// stall or double-claim a row.
func (s *DeliveryScheduler) Start() error {
	if s.cron != nil {
		return fmt.Errorf("delivery scheduler already started")
	}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DefaultLogger),
	))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.pollInterval), func() {
		s.Tick(context.Background())
	})
	if err != nil {
		return fmt.Errorf("scheduling delivery tick failed: %w", err)
	}
	c.Start()
	s.cron = c
	slog.Info("DeliveryScheduler.Start: polling started", "pollInterval", s.pollInterval, "batchSize", s.batchSize)
	return nil
}

// Stop stops the polling loop and waits for a running tick to finish.
func (s *DeliveryScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	slog.Info("DeliveryScheduler.Stop: polling stopped")
}

// Tick runs one delivery pass synchronously: it fetches up to the batch cap
// of due rows, earliest first, and attempts each one sequentially. A row
// failure is recorded on the row and never aborts the rest of the batch.
// Tests invoke Tick directly instead of waiting on the timer.
func (s *DeliveryScheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.repo.ListDueMessages(now, s.batchSize)
	if err != nil {
		slog.Error("DeliveryScheduler.Tick: listing due messages failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	slog.Debug("DeliveryScheduler.Tick: processing due messages", "count", len(due))

	for _, msg := range due {
		if err := s.deliver(ctx, msg); err != nil {
			slog.Error("DeliveryScheduler.Tick: delivery failed", "id", msg.ID, "workspaceID", msg.WorkspaceID, "error", err)
			ok, updErr := s.repo.UpdateMessageStatus(msg.ID, models.ScheduledStatusPending, models.ScheduledStatusFailed, err.Error())
			if updErr != nil {
				slog.Error("DeliveryScheduler.Tick: recording failure failed", "id", msg.ID, "error", updErr)
			} else if !ok {
				// The row left pending while the attempt was in flight; the
				// competing write (a cancel) wins.
				slog.Debug("DeliveryScheduler.Tick: failure update lost the status race", "id", msg.ID)
			}
			continue
		}

		ok, updErr := s.repo.UpdateMessageStatus(msg.ID, models.ScheduledStatusPending, models.ScheduledStatusSent, "")
		if updErr != nil {
			slog.Error("DeliveryScheduler.Tick: recording success failed", "id", msg.ID, "error", updErr)
		} else if !ok {
			slog.Debug("DeliveryScheduler.Tick: sent update lost the status race", "id", msg.ID)
		} else {
			slog.Info("DeliveryScheduler.Tick: message delivered", "id", msg.ID, "workspaceID", msg.WorkspaceID, "channelID", msg.ChannelID)
		}
	}
}
