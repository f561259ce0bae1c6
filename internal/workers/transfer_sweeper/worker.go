package transfer_sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
)

const batchSize = 100

// Journal is the part of the transfer journal the sweeper reads and appends to
type Journal interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]entities.StaleTransfer, error)
	Record(ctx context.Context, entry *entities.TransferJournalEntry) error
}

// SessionDeleter removes abandoned sessions from the session store
type SessionDeleter interface {
	Delete(ctx context.Context, id string) error
}

// SessionLocker claims a session so no transfer step runs while it is swept
type SessionLocker interface {
	TryLock(id string) bool
	Unlock(id string)
}

// Recorder receives sweep measurements
type Recorder interface {
	SetStaleTransfers(n int)
	IncAbandoned()
}

// Worker abandons transfers that have not progressed within abandonAfter
type Worker struct {
	journal      Journal
	sessions     SessionDeleter
	locks        SessionLocker
	recorder     Recorder
	schedule     string
	abandonAfter time.Duration
	cron         *cron.Cron
	logger       *zap.Logger
}

func NewWorker(journal Journal, sessions SessionDeleter, locks SessionLocker, recorder Recorder, schedule string, abandonAfter time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		journal:      journal,
		sessions:     sessions,
		locks:        locks,
		recorder:     recorder,
		schedule:     schedule,
		abandonAfter: abandonAfter,
		cron:         cron.New(),
		logger:       logger,
	}
}

func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, err := w.Sweep(ctx); err != nil {
			w.logger.Error("Failed to sweep stale transfers", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule transfer sweeper %q: %w", w.schedule, err)
	}

	w.cron.Start()
	w.logger.Info("Transfer sweeper started",
		zap.String("schedule", w.schedule),
		zap.Duration("abandonAfter", w.abandonAfter))
	return nil
}

// Stop waits for a running sweep to finish
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Transfer sweeper stopped")
}

// Sweep abandons one batch of stale transfers and returns how many it abandoned
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-w.abandonAfter)
	stale, err := w.journal.ListStale(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	w.recorder.SetStaleTransfers(len(stale))

	abandoned := 0
	for _, t := range stale {
		if !w.locks.TryLock(t.SessionID) {
			w.logger.Info("Skipping stale transfer with a step in progress",
				zap.String("sessionId", t.SessionID))
			continue
		}
		if w.abandon(ctx, t) {
			w.recorder.IncAbandoned()
			abandoned++
		}
		w.locks.Unlock(t.SessionID)
	}

	if abandoned > 0 {
		w.logger.Info("Abandoned stale transfers", zap.Int("count", abandoned))
	}
	return abandoned, nil
}

// abandon journals the reset and deletes the session; the caller holds its lock
func (w *Worker) abandon(ctx context.Context, t entities.StaleTransfer) bool {
	if t.State == entities.TransferStateBurned || t.State == entities.TransferStateAttestationReceived {
		// USDC is burned on the source chain; the journal keeps the burn hash for a manual mint
		w.logger.Warn("Abandoning transfer with burned funds not yet minted",
			zap.String("sessionId", t.SessionID),
			zap.String("state", string(t.State)),
			zap.Time("lastStepAt", t.LastStepAt))
	}

	entry := &entities.TransferJournalEntry{
		ID:           uuid.New(),
		SessionID:    t.SessionID,
		Step:         entities.TransferStepReset,
		State:        entities.TransferStateAbandoned,
		ErrorMessage: fmt.Sprintf("abandoned in state %s after %s without progress", t.State, w.abandonAfter),
		CreatedAt:    time.Now().UTC(),
	}
	if err := w.journal.Record(ctx, entry); err != nil {
		w.logger.Error("Failed to journal abandoned transfer",
			zap.String("sessionId", t.SessionID),
			zap.Error(err))
		return false
	}
	if err := w.sessions.Delete(ctx, t.SessionID); err != nil {
		w.logger.Warn("Failed to delete abandoned session",
			zap.String("sessionId", t.SessionID),
			zap.Error(err))
	}
	return true
}
