package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
)

// TransferJournalRepository appends step outcomes to transfer_journal
type TransferJournalRepository struct {
	db *sqlx.DB
}

// NewTransferJournalRepository creates a new journal repository
func NewTransferJournalRepository(db *sqlx.DB) *TransferJournalRepository {
	return &TransferJournalRepository{db: db}
}

func (r *TransferJournalRepository) Record(ctx context.Context, entry *entities.TransferJournalEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transfer_journal (
			id, session_id, step, state, source_chain, dest_chain, amount,
			tx_id, tx_hash, error_message, created_at
		) VALUES (
			:id, :session_id, :step, :state, :source_chain, :dest_chain, :amount,
			:tx_id, :tx_hash, :error_message, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("record journal entry: %w", err)
	}
	return nil
}

// History returns a session's entries oldest first
func (r *TransferJournalRepository) History(ctx context.Context, sessionID string) ([]entities.TransferJournalEntry, error) {
	var entries []entities.TransferJournalEntry
	query := `SELECT * FROM transfer_journal WHERE session_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &entries, query, sessionID); err != nil {
		return nil, fmt.Errorf("load journal history: %w", err)
	}
	return entries, nil
}

// ListStale returns sessions whose latest entry is older than cutoff and
// not in a terminal state, oldest first
func (r *TransferJournalRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]entities.StaleTransfer, error) {
	var stale []entities.StaleTransfer
	query := `
		SELECT session_id, state, created_at AS last_step_at
		FROM (
			SELECT DISTINCT ON (session_id) session_id, state, created_at
			FROM transfer_journal
			ORDER BY session_id, created_at DESC
		) latest
		WHERE created_at < $1 AND state NOT IN ($2, $3)
		ORDER BY created_at ASC
		LIMIT $4`

	err := r.db.SelectContext(ctx, &stale, query,
		cutoff,
		entities.TransferStateMinted,
		entities.TransferStateAbandoned,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale transfers: %w", err)
	}
	return stale, nil
}
