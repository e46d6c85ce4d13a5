// Package runlog persists the per-interaction LM log a run can opt
// into: every do/vibe/compress operation the LM engine records, each
// tagged with its sequence id (do-NNNNNN, vibe-NNNNNN, compress-NNNNNN)
// so a later "vibe trace" can replay a run's decisions in order.
// Host-block evaluations are not logged here.
package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("runlog postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create runlog pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping runlog database: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS run_events (
			seq_id          TEXT PRIMARY KEY,
			run_id          TEXT NOT NULL,
			operation_type  TEXT NOT NULL,
			model_var       TEXT NOT NULL,
			prompt          TEXT NOT NULL,
			response        TEXT NOT NULL,
			error_message   TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS run_events_run_id_idx ON run_events (run_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("ensure runlog schema: %w", err)
	}
	return nil
}

// Event is one row of a run's trace, ordered by CreatedAt.
type Event struct {
	SeqID         string
	RunID         string
	OperationType string
	ModelVar      string
	Prompt        string
	Response      string
	ErrorMessage  string
	CreatedAt     time.Time
}

// LogInteraction implements ai.RunLogger. RunID is carried via the
// store's bound run context rather than threaded through every call;
// see WithRun.
func (s *Store) LogInteraction(ctx context.Context, id, operationType, model, prompt, response, errMsg string) {
	runID, _ := ctx.Value(runIDKey{}).(string)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_events (seq_id, run_id, operation_type, model_var, prompt, response, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (seq_id) DO NOTHING
	`, id, runID, operationType, model, prompt, response, errMsg, time.Now().UTC())
	if err != nil {
		// The verbose log is best-effort: a logging failure must never
		// abort a run that is otherwise proceeding correctly.
		return
	}
}

// ListByRun returns a run's recorded events in chronological order, for
// the "vibe trace <run-id>" command.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq_id, run_id, operation_type, model_var, prompt, response, error_message, created_at
		FROM run_events
		WHERE run_id = $1
		ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.SeqID, &e.RunID, &e.OperationType, &e.ModelVar, &e.Prompt, &e.Response, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return out, nil
}

type runIDKey struct{}

// WithRun binds a run id onto ctx so LogInteraction can tag each event
// without threading the id through the ai.Engine/driver call chain.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}
