package persistence

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/felixbrock/papersummarizer/internal/domain"
)

type storedFeedback struct {
	TokenId string
	Key     string
	Score   int
	Comment string
}

func feedbackForRun(ctx context.Context, s *SQLiteStore, runId string) ([]storedFeedback, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT token_id, feedback_key, score, comment FROM feedback WHERE run_id = ? ORDER BY created_at`, runId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storedFeedback
	for rows.Next() {
		var f storedFeedback
		if err := rows.Scan(&f.TokenId, &f.Key, &f.Score, &f.Comment); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func readRun(ctx context.Context, s *SQLiteStore, id string) (*domain.Run, error) {
	var run domain.Run
	var inputs, outputs string
	var end sql.NullTime
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, name, run_type, state, inputs, outputs, error, start_time, end_time FROM runs WHERE id = ?`, id).
		Scan(&run.Id, &run.Name, &run.Type, &run.State, &inputs, &outputs, &run.Error, &run.StartTime, &end)
	if err != nil {
		return nil, err
	}
	if end.Valid {
		run.EndTime = end.Time
	}
	if inputs != "" {
		if err := json.Unmarshal([]byte(inputs), &run.Inputs); err != nil {
			return nil, err
		}
	}
	if outputs != "" {
		if err := json.Unmarshal([]byte(outputs), &run.Outputs); err != nil {
			return nil, err
		}
	}
	return &run, nil
}
