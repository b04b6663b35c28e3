package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixbrock/papersummarizer/internal/domain"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const localTokenUrl = "local://feedback/tokens/"

const tokenTTL = 7 * 24 * time.Hour

// SQLiteStore keeps datasets, feedback and runs on disk for the local
// backend. It serves the same method sets as the LangSmith repos.
type SQLiteStore struct {
	conn *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS examples (
			id TEXT PRIMARY KEY,
			dataset_id TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS feedback_tokens (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			feedback_key TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS feedback (
			token_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			feedback_key TEXT NOT NULL,
			score INTEGER NOT NULL,
			comment TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(token_id) REFERENCES feedback_tokens(id)
		)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			run_type TEXT DEFAULT '',
			state TEXT NOT NULL,
			inputs TEXT DEFAULT '',
			outputs TEXT DEFAULT '',
			error TEXT DEFAULT '',
			start_time DATETIME,
			end_time DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_examples_dataset_id ON examples(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_run_id ON feedback(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.conn.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

func (s *SQLiteStore) datasetId(ctx context.Context, name string) (string, error) {
	var id string
	err := s.conn.QueryRowContext(ctx, `SELECT id FROM datasets WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", name, domain.ErrDatasetNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read dataset %s: %w", name, err)
	}
	return id, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.datasetId(ctx, name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *SQLiteStore) Create(ctx context.Context, name string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO datasets (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		uuid.NewString(), name)
	if err != nil {
		return fmt.Errorf("create dataset %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) ListExamples(ctx context.Context, name string) ([]domain.Example, error) {
	id, err := s.datasetId(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, input, output FROM examples WHERE dataset_id = ? ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("list examples of %s: %w", name, err)
	}
	defer rows.Close()

	var examples []domain.Example
	for rows.Next() {
		var e domain.Example
		if err := rows.Scan(&e.Id, &e.Input, &e.Output); err != nil {
			return nil, fmt.Errorf("list examples of %s: %w", name, err)
		}
		examples = append(examples, e)
	}

	return examples, rows.Err()
}

func (s *SQLiteStore) InsertExample(ctx context.Context, name string, example domain.Example) error {
	id, err := s.datasetId(ctx, name)
	if err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO examples (id, dataset_id, input, output) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), id, example.Input, example.Output)
	if err != nil {
		return fmt.Errorf("insert example into %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) CreateToken(ctx context.Context, runId string, key string) (*domain.FeedbackToken, error) {
	token := domain.FeedbackToken{
		Id:        uuid.NewString(),
		RunId:     runId,
		ExpiresAt: time.Now().UTC().Add(tokenTTL),
	}
	token.Url = localTokenUrl + token.Id

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO feedback_tokens (id, run_id, feedback_key, expires_at) VALUES (?, ?, ?, ?)`,
		token.Id, runId, key, token.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("create feedback token for run %s: %w", runId, err)
	}

	return &token, nil
}

// InsertFromToken accepts exactly one submission per token.
func (s *SQLiteStore) InsertFromToken(ctx context.Context, token domain.FeedbackToken, score int, comment string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var runId, key string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT run_id, feedback_key, expires_at FROM feedback_tokens WHERE id = ?`, token.Id).
		Scan(&runId, &key, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("unknown feedback token %s", token.Id)
	}
	if err != nil {
		return fmt.Errorf("read feedback token %s: %w", token.Id, err)
	}
	if time.Now().After(expiresAt) {
		return fmt.Errorf("feedback token %s expired at %s", token.Id, expiresAt.Format(time.RFC3339))
	}

	var used int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback WHERE token_id = ?`, token.Id).Scan(&used); err != nil {
		return err
	}
	if used > 0 {
		return fmt.Errorf("token %s: %w", token.Id, domain.ErrFeedbackTokenUsed)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feedback (token_id, run_id, feedback_key, score, comment) VALUES (?, ?, ?, ?, ?)`,
		token.Id, runId, key, score, comment)
	if err != nil {
		return fmt.Errorf("submit feedback for token %s: %w", token.Id, err)
	}

	return tx.Commit()
}

func marshalOrEmpty(v map[string]any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func (s *SQLiteStore) Insert(ctx context.Context, run domain.Run) error {
	inputs, err := marshalOrEmpty(run.Inputs)
	if err != nil {
		return err
	}

	state := run.State
	if state == "" {
		state = domain.RunStateRunning
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO runs (id, name, run_type, state, inputs, start_time) VALUES (?, ?, ?, ?, ?, ?)`,
		run.Id, run.Name, run.Type, state, inputs, run.StartTime)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.Id, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, run domain.Run) error {
	outputs, err := marshalOrEmpty(run.Outputs)
	if err != nil {
		return err
	}

	state := run.State
	if state == "" {
		state = domain.RunStateCompleted
		if run.Error != "" {
			state = domain.RunStateFailed
		}
	}

	res, err := s.conn.ExecContext(ctx,
		`UPDATE runs SET state = ?, outputs = ?, error = ?, end_time = ? WHERE id = ?`,
		state, outputs, run.Error, run.EndTime, run.Id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.Id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: no such run", run.Id)
	}
	return nil
}
