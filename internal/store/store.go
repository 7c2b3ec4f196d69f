// Package store persists completed grading runs. Only final reports are
// stored; per-page artifacts live and die inside a single run.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studykit/papergrader/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Run is one persisted grading run.
type Run struct {
	ID             string               `json:"id"`
	CreatedAt      time.Time            `json:"created_at"`
	AssessmentType model.AssessmentType `json:"assessment_type"`
	TotalStudents  int                  `json:"total_students"`
	Successful     int                  `json:"successful"`
	Failed         int                  `json:"failed"`
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS grading_runs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		assessment_type TEXT NOT NULL,
		total_students INTEGER NOT NULL DEFAULT 0,
		successful INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		report TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveReport persists a finished grading report and returns its run ID.
func (s *Store) SaveReport(report model.GradingReport) (string, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO grading_runs (id, created_at, assessment_type, total_students, successful, failed, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), string(report.AssessmentType),
		report.TotalStudents, report.Successful, report.Failed, string(body),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// GetReport loads a persisted grading report by run ID.
func (s *Store) GetReport(id string) (model.GradingReport, error) {
	var body string
	err := s.db.QueryRow(`SELECT report FROM grading_runs WHERE id = ?`, id).Scan(&body)
	if err != nil {
		return model.GradingReport{}, err
	}

	var report model.GradingReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return model.GradingReport{}, fmt.Errorf("unmarshal report %s: %w", id, err)
	}
	return report, nil
}

// ListRuns returns run metadata, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, assessment_type, total_students, successful, failed
		 FROM grading_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var at string
		if err := rows.Scan(&r.ID, &r.CreatedAt, &at, &r.TotalStudents, &r.Successful, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.AssessmentType = model.AssessmentType(at)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a persisted run.
func (s *Store) DeleteRun(id string) error {
	res, err := s.db.Exec(`DELETE FROM grading_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RunCount returns the number of persisted runs.
func (s *Store) RunCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM grading_runs`).Scan(&count)
	return count, err
}
