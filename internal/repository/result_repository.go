package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultRecord is one finished session as persisted by the result worker.
type ResultRecord struct {
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	TestID     string    `json:"test_id"`
	AttemptNo  int       `json:"attempt_no"`
	Status     string    `json:"status"`
	Score      float64   `json:"score"`
	TotalMarks float64   `json:"total_marks"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// ResultRepository writes finished sessions to PostgreSQL.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// InsertBatch upserts a batch of results with a single UNNEST statement.
func (r *ResultRepository) InsertBatch(ctx context.Context, batch []ResultRecord) error {
	n := len(batch)
	if n == 0 {
		return nil
	}

	sessionIDs := make([]string, n)
	studentIDs := make([]string, n)
	testIDs := make([]string, n)
	attempts := make([]int32, n)
	statuses := make([]string, n)
	scores := make([]float64, n)
	totals := make([]float64, n)
	reasons := make([]string, n)
	startedAts := make([]time.Time, n)
	endedAts := make([]time.Time, n)

	for i, rec := range batch {
		sessionIDs[i] = rec.SessionID
		studentIDs[i] = rec.StudentID
		testIDs[i] = rec.TestID
		attempts[i] = int32(rec.AttemptNo)
		statuses[i] = rec.Status
		scores[i] = rec.Score
		totals[i] = rec.TotalMarks
		reasons[i] = rec.Reason
		startedAts[i] = rec.StartedAt
		endedAts[i] = rec.EndedAt
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO sim_results
			(session_id, student_id, test_id, attempt_no, status, score, total_marks, reason, started_at, ended_at)
		SELECT * FROM UNNEST(
			$1::text[], $2::text[], $3::text[], $4::int[], $5::text[],
			$6::float8[], $7::float8[], $8::text[], $9::timestamptz[], $10::timestamptz[]
		)
		ON CONFLICT (session_id) DO NOTHING`,
		sessionIDs, studentIDs, testIDs, attempts, statuses, scores, totals, reasons, startedAts, endedAts,
	)
	return err
}

// Insert writes a single result. Used when a batch fails.
func (r *ResultRepository) Insert(ctx context.Context, rec ResultRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sim_results
			(session_id, student_id, test_id, attempt_no, status, score, total_marks, reason, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.StudentID, rec.TestID, rec.AttemptNo, rec.Status,
		rec.Score, rec.TotalMarks, rec.Reason, rec.StartedAt, rec.EndedAt,
	)
	return err
}
