package repository

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
	"gopkg.in/yaml.v3"
)

// BankLoader loads every test definition of a question bank.
type BankLoader interface {
	LoadTests(ctx context.Context) ([]model.TestDefinition, error)
}

// bankFile is the layout of a YAML question bank.
type bankFile struct {
	Tests []model.TestDefinition `yaml:"tests"`
}

// YAMLBankRepository reads tests from a YAML file.
type YAMLBankRepository struct {
	path string
}

// NewYAMLBankRepository creates a YAMLBankRepository for path.
func NewYAMLBankRepository(path string) *YAMLBankRepository {
	return &YAMLBankRepository{path: path}
}

// LoadTests parses the file on every call.
func (r *YAMLBankRepository) LoadTests(_ context.Context) ([]model.TestDefinition, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read bank file: %w", err)
	}
	return ParseBank(raw)
}

// ParseBank decodes a YAML question bank.
func ParseBank(raw []byte) ([]model.TestDefinition, error) {
	var f bankFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode bank: %w", err)
	}
	for i := range f.Tests {
		t := &f.Tests[i]
		if t.ID.IsZero() {
			return nil, fmt.Errorf("decode bank: test %d has no id", i+1)
		}
		for j := range t.Questions {
			q := &t.Questions[j]
			if q.ID.IsZero() {
				return nil, fmt.Errorf("decode bank: test %s question %d has no id", t.ID, j+1)
			}
			if q.BankID.IsZero() {
				q.BankID = t.ID
			}
		}
	}
	return f.Tests, nil
}

// PostgresBankRepository reads tests from the simulator schema.
type PostgresBankRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBankRepository creates a new PostgresBankRepository.
func NewPostgresBankRepository(pool *pgxpool.Pool) *PostgresBankRepository {
	return &PostgresBankRepository{pool: pool}
}

// LoadTests reads every test with its questions ordered by position.
func (r *PostgresBankRepository) LoadTests(ctx context.Context) ([]model.TestDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, course_id, course_code, course_title, duration_seconds, pass_percentage
		 FROM sim_tests ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}
	defer rows.Close()

	var tests []model.TestDefinition
	index := make(map[model.ID]int)
	for rows.Next() {
		var t model.TestDefinition
		if err := rows.Scan(&t.ID, &t.Title, &t.Course.ID, &t.Course.Code, &t.Course.Title, &t.DurationSeconds, &t.PassPercentage); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		index[t.ID] = len(tests)
		tests = append(tests, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	qrows, err := r.pool.Query(ctx,
		`SELECT id, test_id, bank_id, question_text, options, COALESCE(raw_options, ''), correct_option,
		        marks, COALESCE(image_url, ''), COALESCE(comprehension_text, '')
		 FROM sim_questions ORDER BY test_id, position`,
	)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer qrows.Close()

	for qrows.Next() {
		var (
			q      model.BankQuestion
			testID model.ID
		)
		if err := qrows.Scan(&q.ID, &testID, &q.BankID, &q.Text, &q.Options, &q.RawOptions, &q.CorrectOption,
			&q.Marks, &q.ImageURL, &q.ComprehensionText); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		i, ok := index[testID]
		if !ok {
			continue
		}
		tests[i].Questions = append(tests[i].Questions, q)
	}
	return tests, qrows.Err()
}

// SaveTests replaces each given test and its questions in one transaction.
// Tests not in the list are left alone.
func (r *PostgresBankRepository) SaveTests(ctx context.Context, tests []model.TestDefinition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, t := range tests {
		batch.Queue(`DELETE FROM sim_questions WHERE test_id = $1`, t.ID)
		batch.Queue(
			`INSERT INTO sim_tests (id, title, course_id, course_code, course_title, duration_seconds, pass_percentage)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   title = EXCLUDED.title,
			   course_id = EXCLUDED.course_id,
			   course_code = EXCLUDED.course_code,
			   course_title = EXCLUDED.course_title,
			   duration_seconds = EXCLUDED.duration_seconds,
			   pass_percentage = EXCLUDED.pass_percentage`,
			t.ID, t.Title, t.Course.ID, t.Course.Code, t.Course.Title, t.DurationSeconds, t.PassPercentage,
		)
		for i, q := range t.Questions {
			options := q.Options
			if options == nil {
				options = []string{}
			}
			var raw *string
			if q.RawOptions != "" {
				raw = &q.RawOptions
			}
			batch.Queue(
				`INSERT INTO sim_questions (id, test_id, bank_id, position, question_text, options, raw_options,
				                            correct_option, marks, image_url, comprehension_text)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''))`,
				q.ID, t.ID, q.BankID, i+1, q.Text, options, raw,
				q.CorrectOption, q.MarksOrDefault(), q.ImageURL, q.ComprehensionText,
			)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save tests: %w", err)
	}
	return tx.Commit(ctx)
}
