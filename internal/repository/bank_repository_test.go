package repository

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseBankDefaultsBankID(t *testing.T) {
	tests, err := ParseBank([]byte(`
tests:
  - id: 7
    title: Mixed
    duration_seconds: 90
    questions:
      - {id: a, text: one, options: ["x", "y"], correct_option: "x", marks: 2}
      - {id: b, bank_id: shared, text: two, raw_options: "['p', 'q']", correct_option: "q"}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(tests) != 1 || tests[0].ID != "7" || tests[0].DurationSeconds != 90 {
		t.Fatalf("unexpected tests: %+v", tests)
	}
	qs := tests[0].Questions
	if qs[0].BankID != "7" || qs[1].BankID != "shared" {
		t.Fatalf("unexpected bank ids: %q %q", qs[0].BankID, qs[1].BankID)
	}
	if qs[1].RawOptions != "['p', 'q']" || tests[0].TotalMarks() != 3 {
		t.Fatalf("unexpected questions: %+v", qs)
	}
}

func TestParseBankRejectsMissingIDs(t *testing.T) {
	cases := map[string]string{
		"test":     "tests:\n  - title: no id\n",
		"question": "tests:\n  - id: t1\n    questions:\n      - text: orphan\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBank([]byte(raw))
			if err == nil || !strings.Contains(err.Error(), "no id") {
				t.Fatalf("expected missing id error, got %v", err)
			}
		})
	}
}

func TestYAMLBankRepositoryReadsShippedBank(t *testing.T) {
	tests, err := NewYAMLBankRepository(filepath.Join("..", "..", "testdata", "bank.yaml")).LoadTests(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tests) < 2 {
		t.Fatalf("expected at least two tests, got %d", len(tests))
	}
	for _, tt := range tests {
		if len(tt.Questions) == 0 {
			t.Fatalf("test %s has no questions", tt.ID)
		}
	}
}

func TestYAMLBankRepositoryMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := NewYAMLBankRepository(path).LoadTests(context.Background()); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

