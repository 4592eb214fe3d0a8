package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/router"
	"github.com/stemsi/exstem-attempt/internal/simulator"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// syncBuffer lets the test read output while the timer goroutine writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startSimulator serves the shipped question bank and returns a client
// config pointing at it.
func startSimulator(t *testing.T, duration time.Duration) *config.Config {
	t.Helper()
	if err := validator.Setup(); err != nil {
		t.Fatalf("validator: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := zerolog.Nop()
	bank := repository.NewYAMLBankRepository(filepath.Join("..", "..", "testdata", "bank.yaml"))
	engine := simulator.NewEngine(rdb, simulator.NewCatalog(bank, log), simulator.Options{Duration: duration}, log)
	hub := simulator.NewHub(engine, 50*time.Millisecond, log)

	r := router.SetupRouter(&router.Handlers{
		Attempt: handler.NewAttemptHandler(engine, log),
		WS:      handler.NewWSHandler(hub, log, nil),
	}, middleware.NewMetrics(), &config.Config{GinMode: gin.TestMode, RateLimitPerMin: 6000, RateLimitBurst: 1000})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})

	return &config.Config{
		APIBaseURL:  srv.URL + "/api/v1/attempts",
		RealtimeURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		StudentID:   "cli-student",
		HTTPTimeout: 5 * time.Second,
	}
}

func openTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := openApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

// pipeInput feeds script to the command loop and keeps the reader open
// until the test ends, so end of input never races the end screen.
func pipeInput(t *testing.T, script string) io.Reader {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	go func() { _, _ = io.WriteString(pw, script) }()
	return pr
}

func runWithTimeout(t *testing.T, fn func(ctx context.Context) error) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx)
}

func TestTakeAnswersAndSubmits(t *testing.T) {
	cfg := startSimulator(t, 0)
	a := openTestApp(t, cfg)
	out := &syncBuffer{}

	in := pipeInput(t, "s\n1 b\n2 dna\n9 a\n1 z\nn\n")
	err := runWithTimeout(t, func(ctx context.Context) error {
		return runTake(ctx, a, "43", in, out, false)
	})
	if err != nil {
		t.Fatalf("take: %v\n%s", err, out.String())
	}

	got := out.String()
	for _, want := range []string{
		"Started test 43",
		"submit is available once you reach the last page",
		"question 9 is not on this page",
		`question 1 has no option "z"`,
		"Test ended.",
		"Score 2.00 / 2.00 (100.0%), 2 of 2 correct",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output misses %q:\n%s", want, got)
		}
	}

	var res bytes.Buffer
	if err := runResult(context.Background(), a, "", &res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if !strings.Contains(res.String(), "passed") {
		t.Fatalf("expected latest result to be passed, got %s", res.String())
	}
}

func TestTakeWalksPagesToTheEnd(t *testing.T) {
	cfg := startSimulator(t, 0)
	a := openTestApp(t, cfg)
	out := &syncBuffer{}

	// Five questions: pages 1-2, 3-4, 5. Next on the last page finishes.
	in := pipeInput(t, "1 b\nn\n3 c\np\ng 5\n5 b\nn\n")
	err := runWithTimeout(t, func(ctx context.Context) error {
		return runTake(ctx, a, "42", in, out, false)
	})
	if err != nil {
		t.Fatalf("take: %v\n%s", err, out.String())
	}
	if got := out.String(); !strings.Contains(got, "Test ended.") || !strings.Contains(got, "3 of 5 correct") {
		t.Fatalf("unexpected output:\n%s", got)
	}
}

func TestTakeSubmitKeepsAnswersOnShownPage(t *testing.T) {
	cfg := startSimulator(t, 0)
	a := openTestApp(t, cfg)
	out := &syncBuffer{}

	// The answer on the last page is only picked, never navigated away from.
	in := pipeInput(t, "n\nn\n5 b\ns\n")
	err := runWithTimeout(t, func(ctx context.Context) error {
		return runTake(ctx, a, "42", in, out, false)
	})
	if err != nil {
		t.Fatalf("take: %v\n%s", err, out.String())
	}
	got := out.String()
	if !strings.Contains(got, "Test ended.") || !strings.Contains(got, "Score 2.00 / 7.00") || !strings.Contains(got, "1 of 5 correct") {
		t.Fatalf("expected the last page answer to be scored, got:\n%s", got)
	}
}

func TestTakeSubmitsWhenTimeRunsOut(t *testing.T) {
	cfg := startSimulator(t, 500*time.Millisecond)
	a := openTestApp(t, cfg)
	out := &syncBuffer{}

	in := pipeInput(t, "")
	err := runWithTimeout(t, func(ctx context.Context) error {
		return runTake(ctx, a, "43", in, out, false)
	})
	if err != nil {
		t.Fatalf("take: %v\n%s", err, out.String())
	}
	got := out.String()
	if !strings.Contains(got, "Test ended.") || !strings.Contains(got, "Your answers were submitted.") {
		t.Fatalf("expected automatic submission, got:\n%s", got)
	}
}

func TestTakeQuitLeavesSessionOpen(t *testing.T) {
	cfg := startSimulator(t, 0)
	a := openTestApp(t, cfg)

	in := pipeInput(t, "q\n")
	err := runWithTimeout(t, func(ctx context.Context) error {
		return runTake(ctx, a, "43", in, io.Discard, false)
	})
	if !errors.Is(err, errQuit) {
		t.Fatalf("expected errQuit, got %v", err)
	}
}

func TestTestsListsBank(t *testing.T) {
	cfg := startSimulator(t, 0)
	a := openTestApp(t, cfg)

	var out bytes.Buffer
	if err := runTests(context.Background(), a, &out); err != nil {
		t.Fatalf("tests: %v", err)
	}
	for _, want := range []string{"Algebra Basics", "Cell Biology Quiz"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("listing misses %q:\n%s", want, out.String())
		}
	}
}

func TestResultWithoutRedisExplainsMemoryStore(t *testing.T) {
	cfg := startSimulator(t, 0)
	a := openTestApp(t, cfg)

	err := runResult(context.Background(), a, "", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("expected hint about REDIS_URL, got %v", err)
	}
}

func TestOpenAppRequiresStudent(t *testing.T) {
	_, err := openApp(context.Background(), &config.Config{}, zerolog.Nop())
	if !errors.Is(err, errStudentRequired) {
		t.Fatalf("expected errStudentRequired, got %v", err)
	}
}
