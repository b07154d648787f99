package test

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"brokeronboard/application"
	"brokeronboard/auth"
	"brokeronboard/broker"
	"brokeronboard/config"
	"brokeronboard/interview"
	"brokeronboard/interviewer"
	"brokeronboard/notify"
	"brokeronboard/test/actors"
	"brokeronboard/test/chaos"
	"brokeronboard/test/infra"
	"brokeronboard/test/oracles"
)

var (
	flDuration     = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency  = flag.Int("concurrency", 6, "number of concurrent actors per kind")
	flApplications = flag.Int("applications", 20, "applications seeded for the run")
	flSeed         = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN          = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestOnboardingConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in short mode")
	}
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	pgC, dsn, shared := database(t, ctx)
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.Open(ctx, dsn, shared)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()
	if err := infra.Reset(ctx, pool); err != nil {
		t.Fatalf("reset: %v", err)
	}

	appIDs := seedApplications(t, ctx, pool, *flApplications)

	ai := httptest.NewServer(fakeInterviewer())
	defer ai.Close()

	log := zap.NewNop()
	svc := interview.NewService(interview.Deps{
		Pool:         pool,
		Store:        interview.NewRepository(pool),
		Applications: application.NewRepository(pool),
		Interviewer:  interviewer.New(ai.URL, 5*time.Second, log),
		Provisioner:  broker.NewProvisioner(log),
		Logger:       log,
	})
	sender := actors.NewFlakySender(5)
	relay := notify.NewRelay(notify.NewPGStore(pool), sender, config.NotificationsConfig{BatchSize: 20, MaxAttempts: 10}, log)

	var stats actors.Stats
	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Starter(gctx, svc, appIDs, &stats, stop) })
		g.Go(func() error { return actors.Submitter(gctx, svc, appIDs, &stats, stop) })
	}
	g.Go(func() error { return actors.Completer(gctx, svc, appIDs, &stats, stop) })
	for i := 0; i < 2; i++ {
		g.Go(func() error { return actors.Notifier(gctx, relay, &stats, stop) })
	}
	killed := make(chan int64, 1)
	go func() { killed <- chaos.TerminateBackends(gctx, pool, infra.AppName, 2*time.Second, stop) }()

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			checkOracles(t, gctx, pool, seed)
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("actors errored: %v", err)
	}
	checkOracles(t, ctx, pool, seed)
	t.Logf("seed=%d %s sms_sent=%d backends_killed=%d", seed, stats.String(), sender.Sent.Load(), <-killed)

	if stats.Decisions.Load() == 0 {
		t.Fatalf("no interview reached a decision (seed=%d)", seed)
	}
}

func checkOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool, seed int64) {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		t.Fatalf("oracle error: %v", err)
	}
	if name != "" {
		for _, line := range infra.Dump(context.Background(), pool) {
			t.Log(line)
		}
		t.Fatalf("oracle %s failed. First row: %s (seed=%d)", name, row, seed)
	}
}

// database picks, in order: the -dsn flag, the env DSN, a container, a local
// Postgres. shared reports whether the run must isolate itself in a schema.
func database(t *testing.T, ctx context.Context) (*infra.PGContainer, string, bool) {
	t.Helper()
	switch {
	case *flDSN != "":
		return &infra.PGContainer{}, *flDSN, true
	case os.Getenv(infra.DSNEnv) != "":
		return &infra.PGContainer{}, os.Getenv(infra.DSNEnv), true
	case dockerAvailable(ctx):
		pgC, dsn, err := infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
		return pgC, dsn, false
	case infra.LocalPostgresRunning(ctx):
		dsn, err := infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Fatalf("init local database: %v", err)
		}
		return &infra.PGContainer{}, dsn, false
	}
	t.Skip("no postgres available: set -dsn, " + infra.DSNEnv + ", or run docker")
	return nil, "", false
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func seedApplications(t *testing.T, ctx context.Context, pool *pgxpool.Pool, n int) []string {
	t.Helper()
	svc := application.NewService(application.NewRepository(pool), auth.NewRepository(pool), nil, nil)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		app, err := svc.Create(ctx, application.CreateParams{
			Phone:    fmt.Sprintf("05%08d", i),
			Name:     fmt.Sprintf("Stress Applicant %d", i),
			Password: "stress-password",
			AreaIDs:  []string{fmt.Sprintf("area-%d", i%4)},
		})
		if err != nil {
			t.Fatalf("seed application %d: %v", i, err)
		}
		ids = append(ids, app.ID)
	}
	return ids
}

// fakeInterviewer walks a session through the six phases, one answer per
// phase, and completes it with a random score. About one reply in ten is a 502.
func fakeInterviewer() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/interview/start", func(w http.ResponseWriter, r *http.Request) {
		writeAI(w, map[string]any{"message": "Welcome, tell me about your experience."})
	})
	mux.HandleFunc("/api/interview/respond", func(w http.ResponseWriter, r *http.Request) {
		if rand.Intn(10) == 0 {
			http.Error(w, "upstream overloaded", http.StatusBadGateway)
			return
		}
		var req struct {
			SessionState interviewer.SessionState `json:"session_state"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		phase := req.SessionState.CurrentPhase
		if phase < 1 || phase > interview.PhaseCount {
			phase = 1
		}
		ceiling := interview.PhaseMaxScores[phase-1]
		state := map[string]any{
			fmt.Sprintf("phase%dScore", phase): ceiling * (0.5 + rand.Float64()/2),
		}
		complete := phase >= interview.PhaseCount
		if complete {
			state["totalScore"] = float64(55 + rand.Intn(46))
			if rand.Intn(4) == 0 {
				state["redFlags"] = []string{"inconsistent_answers"}
			}
		} else {
			state["currentPhase"] = phase + 1
			state["phaseQuestionIndex"] = 0
		}
		writeAI(w, map[string]any{
			"message":       strings.Repeat("Next question. ", 1+rand.Intn(2)),
			"is_complete":   complete,
			"updated_state": state,
			"evaluation":    map[string]any{"score": ceiling / 2, "notes": "ok"},
		})
	})
	return mux
}

func writeAI(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
