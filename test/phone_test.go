package test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"brokeronboard/application"
	"brokeronboard/auth"
	"brokeronboard/test/infra"
)

// Concurrent supervisor registration and broker application on one phone must
// leave exactly one owner.
func TestPhoneClaimedOnceAcrossUsersAndApplications(t *testing.T) {
	if testing.Short() {
		t.Skip("database test skipped in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
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

	users := auth.NewRepository(pool)
	authSvc := auth.NewService(users, "test-secret")
	appSvc := application.NewService(application.NewRepository(pool), users, nil, nil)

	for round := 0; round < 20; round++ {
		phone := fmt.Sprintf("0599%06d", round)
		var registered, applied bool

		var g errgroup.Group
		g.Go(func() error {
			_, err := authSvc.Register(ctx, auth.RegisterRequest{Phone: phone, Password: "supervisor-pass", Name: "Supervisor"})
			switch {
			case err == nil:
				registered = true
			case !errors.Is(err, auth.ErrDuplicatePhone):
				return fmt.Errorf("register %s: %w", phone, err)
			}
			return nil
		})
		g.Go(func() error {
			_, err := appSvc.Create(ctx, application.CreateParams{Phone: phone, Name: "Applicant", Password: "applicant-pass"})
			switch {
			case err == nil:
				applied = true
			case !errors.Is(err, application.ErrDuplicatePhone):
				return fmt.Errorf("apply %s: %w", phone, err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
		if registered == applied {
			t.Fatalf("phone %s: registered=%v applied=%v, want exactly one owner", phone, registered, applied)
		}

		var owners int
		const query = `SELECT (SELECT COUNT(*) FROM users WHERE phone = $1) + (SELECT COUNT(*) FROM broker_applications WHERE applicant_phone = $1)`
		if err := pool.QueryRow(ctx, query, phone).Scan(&owners); err != nil {
			t.Fatalf("count owners: %v", err)
		}
		if owners != 1 {
			t.Fatalf("phone %s has %d owners", phone, owners)
		}
	}
}
