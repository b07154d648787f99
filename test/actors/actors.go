package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"brokeronboard/interview"
	"brokeronboard/notify"
)

// Interviews is the part of interview.Service the actors drive.
type Interviews interface {
	Start(ctx context.Context, applicationID string) (interview.StartResult, error)
	Submit(ctx context.Context, sessionID, responseText string) (interview.TurnResult, error)
	Complete(ctx context.Context, p interview.CompleteParams) (interview.Decision, error)
}

// Stats counts actor calls by outcome. Conflicts are expected under
// contention; failures are anything else, typically injected by chaos.
type Stats struct {
	Calls     atomic.Int64
	Conflicts atomic.Int64
	Failures  atomic.Int64
	Decisions atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("calls=%d conflicts=%d failures=%d decisions=%d",
		s.Calls.Load(), s.Conflicts.Load(), s.Failures.Load(), s.Decisions.Load())
}

func (s *Stats) record(err error) {
	s.Calls.Add(1)
	switch {
	case err == nil:
	case interview.IsConflict(err), errors.Is(err, interview.ErrInterviewerUnavailable):
		s.Conflicts.Add(1)
	default:
		s.Failures.Add(1)
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

// Starter races Start calls over the same applications. Every call either
// opens the single active session, resumes it or sees the application closed.
func Starter(ctx context.Context, svc Interviews, appIDs []string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := svc.Start(ctx, appIDs[rand.Intn(len(appIDs))])
		stats.record(err)
		pause(5, 20)
	}
	return nil
}

// Submitter plays an applicant: it resumes an application's session and
// answers until the interviewer completes it.
func Submitter(ctx context.Context, svc Interviews, appIDs []string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		started, err := svc.Start(ctx, appIDs[rand.Intn(len(appIDs))])
		stats.record(err)
		if err != nil {
			pause(10, 20)
			continue
		}
		for turn := 0; turn < 12 && !stopped(ctx, stop); turn++ {
			res, err := svc.Submit(ctx, started.Session.ID, fmt.Sprintf("answer %d", turn))
			stats.record(err)
			if err != nil {
				break
			}
			if res.IsComplete {
				stats.Decisions.Add(1)
				break
			}
			pause(2, 10)
		}
	}
	return nil
}

// Completer finalises random sessions directly, as the interviewer's
// completion callback would, competing with Submitter's in-band completion.
func Completer(ctx context.Context, svc Interviews, appIDs []string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		started, err := svc.Start(ctx, appIDs[rand.Intn(len(appIDs))])
		stats.record(err)
		if err == nil {
			var flags []string
			for i := rand.Intn(3); i > 0; i-- {
				flags = append(flags, fmt.Sprintf("flag-%d", i))
			}
			_, err = svc.Complete(ctx, interview.CompleteParams{
				SessionID:  started.Session.ID,
				TotalScore: float64(50 + rand.Intn(51)),
				RedFlags:   flags,
			})
			stats.record(err)
			if err == nil {
				stats.Decisions.Add(1)
			}
		}
		pause(30, 60)
	}
	return nil
}

// FlakySender fails roughly one delivery in failEvery.
type FlakySender struct {
	failEvery int
	Sent      atomic.Int64
}

func NewFlakySender(failEvery int) *FlakySender {
	return &FlakySender{failEvery: failEvery}
}

func (f *FlakySender) SendSMS(_ context.Context, phone, _ string) error {
	if phone == "" {
		return errors.New("empty phone")
	}
	if f.failEvery > 0 && rand.Intn(f.failEvery) == 0 {
		return errors.New("simulated sms failure")
	}
	f.Sent.Add(1)
	return nil
}

// Notifier drains the outbox the way the relay does in production.
func Notifier(ctx context.Context, relay *notify.Relay, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		_, err := relay.RunOnce(ctx)
		stats.record(err)
		pause(50, 50)
	}
	return nil
}
