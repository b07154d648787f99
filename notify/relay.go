package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"brokeronboard/application"
	"brokeronboard/config"
	"brokeronboard/interview"
	"brokeronboard/logger"
	"brokeronboard/metrics"
)

// Processor claims and settles outbox batches.
type Processor interface {
	Process(ctx context.Context, limit, maxAttempts int, fn Handler) (Summary, error)
}

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// ErrNoRecipient signals a decision event without a phone number.
var ErrNoRecipient = errors.New("notify: event has no recipient phone")

// Relay polls the outbox and texts applicants their interview decision.
type Relay struct {
	store       Processor
	sender      SMSSender
	log         *zap.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// NewRelay builds a relay from the notifications config.
func NewRelay(store Processor, sender SMSSender, cfg config.NotificationsConfig, log *zap.Logger) *Relay {
	r := &Relay{
		store:       store,
		sender:      sender,
		log:         logger.OrNop(log),
		interval:    cfg.PollInterval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
	}
	if r.interval <= 0 {
		r.interval = 2 * time.Second
	}
	if r.batchSize <= 0 {
		r.batchSize = 10
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 5
	}
	return r
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("outbox relay started",
		zap.Duration("poll_interval", r.interval),
		zap.Int("batch_size", r.batchSize))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return ctx.Err()
		case <-timer.C:
		}

		summary, err := r.RunOnce(ctx)
		next := r.interval
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.log.Warn("outbox batch failed", zap.Error(err))
		} else if summary.Total() >= r.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// RunOnce processes a single batch.
func (r *Relay) RunOnce(ctx context.Context) (Summary, error) {
	summary, err := r.store.Process(ctx, r.batchSize, r.maxAttempts, r.deliver)
	if err != nil {
		return summary, err
	}
	metrics.NotificationsPublished.WithLabelValues(string(OutcomeProcessed)).Add(float64(summary.Processed))
	metrics.NotificationsPublished.WithLabelValues(string(OutcomeRetry)).Add(float64(summary.Retried))
	metrics.NotificationsPublished.WithLabelValues(string(OutcomeDead)).Add(float64(summary.Dead))
	if summary.Dead > 0 {
		r.log.Error("outbox messages dead-lettered", zap.Int("count", summary.Dead))
	}
	return summary, nil
}

func (r *Relay) deliver(ctx context.Context, m Message) error {
	switch m.Topic {
	case interview.TopicApplicationDecided:
		var event interview.DecisionEvent
		if err := json.Unmarshal(m.Payload, &event); err != nil {
			return fmt.Errorf("notify: decode %s payload: %w", m.Topic, err)
		}
		if strings.TrimSpace(event.Phone) == "" {
			return ErrNoRecipient
		}
		if err := r.sender.SendSMS(ctx, event.Phone, DecisionText(event)); err != nil {
			r.log.Warn("decision sms failed",
				zap.Int64("outbox_id", m.ID),
				zap.String("application_id", event.ApplicationID),
				logger.Phone("phone", event.Phone),
				zap.Int("attempt", m.Attempts+1),
				zap.Error(err))
			return err
		}
		r.log.Info("decision sms sent",
			zap.Int64("outbox_id", m.ID),
			zap.String("application_id", event.ApplicationID),
			zap.String("result", string(event.Result)))
		return nil
	default:
		r.log.Warn("skipping outbox message with unknown topic", zap.Int64("outbox_id", m.ID), zap.String("topic", m.Topic))
		return nil
	}
}

// DecisionText renders the SMS an applicant receives for a decision.
func DecisionText(e interview.DecisionEvent) string {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = "there"
	}
	if e.Result == application.ResultApproved {
		return fmt.Sprintf("Hi %s, congratulations! Your broker application has been approved. You can now sign in with your phone number.", name)
	}
	return fmt.Sprintf("Hi %s, thank you for completing the broker interview. Unfortunately your application was not approved this time.", name)
}
