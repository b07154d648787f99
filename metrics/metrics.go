// Package metrics declares the Prometheus collectors for the onboarding workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ApplicationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_applications_created_total",
		Help: "Broker applications accepted for interview.",
	})

	InterviewsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_interviews_started_total",
		Help: "Interview start requests by outcome (new, resumed, fallback_greeting).",
	}, []string{"outcome"})

	InterviewTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_interview_turns_total",
		Help: "Applicant responses processed by outcome.",
	}, []string{"outcome"})

	InterviewDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_interview_decisions_total",
		Help: "Completed interviews by final result.",
	}, []string{"result"})

	InterviewScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "onboarding_interview_adjusted_score",
		Help:    "Adjusted interview score at completion.",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 75, 80, 90, 100},
	})

	Conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_conversions_total",
		Help: "Approved applications promoted to broker accounts, by outcome.",
	}, []string{"outcome"})

	InterviewerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "onboarding_interviewer_request_duration_seconds",
		Help:    "Latency of calls to the AI interviewer service.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	StatusCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_status_cache_lookups_total",
		Help: "Application status cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_notifications_total",
		Help: "Outbox notifications by delivery status (processed, retry, dead).",
	}, []string{"status"})
)
