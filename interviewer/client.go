// Package interviewer is the HTTP client of the AI interviewer service.
package interviewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"brokeronboard/interview"
	"brokeronboard/logger"
	"brokeronboard/metrics"
)

var (
	// ErrUnavailable signals a transport failure, timeout or non-2xx status.
	ErrUnavailable = errors.New("interviewer: service unavailable")
	// ErrInvalidReply signals a payload that does not match the expected contract.
	ErrInvalidReply = errors.New("interviewer: invalid reply")
)

const maxBodyBytes = 1 << 20

// Client calls the AI interviewer. It never retries; callers decide how to
// degrade.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
	tracer  trace.Tracer
}

// New creates a client with a per-request timeout.
func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger.OrNop(log),
		tracer:  otel.Tracer("brokeronboard/interviewer"),
	}
}

// Start asks the interviewer for the opening message of an application.
func (c *Client) Start(ctx context.Context, applicationID string) (string, error) {
	var out startResponse
	if err := c.post(ctx, "start", "/api/interview/start", startRequest{ApplicationID: applicationID}, startSchema, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Respond sends the applicant's answer with the current session snapshot.
func (c *Client) Respond(ctx context.Context, s interview.Session, responseText string) (interview.Reply, error) {
	req := respondRequest{SessionState: toSessionState(s), ResponseText: responseText}
	var out respondResponse
	if err := c.post(ctx, "respond", "/api/interview/respond", req, respondSchema, &out); err != nil {
		return interview.Reply{}, err
	}
	return out.toReply(), nil
}

func (c *Client) post(ctx context.Context, op, path string, in any, schema gojsonschema.JSONLoader, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "interviewer."+op, trace.WithSpanKind(trace.SpanKindClient))
	start := time.Now()
	status := "error"
	defer func() {
		metrics.InterviewerRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("interviewer: marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("interviewer: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		status = "transport_error"
		c.log.Warn("interviewer request failed", zap.String("operation", op), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	status = strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", ErrUnavailable, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("interviewer returned error status",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, op, resp.StatusCode)
	}

	if err := validate(schema, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}
	return nil
}
