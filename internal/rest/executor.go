// Package rest wraps the HTTP round-trip the channel operations share:
// compose the request, apply the auth strategy, send, and classify the
// response status into the error taxonomy. The executor keeps no state of
// its own.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/opendxl/opendxl-streaming-client-go/cerr"
	"github.com/opendxl/opendxl-streaming-client-go/client/auth"
	"github.com/opendxl/opendxl-streaming-client-go/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Request struct {
	// Op names the channel operation for logs, metrics and spans.
	Op          string
	Method      string
	URL         string
	Body        []byte
	ContentType string

	// ConsumerScoped marks requests addressed to a consumer instance: a 404
	// on such a route means the server lost the consumer.
	ConsumerScoped bool
}

type Response struct {
	StatusCode int
	Body       []byte
}

type Executor struct {
	hc   *http.Client
	auth auth.Authenticator
	l    *slog.Logger
}

func New(hc *http.Client, a auth.Authenticator, l *slog.Logger) *Executor {
	return &Executor{
		hc:   hc,
		auth: a,
		l:    l,
	}
}

func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	var span trace.Span
	if observability.TracingEnabled() {
		ctx, span = observability.Tracer().Start(ctx, "channel."+req.Op)
		span.SetAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("url.full", req.URL),
		)
		defer span.End()
	}

	resp, err := e.do(ctx, req)

	observability.IncOp(req.Op)
	if err != nil {
		observability.IncError(req.Op, errKind(err))
		if span != nil {
			span.RecordError(err)
		}
	}

	return resp, err
}

func (e *Executor) do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, cerr.Permanent("%s: build request: %v", req.Op, err)
	}

	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	reqID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", reqID)

	if e.auth != nil {
		if err := e.auth.Authenticate(ctx, httpReq); err != nil {
			return nil, fmt.Errorf("%s: authenticate: %w", req.Op, err)
		}
	}

	start := time.Now()
	httpResp, err := e.hc.Do(httpReq)
	observability.ObserveRequestLatency(req.Op, time.Since(start))
	if err != nil {
		// Transport errors pass through untagged and stay retryable.
		return nil, fmt.Errorf("%s: %w", req.Op, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", req.Op, err)
	}

	e.l.Debug("request done",
		"op", req.Op,
		"method", req.Method,
		"url", req.URL,
		"status", httpResp.StatusCode,
		"request_id", reqID,
	)

	switch httpResp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return &Response{StatusCode: httpResp.StatusCode, Body: respBody}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		// Drop the cached credential so the retry re-acquires it.
		if e.auth != nil {
			e.auth.Reset()
		}
		return nil, cerr.Temporary("%s: status %d", req.Op, httpResp.StatusCode)
	case http.StatusNotFound:
		if req.ConsumerScoped {
			return nil, cerr.ConsumerLoss("%s: consumer not found", req.Op)
		}
		return nil, cerr.Temporary("%s: status %d", req.Op, httpResp.StatusCode)
	default:
		return nil, cerr.Temporary("%s: status %d", req.Op, httpResp.StatusCode)
	}
}

func errKind(err error) string {
	switch {
	case cerr.IsConsumerLoss(err):
		return "consumer"
	case cerr.IsStop(err):
		return "stop"
	case cerr.IsPermanent(err):
		return "permanent"
	case cerr.IsTemporary(err):
		return "temporary"
	default:
		return "transport"
	}
}
