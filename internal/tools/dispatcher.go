package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/metrics"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/logger"
)

// Error codes carried in the uniform tool envelope.
const (
	CodeUnknownTool        = "unknown_tool"
	CodeValidationError    = "validation_error"
	CodeNotFound           = "not_found"
	CodeBackendUnavailable = "backend_unavailable"
	CodeTimeout            = "timeout"
	CodeInternalError      = "internal_error"
)

// Handler processes one tool call. Handlers return domain errors; the
// dispatcher owns translating them into the envelope.
type Handler func(ctx context.Context, args Args) (interface{}, error)

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the envelope every tool call resolves to, success or failure.
// allowedToAnswer is the single signal callers gate generation on.
type Result struct {
	AllowedToAnswer bool        `json:"allowedToAnswer"`
	Tool            string      `json:"tool"`
	Data            interface{} `json:"data,omitempty"`
	Error           *ErrorInfo  `json:"error,omitempty"`
}

// allower lets a payload veto answering even though the call succeeded,
// e.g. a search that found nothing above threshold.
type allower interface {
	Allowed() bool
}

type Dispatcher struct {
	handlers map[string]Handler
	timeout  time.Duration
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		timeout:  timeout,
	}
}

func (d *Dispatcher) Register(name string, handler Handler) {
	d.handlers[name] = handler
}

func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch runs one tool call and always returns an envelope. Faults never
// escape: handler errors, panics, and timeouts all land in Result.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args Args) *Result {
	start := time.Now()

	handler, ok := d.handlers[name]
	if !ok {
		metrics.QueryTotal.WithLabelValues(name, "error").Inc()
		return &Result{
			AllowedToAnswer: false,
			Tool:            name,
			Error: &ErrorInfo{
				Code:    CodeUnknownTool,
				Message: fmt.Sprintf("unknown tool: %s", name),
			},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	data, err := d.invoke(ctx, handler, args)

	elapsed := time.Since(start)
	metrics.QueryDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		metrics.QueryTotal.WithLabelValues(name, "error").Inc()
		logger.Warn("Tool call failed",
			zap.String("tool", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return &Result{
			AllowedToAnswer: false,
			Tool:            name,
			Error:           classify(ctx, err),
		}
	}

	metrics.QueryTotal.WithLabelValues(name, "success").Inc()

	allowed := true
	if a, ok := data.(allower); ok {
		allowed = a.Allowed()
	}

	return &Result{
		AllowedToAnswer: allowed,
		Tool:            name,
		Data:            data,
	}
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, args Args) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panic: %v", r)
			logger.Error("Tool handler panic", zap.Any("panic", r))
		}
	}()
	return handler(ctx, args)
}

func classify(ctx context.Context, err error) *ErrorInfo {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ErrorInfo{Code: CodeTimeout, Message: "tool call timed out"}
	case toolerr.IsValidation(err):
		return &ErrorInfo{Code: CodeValidationError, Message: err.Error()}
	case toolerr.IsNotFound(err):
		return &ErrorInfo{Code: CodeNotFound, Message: err.Error()}
	case toolerr.IsBackendUnavailable(err):
		return &ErrorInfo{Code: CodeBackendUnavailable, Message: err.Error()}
	default:
		return &ErrorInfo{Code: CodeInternalError, Message: err.Error()}
	}
}
