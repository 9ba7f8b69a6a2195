package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/logging"
)

// DefaultQueue is the queue group serve nodes join.
const DefaultQueue = "conclave"

// HandlerFunc answers a raw request payload.
type HandlerFunc func(ctx context.Context, data []byte) ([]byte, error)

// ServeOptions configures ServeFunc and ServeResponder.
type ServeOptions struct {
	Logger logging.Logger
	Queue  string
	// Timeout bounds a single request (0 = unbounded).
	Timeout time.Duration
}

// ServeFunc answers requests on subject with fn. Every message is handled
// in its own goroutine. A failing or panicking handler is answered with a
// PromptReply carrying the error.
func ServeFunc(client *Client, subject string, fn HandlerFunc, optFns ...func(o *ServeOptions)) (*nats.Subscription, error) {
	opts := ServeOptions{Queue: DefaultQueue}
	for _, f := range optFns {
		f(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)

	sub, err := client.QueueSubscribe(subject, opts.Queue, func(msg *nats.Msg) {
		go handle(msg, fn, opts.Timeout, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	logger.Info("natsbus.serving", "subject", subject, "queue", opts.Queue)

	return sub, nil
}

func handle(msg *nats.Msg, fn HandlerFunc, timeout time.Duration, logger logging.Logger) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := safeHandle(ctx, fn, msg.Data)
	if err != nil {
		logger.Warn("natsbus.request.failed", "subject", msg.Subject, "duration", time.Since(start), "error", err.Error())
		out, _ = json.Marshal(PromptReply{Error: err.Error(), Kind: string(core.Classify(err))})
	} else {
		logger.Debug("natsbus.request", "subject", msg.Subject, "duration", time.Since(start))
	}

	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(out); err != nil {
		logger.Warn("natsbus.reply.failed", "subject", msg.Subject, "error", err.Error())
	}
}

func safeHandle(ctx context.Context, fn HandlerFunc, data []byte) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("%w: panic: %v", core.ErrAgentFailure, rec)
		}
	}()
	return fn(ctx, data)
}

// ServeResponder answers PromptRequests on subject with r.
func ServeResponder(client *Client, subject string, r core.Responder, optFns ...func(o *ServeOptions)) (*nats.Subscription, error) {
	return ServeFunc(client, subject, func(ctx context.Context, data []byte) ([]byte, error) {
		var req PromptRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}

		ctx, cancel := withDeadlineMS(ctx, req.DeadlineMS)
		defer cancel()

		content, err := r.Respond(ctx, req.Prompt)
		if err != nil {
			return nil, err
		}

		return json.Marshal(PromptReply{Content: content})
	}, optFns...)
}

// CoordinateRequest is the wire envelope of a remote coordination call. The
// reply is the JSON result payload or a PromptReply carrying the error.
type CoordinateRequest struct {
	Task     string `json:"task"`
	Strategy string `json:"strategy,omitempty"`
	// TimeoutMS overrides the serving node's coordination timeout.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
	// DeadlineMS is the caller's deadline in Unix milliseconds. Coordinate
	// fills it from ctx.
	DeadlineMS int64 `json:"deadline_ms,omitempty"`
}

// Context bounds ctx by the caller's deadline carried in r.
func (r CoordinateRequest) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return withDeadlineMS(ctx, r.DeadlineMS)
}

// Coordinate sends req to a serve node and returns the raw result payload.
func Coordinate(ctx context.Context, client *Client, req CoordinateRequest) (json.RawMessage, error) {
	if req.DeadlineMS == 0 {
		req.DeadlineMS = deadlineMS(ctx)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	msg, err := client.Request(ctx, SubjectCoordinate, data)
	if err != nil {
		return nil, fmt.Errorf("coordinate: %w", err)
	}

	// Result payloads carry their own "error" field but never a "kind".
	var envelope PromptReply
	if json.Unmarshal(msg.Data, &envelope) == nil && envelope.Error != "" && envelope.Kind != "" {
		return nil, remoteError(envelope)
	}

	return json.RawMessage(msg.Data), nil
}
