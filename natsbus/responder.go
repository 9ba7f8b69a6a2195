package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/conclave/core"
)

// DefaultRequestTimeout bounds a remote call whose ctx carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// ErrRemote wraps failures reported by the serving side.
var ErrRemote = errors.New("remote agent error")

// PromptRequest is the wire envelope of a prompt.
type PromptRequest struct {
	Prompt string `json:"prompt"`
	// DeadlineMS is the caller's deadline in Unix milliseconds (0 = none).
	DeadlineMS int64 `json:"deadline_ms,omitempty"`
}

// PromptReply is the wire envelope of an answer. Kind carries the
// core.ErrorKind of a failure so the caller can classify it.
type PromptReply struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// ResponderOptions configures a Responder.
type ResponderOptions struct {
	// Timeout applies when ctx has no deadline.
	Timeout time.Duration
}

// Responder is a core.Responder backed by an agent served on a NATS subject.
type Responder struct {
	client  *Client
	subject string
	timeout time.Duration
}

// NewResponder creates a Responder sending prompts to subject.
func NewResponder(client *Client, subject string, optFns ...func(o *ResponderOptions)) *Responder {
	opts := ResponderOptions{Timeout: DefaultRequestTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Responder{client: client, subject: subject, timeout: opts.Timeout}
}

// Subject returns the subject prompts are sent to.
func (r *Responder) Subject() string { return r.subject }

// Respond implements core.Responder.
func (r *Responder) Respond(ctx context.Context, prompt string) (string, error) {
	if _, ok := ctx.Deadline(); !ok && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	data, err := json.Marshal(PromptRequest{Prompt: prompt, DeadlineMS: deadlineMS(ctx)})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	msg, err := r.client.Request(ctx, r.subject, data)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return "", fmt.Errorf("%s: %w: %w", r.subject, core.ErrTimeout, err)
		case errors.Is(err, nats.ErrNoResponders):
			return "", fmt.Errorf("%s: no agent is serving this subject: %w", r.subject, err)
		default:
			return "", fmt.Errorf("%s: %w", r.subject, err)
		}
	}

	var reply PromptReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}

	if reply.Error != "" {
		return "", remoteError(reply)
	}

	return reply.Content, nil
}

func remoteError(reply PromptReply) error {
	switch core.ErrorKind(reply.Kind) {
	case core.KindTimeout:
		return fmt.Errorf("%w: %w: %s", ErrRemote, core.ErrTimeout, reply.Error)
	case core.KindRateLimited:
		return fmt.Errorf("%w: %w: %s", ErrRemote, core.ErrRateLimited, reply.Error)
	default:
		return fmt.Errorf("%w: %s", ErrRemote, reply.Error)
	}
}

func deadlineMS(ctx context.Context) int64 {
	if d, ok := ctx.Deadline(); ok {
		return d.UnixMilli()
	}
	return 0
}

// withDeadlineMS bounds ctx by a deadline received on the wire.
func withDeadlineMS(ctx context.Context, ms int64) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, time.UnixMilli(ms))
}
