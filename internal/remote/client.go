// Package remote wraps channel emissions into typed request/acknowledgement
// operations. It never mutates local state; callers apply the results.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/atelier/internal/chat"
)

// DefaultTimeout bounds the wait for an acknowledgement.
const DefaultTimeout = 10 * time.Second

// Emitter is the subset of the channel used by the client.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
	EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error)
}

// Client issues remote conversation operations.
type Client struct {
	emitter Emitter
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-operation acknowledgement timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New returns a client emitting through emitter.
func New(emitter Emitter, opts ...Option) *Client {
	c := &Client{
		emitter: emitter,
		timeout: DefaultTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "remote").Logger()
	return c
}

// call emits op and decodes its acknowledgement. An ok:false ack becomes a
// *chat.RemoteError so callers can tell rejections from transport failures.
func (c *Client) call(ctx context.Context, op string, payload any) (chat.Ack, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.emitter.EmitWithAck(callCtx, op, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.logger.Warn().Str("op", op).Dur("timeout", c.timeout).Msg("acknowledgement timed out")
			return chat.Ack{}, fmt.Errorf("%s: %w", op, chat.ErrOperationTimedOut)
		}
		return chat.Ack{}, fmt.Errorf("%s: %w", op, err)
	}

	var ack chat.Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return chat.Ack{}, fmt.Errorf("%s: decode ack: %w", op, err)
	}
	if !ack.OK {
		c.logger.Warn().Str("op", op).Str("reason", ack.Error).Msg("operation rejected")
		return ack, &chat.RemoteError{Op: op, Reason: ack.Error}
	}
	return ack, nil
}

func (c *Client) emit(ctx context.Context, op string, payload any) error {
	if err := c.emitter.Emit(ctx, op, payload); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
