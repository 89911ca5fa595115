package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/atelier/internal/channel"
	"github.com/tOgg1/atelier/internal/chat"
)

// StreamConfig configures push streaming.
type StreamConfig struct {
	// Events filters to specific push events (nil = all).
	Events []string

	// ConversationID filters to a single conversation.
	ConversationID string

	// IncludeState adds channel state transitions to the stream.
	IncludeState bool

	// Buffer bounds events waiting to be written.
	Buffer int
}

// DefaultStreamConfig returns the defaults for streaming.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Events: []string{
			chat.PushMessage,
			chat.PushMessageEdited,
			chat.PushMessageDeleted,
			chat.PushConversationDeleted,
		},
		IncludeState: true,
		Buffer:       256,
	}
}

// StreamedEvent is one JSONL line.
type StreamedEvent struct {
	Event          string          `json:"event"`
	At             time.Time       `json:"at"`
	ConversationID string          `json:"conversation_id,omitempty"`
	State          string          `json:"state,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// PushSource is the part of the channel the streamer listens to.
// *channel.Conn satisfies it.
type PushSource interface {
	Subscribe(event string, handler func(data json.RawMessage)) func()
	OnStateChange(fn func(channel.State)) func()
}

// PushStreamer writes push events to out in JSONL format.
type PushStreamer struct {
	source PushSource
	out    io.Writer
	config StreamConfig
	now    func() time.Time
}

// NewPushStreamer creates a streamer over source.
func NewPushStreamer(source PushSource, out io.Writer, config StreamConfig) *PushStreamer {
	if config.Events == nil {
		config.Events = DefaultStreamConfig().Events
	}
	if config.Buffer <= 0 {
		config.Buffer = 256
	}
	return &PushStreamer{
		source: source,
		out:    out,
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Stream writes events until ctx is done or the channel fails. It returns
// nil on cancellation.
func (s *PushStreamer) Stream(ctx context.Context) error {
	events := make(chan StreamedEvent, s.config.Buffer)
	offer := func(ev StreamedEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	for _, name := range s.config.Events {
		unsub := s.source.Subscribe(name, func(data json.RawMessage) {
			id := conversationOf(data)
			if s.config.ConversationID != "" && id != s.config.ConversationID {
				return
			}
			offer(StreamedEvent{Event: name, At: s.now(), ConversationID: id, Data: data})
		})
		defer unsub()
	}
	unsubState := s.source.OnStateChange(func(state channel.State) {
		offer(StreamedEvent{Event: "state", At: s.now(), State: string(state)})
	})
	defer unsubState()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if ev.State == "" || s.config.IncludeState {
				if err := s.writeEvent(ev); err != nil {
					return fmt.Errorf("failed to write event: %w", err)
				}
			}
			switch channel.State(ev.State) {
			case channel.StateFailed, channel.StateClosed:
				return chat.ErrChannelUnavailable
			}
		}
	}
}

func (s *PushStreamer) writeEvent(ev StreamedEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.out, string(data))
	return err
}

// conversationOf extracts the conversation ID from any push payload.
func conversationOf(data json.RawMessage) string {
	var payload struct {
		ConversationID string `json:"conversationId"`
		Message        *struct {
			ConversationID string `json:"conversation_id"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	if id := strings.TrimSpace(payload.ConversationID); id != "" {
		return id
	}
	if payload.Message != nil {
		return strings.TrimSpace(payload.Message.ConversationID)
	}
	return ""
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream push events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, _ := cmd.Flags().GetString("conversation")
			events, _ := cmd.Flags().GetStringSlice("event")
			quiet, _ := cmd.Flags().GetBool("no-state")
			return withSession(cmd, func(ctx context.Context, rt *runtime, s *session) error {
				config := DefaultStreamConfig()
				config.ConversationID = strings.TrimSpace(conversationID)
				config.IncludeState = !quiet
				if len(events) > 0 {
					config.Events = events
				}
				if config.ConversationID != "" {
					// Joining routes pushes of the conversation to this connection.
					if err := s.remote.JoinConversation(ctx, config.ConversationID, s.viewer); err != nil {
						return operationError(chat.EventJoinConversation, err)
					}
				}
				err := NewPushStreamer(s.conn, cmd.OutOrStdout(), config).Stream(ctx)
				return operationError("watch", err)
			})
		},
	}
	cmd.Flags().StringP("conversation", "c", "", "only stream events of this conversation")
	cmd.Flags().StringSlice("event", nil, "only stream these push events")
	cmd.Flags().Bool("no-state", false, "omit channel state transitions")
	return cmd
}
