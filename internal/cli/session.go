package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tOgg1/atelier/internal/channel"
	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/config"
	"github.com/tOgg1/atelier/internal/inbox"
	"github.com/tOgg1/atelier/internal/logging"
	"github.com/tOgg1/atelier/internal/remote"
)

// session is one connected viewer: channel, remote client and reconciler.
type session struct {
	viewer     string
	conn       *channel.Conn
	remote     *remote.Client
	reconciler *inbox.Reconciler
	release    func()
}

func channelOptions(cfg config.ChannelConfig, viewer string, logger zerolog.Logger) channel.Options {
	return channel.Options{
		URL:               cfg.URL,
		ViewerUID:         viewer,
		DialTimeout:       cfg.DialTimeout,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		WriteTimeout:      cfg.WriteTimeout,
		PingInterval:      cfg.PingInterval,
		Logger:            logger,
	}
}

// openSession connects viewer to the daemon. The reconciler is created but
// not started; commands that read state call start.
func openSession(ctx context.Context, rt *runtime, viewer string) (*session, error) {
	logger := logging.WithViewer(rt.logger, viewer)
	conn, release, err := rt.channelProvider(viewer).Acquire(ctx)
	if err != nil {
		return nil, Exitf(ExitCodeConfig, "open channel: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, rt.cfg.Channel.DialTimeout)
	defer cancel()
	if err := conn.WaitConnected(waitCtx); err != nil {
		release()
		return nil, &ExitError{
			Code: ExitCodeUnavailable,
			Err:  fmt.Errorf("connect to %s: %w", rt.cfg.Channel.URL, chat.ErrChannelUnavailable),
		}
	}

	client := remote.New(conn,
		remote.WithTimeout(rt.cfg.Channel.OperationTimeout),
		remote.WithLogger(logger),
	)
	reconciler := inbox.New(viewer, client, conn, logger)
	return &session{
		viewer:     viewer,
		conn:       conn,
		remote:     client,
		reconciler: reconciler,
		release:    release,
	}, nil
}

// start subscribes the reconciler and pulls the conversation list.
func (s *session) start(ctx context.Context) error {
	return operationError(chat.EventGetConversations, s.reconciler.Start(ctx))
}

func (s *session) close() {
	_ = s.reconciler.Close()
	s.release()
}
