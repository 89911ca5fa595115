package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelUnavailable reports a channel that is not connected or has
	// exhausted its reconnect attempts.
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrOperationTimedOut reports an acknowledgement that did not arrive in time.
	ErrOperationTimedOut = errors.New("operation timed out")
	// ErrNoActiveConversation reports a thread operation without an open conversation.
	ErrNoActiveConversation = errors.New("no active conversation")
)

// ValidationError rejects a request before it is emitted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RemoteError carries the reason of an ok:false acknowledgement.
type RemoteError struct {
	Op     string
	Reason string
}

func (e *RemoteError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("%s rejected: %s", e.Op, reason)
}

// IsRemote reports whether err is a server rejection.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	var invalid *ValidationError
	return errors.As(err, &invalid)
}

// RemoteReason returns the server reason of a rejection, if any.
func RemoteReason(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Reason
	}
	return ""
}
