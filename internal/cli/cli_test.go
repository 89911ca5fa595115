package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/config"
	"github.com/tOgg1/atelier/internal/inbox"
)

func TestRootCommandResolvesAliases(t *testing.T) {
	root := newRootCmd("test")
	cases := map[string]string{
		"ls":     "conversations",
		"list":   "conversations",
		"read":   "messages",
		"thread": "messages",
		"rm":     "delete-conversation",
		"ui":     "tui",
	}
	for alias, want := range cases {
		cmd, _, err := root.Find([]string{alias})
		require.NoError(t, err, alias)
		require.Equal(t, want, cmd.Name(), alias)
	}
}

func TestOperationErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&chat.ValidationError{Field: "text", Reason: "empty"}, ExitCodeUsage},
		{&chat.RemoteError{Op: chat.EventEditMessage, Reason: "not owner"}, ExitCodeRejected},
		{chat.ErrChannelUnavailable, ExitCodeUnavailable},
		{fmt.Errorf("wait: %w", chat.ErrOperationTimedOut), ExitCodeUnavailable},
		{context.DeadlineExceeded, ExitCodeUnavailable},
		{errors.New("boom"), ExitCodeFailure},
	}
	for _, tc := range cases {
		err := operationError("op", tc.err)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		require.Equal(t, tc.code, exitErr.Code, tc.err.Error())
		require.ErrorIs(t, err, tc.err)
	}
	require.NoError(t, operationError("op", nil))

	original := Exitf(ExitCodeConfig, "bad config")
	require.Same(t, original, operationError("op", original))
}

func textCmd(stdin string) *cobra.Command {
	cmd := &cobra.Command{Use: "send"}
	cmd.SetIn(strings.NewReader(stdin))
	return cmd
}

func TestResolveText(t *testing.T) {
	text, err := resolveText(textCmd(""), "  hello there ", "")
	require.NoError(t, err)
	require.Equal(t, "hello there", text)

	text, err = resolveText(textCmd("from a pipe\n"), "", "")
	require.NoError(t, err)
	require.Equal(t, "from a pipe", text)

	path := filepath.Join(t.TempDir(), "body.txt")
	require.NoError(t, os.WriteFile(path, []byte("from a file\n"), 0o644))
	text, err = resolveText(textCmd(""), "", path)
	require.NoError(t, err)
	require.Equal(t, "from a file", text)

	_, err = resolveText(textCmd(""), "both", path)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.Code)

	_, err = resolveText(textCmd("   "), "", "")
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.Code)
}

func TestReadYes(t *testing.T) {
	require.True(t, readYes(strings.NewReader("y\n")))
	require.True(t, readYes(strings.NewReader("YES\n")))
	require.False(t, readYes(strings.NewReader("n\n")))
	require.False(t, readYes(strings.NewReader("")))
}

func TestWriteConversationsTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := inbox.Snapshot{
		Viewer: "me",
		Conversations: []chat.Conversation{
			{
				ID:              "c1",
				LastMessageText: "see you\ntomorrow",
				LastMessageAt:   now.Add(-5 * time.Minute),
				UnreadByUser:    map[string]int{"me": 3, "bob": 1},
				Counterpart:     chat.Counterpart{UID: "bob", Name: "Bob"},
			},
			{ID: "c2", Counterpart: chat.Counterpart{UID: "carol", Username: "carol_c"}},
		},
	}
	var out bytes.Buffer
	require.NoError(t, writeConversationsTable(&out, snap, now))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, []string{"ID", "WITH", "UNREAD", "LAST", "PREVIEW"}, strings.Fields(lines[0]))
	require.Equal(t, []string{"c1", "Bob", "3", "5m", "see", "you", "tomorrow"}, strings.Fields(lines[1]))
	require.Equal(t, []string{"c2", "carol_c", "-"}, strings.Fields(lines[2]))

	out.Reset()
	require.NoError(t, writeConversationsTable(&out, inbox.Snapshot{Viewer: "me"}, now))
	require.Contains(t, out.String(), "No conversations yet")
}

func TestWriteConversationsJSONUsesViewerCounter(t *testing.T) {
	snap := inbox.Snapshot{
		Viewer: "me",
		Conversations: []chat.Conversation{
			{ID: "c1", UnreadByUser: map[string]int{"me": 2}, Counterpart: chat.Counterpart{UID: "bob"}},
		},
	}
	var out bytes.Buffer
	require.NoError(t, writeConversationsJSON(&out, snap))
	require.Contains(t, out.String(), `"_id": "c1"`)
	require.Contains(t, out.String(), `"unread_count": 2`)
	require.Contains(t, out.String(), `"firebase_uid": "bob"`)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "a b", truncate("a\n  b", 10))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestGenerateHints(t *testing.T) {
	require.Nil(t, generateHints(hintContext{Action: "send"}))
	require.Nil(t, generateHints(hintContext{Action: "edit", ConversationID: "c1"}))

	hints := generateHints(hintContext{Action: "start", ConversationID: "c1"})
	require.Len(t, hints, 2)
	require.Contains(t, hints[0], "atelier send c1")

	var out bytes.Buffer
	printHints(&out, hintContext{Action: "send", ConversationID: "c1"})
	require.Contains(t, out.String(), "Next steps:")
	require.Contains(t, out.String(), "atelier messages c1")
}

// isolate points config, data and state at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("ATELIER_GLOBAL_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("ATELIER_GLOBAL_CONFIG_DIR", filepath.Join(dir, "config"))
	t.Setenv("ATELIER_CLIENT_VIEWER_UID", "")
	t.Setenv("ATELIER_LOGGING_FILE", "")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoginWhoamiLogout(t *testing.T) {
	isolate(t)

	out, err := run(t, "login", "bob")
	require.NoError(t, err)
	require.Contains(t, out, "Signed in as bob")

	out, err = run(t, "whoami")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "bob @ ws://"), out)

	out, err = run(t, "whoami", "--viewer", "carol")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "carol @"), out)

	out, err = run(t, "logout")
	require.NoError(t, err)
	require.Contains(t, out, "Signed out bob")

	_, err = run(t, "whoami")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.Code)
}

func TestLoginRejectsBlankUID(t *testing.T) {
	isolate(t)
	_, err := run(t, "login", "  ")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.Code)
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config", "config.yaml")

	out, err := run(t, "config", "init")
	require.NoError(t, err)
	require.Contains(t, out, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "channel:")

	_, err = run(t, "config", "init")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.Code)

	_, err = run(t, "config", "init", "--force")
	require.NoError(t, err)
}

func TestTUIRequiresTerminal(t *testing.T) {
	isolate(t)
	_, err := run(t, "tui", "--non-interactive")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.Code)
}

func TestDeleteNeedsConfirmationWithoutTerminal(t *testing.T) {
	cmd := &cobra.Command{Use: "delete"}
	cmd.Flags().Bool("yes", false, "")
	cmd.Flags().Bool("non-interactive", true, "")
	err := confirm(cmd, "Delete?")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, ExitCodeUsage, exitErr.Code)

	require.NoError(t, cmd.Flags().Set("yes", "true"))
	require.NoError(t, confirm(cmd, "Delete?"))
}

func TestTableMeasuresVisibleWidth(t *testing.T) {
	var out bytes.Buffer
	tbl := &table{
		headers:  []string{"A", "B"},
		rows:     [][]string{{"\x1b[1mbold\x1b[0m", "x"}, {"a-very-long-cell", "y"}},
		maxWidth: map[int]int{0: 8},
	}
	require.NoError(t, tbl.write(&out))
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Equal(t, "A         B", lines[0])
	require.Equal(t, "\x1b[1mbold\x1b[0m      x", lines[1])
	require.Equal(t, "a-very-…  y", lines[2])
}

func TestRuntimeSharesChannelProviderPerViewer(t *testing.T) {
	rt := &runtime{cfg: config.DefaultConfig(), logger: zerolog.Nop()}

	first := rt.channelProvider("alice")
	require.Same(t, first, rt.channelProvider("alice"))
	require.Equal(t, 0, first.Refs())

	other := rt.channelProvider("bob")
	require.NotSame(t, first, other)
	require.Same(t, other, rt.channelProvider("bob"))
}
