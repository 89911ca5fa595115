package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConversationFromDTOUsesLegacyUnreadCount(t *testing.T) {
	var dto ConversationDTO
	require.NoError(t, json.Unmarshal([]byte(`{
		"_id": "c1",
		"lastMessageText": "hey",
		"lastMessageAt": "2026-01-02T03:04:05Z",
		"unread_count": 3,
		"otherUser": {"firebase_uid": "u2", "username": "ink", "profil_url": "https://cdn/u2.png"}
	}`), &dto))

	conv := ConversationFromDTO(dto, "u1")
	require.Equal(t, "c1", conv.ID)
	require.Equal(t, "hey", conv.LastMessageText)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), conv.LastMessageAt)
	require.Equal(t, 3, conv.UnreadFor("u1"))
	require.Equal(t, "ink", conv.Counterpart.DisplayName())
	require.Equal(t, "https://cdn/u2.png", conv.Counterpart.AvatarURL)
}

func TestConversationFromDTOPrefersUnreadByUser(t *testing.T) {
	legacy := 9
	conv := ConversationFromDTO(ConversationDTO{
		ID:           "c1",
		UnreadCount:  &legacy,
		UnreadByUser: map[string]int{"u1": 2, "u2": -4},
	}, "u1")
	require.Equal(t, 2, conv.UnreadFor("u1"))
	require.Equal(t, 0, conv.UnreadFor("u2"))
	require.True(t, conv.LastMessageAt.IsZero())
}

func TestCloneDoesNotShareUnreadMap(t *testing.T) {
	conv := Conversation{ID: "c1", UnreadByUser: map[string]int{"u1": 1}}
	clone := conv.Clone()
	clone.UnreadByUser["u1"] = 5
	require.Equal(t, 1, conv.UnreadFor("u1"))
}

func TestSortMessagesIsStable(t *testing.T) {
	at := time.Unix(100, 0)
	msgs := []Message{
		{ID: "b", CreatedAt: at},
		{ID: "z", CreatedAt: at.Add(-time.Second)},
		{ID: "a", CreatedAt: at},
	}
	SortMessages(msgs)
	require.Equal(t, []string{"z", "b", "a"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestNormalizeText(t *testing.T) {
	text, err := NormalizeText("  hi  ")
	require.NoError(t, err)
	require.Equal(t, "hi", text)

	_, err = NormalizeText(" \n\t")
	require.True(t, IsValidation(err))

	_, err = NormalizeText(strings.Repeat("é", MaxTextLength+1))
	require.True(t, IsValidation(err))
}

func TestRemoteErrorHelpers(t *testing.T) {
	err := fmt.Errorf("edit: %w", &RemoteError{Op: EventEditMessage, Reason: ReasonNotOwner})
	require.True(t, IsRemote(err))
	require.Equal(t, ReasonNotOwner, RemoteReason(err))
	require.Contains(t, err.Error(), "editMessage rejected: not owner")
	require.False(t, IsRemote(errors.New("boom")))
	require.Empty(t, RemoteReason(ErrChannelUnavailable))
}

func TestConversationToDTOForViewer(t *testing.T) {
	conv := Conversation{
		ID:              "c1",
		LastMessageText: "hey",
		LastMessageAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UnreadByUser:    map[string]int{"u1": 2, "u2": 0},
		Counterpart:     Counterpart{UID: "u2", Name: "Bo"},
	}
	dto := ConversationToDTO(conv, "u1")
	require.Equal(t, 2, *dto.UnreadCount)
	require.Equal(t, "hey", *dto.LastMessageText)
	require.Equal(t, "u2", dto.OtherUser.UID)

	back := ConversationFromDTO(dto, "u1")
	require.Equal(t, conv.LastMessageAt, back.LastMessageAt)
	require.Equal(t, "Bo", back.Counterpart.DisplayName())

	empty := ConversationToDTO(Conversation{ID: "c2"}, "u1")
	require.Nil(t, empty.LastMessageAt)
	require.Nil(t, empty.OtherUser)
}
