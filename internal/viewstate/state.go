// Package viewstate persists client-local viewer state: the signed-in uid,
// per-conversation read markers, compose drafts, and the last open
// conversation.
package viewstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	CurrentVersion = 1

	defaultDebounce = 1 * time.Second
	maxDrafts       = 200
	draftMaxAge     = 30 * 24 * time.Hour
)

type ViewerState struct {
	Version          int                   `json:"version"`
	ViewerUID        string                `json:"viewer_uid,omitempty"`
	ReadMarkers      map[string]ReadMarker `json:"read_markers,omitempty"` // conversation ID -> newest seen message
	Drafts           map[string]Draft      `json:"drafts,omitempty"`       // conversation ID -> unsent text
	LastConversation string                `json:"last_conversation,omitempty"`
}

type ReadMarker struct {
	MessageID string    `json:"message_id"`
	At        time.Time `json:"at"`
}

type Draft struct {
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// Manager guards a ViewerState file. Mutations are saved after a short
// debounce; Close flushes pending changes.
type Manager struct {
	path     string
	lockPath string

	mu       sync.Mutex
	state    ViewerState
	dirty    bool
	timer    *time.Timer
	debounce time.Duration
	saveErr  error
}

func New(path string) *Manager {
	path = strings.TrimSpace(path)
	return &Manager{
		path:     path,
		lockPath: path + ".lock",
		state:    emptyState(),
		debounce: defaultDebounce,
	}
}

func emptyState() ViewerState {
	return ViewerState{
		Version:     CurrentVersion,
		ReadMarkers: make(map[string]ReadMarker),
		Drafts:      make(map[string]Draft),
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return nil
	}
	loaded, err := m.loadLocked()
	if err != nil {
		return err
	}
	m.state = loaded
	m.dirty = false
	return nil
}

func (m *Manager) Snapshot() ViewerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state)
}

func (m *Manager) ViewerUID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ViewerUID
}

// SetViewerUID switches the signed-in viewer. Markers and drafts belong to
// the previous viewer and are dropped.
func (m *Manager) SetViewerUID(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid = strings.TrimSpace(uid)
	if uid == m.state.ViewerUID {
		return
	}
	m.state = emptyState()
	m.state.ViewerUID = uid
	m.markDirtyLocked()
}

func (m *Manager) ReadMarker(conversationID string) (ReadMarker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marker, ok := m.state.ReadMarkers[strings.TrimSpace(conversationID)]
	return marker, ok
}

// MarkSeen records messageID as the newest message seen in conversationID.
// Older markers never replace newer ones.
func (m *Manager) MarkSeen(conversationID, messageID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversationID = strings.TrimSpace(conversationID)
	messageID = strings.TrimSpace(messageID)
	if conversationID == "" || messageID == "" {
		return
	}
	if m.state.ReadMarkers == nil {
		m.state.ReadMarkers = make(map[string]ReadMarker)
	}
	if prev, ok := m.state.ReadMarkers[conversationID]; ok {
		if prev.MessageID == messageID || prev.At.After(at) {
			return
		}
	}
	m.state.ReadMarkers[conversationID] = ReadMarker{MessageID: messageID, At: at.UTC()}
	m.markDirtyLocked()
}

func (m *Manager) Draft(conversationID string) (Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft, ok := m.state.Drafts[strings.TrimSpace(conversationID)]
	return draft, ok
}

// SetDraft stores draft; empty text deletes it.
func (m *Manager) SetDraft(draft Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := strings.TrimSpace(draft.ConversationID)
	if target == "" {
		return
	}
	if m.state.Drafts == nil {
		m.state.Drafts = make(map[string]Draft)
	}
	if strings.TrimSpace(draft.Text) == "" {
		if _, ok := m.state.Drafts[target]; ok {
			delete(m.state.Drafts, target)
			m.markDirtyLocked()
		}
		return
	}
	draft.ConversationID = target
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = time.Now().UTC()
	}
	m.state.Drafts[target] = draft
	m.markDirtyLocked()
}

func (m *Manager) DeleteDraft(conversationID string) {
	m.SetDraft(Draft{ConversationID: conversationID})
}

func (m *Manager) LastConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LastConversation
}

func (m *Manager) SetLastConversation(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == m.state.LastConversation {
		return
	}
	m.state.LastConversation = conversationID
	m.markDirtyLocked()
}

// Forget drops everything stored for a deleted conversation.
func (m *Manager) Forget(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return
	}
	delete(m.state.ReadMarkers, conversationID)
	delete(m.state.Drafts, conversationID)
	if m.state.LastConversation == conversationID {
		m.state.LastConversation = ""
	}
	m.markDirtyLocked()
}

// Err returns the error of the last background save.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveErr
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	needsSave := m.dirty
	m.mu.Unlock()
	if !needsSave {
		return nil
	}
	return m.SaveNow()
}

func (m *Manager) SaveNow() error {
	m.mu.Lock()
	if m.path == "" {
		m.mu.Unlock()
		return nil
	}
	state := cloneState(m.state)
	m.dirty = false
	m.mu.Unlock()

	state.Version = CurrentVersion
	state = normalizeState(state, time.Now().UTC())

	err := withFileLock(m.lockPath, func() error {
		return writeAtomicJSON(m.path, state)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
	if err != nil {
		m.dirty = true
	}
	return err
}

func (m *Manager) markDirtyLocked() {
	m.dirty = true
	if m.path == "" {
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(m.debounce, func() {
			_ = m.SaveNow()
		})
		return
	}
	_ = m.timer.Reset(m.debounce)
}

func (m *Manager) loadLocked() (ViewerState, error) {
	out := emptyState()
	if err := withFileLock(m.lockPath, func() error {
		payload, err := os.ReadFile(m.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if len(strings.TrimSpace(string(payload))) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return fmt.Errorf("decode %s: %w", m.path, err)
		}
		return nil
	}); err != nil {
		return ViewerState{}, err
	}

	if out.Version <= 0 {
		out.Version = CurrentVersion
	}
	if out.ReadMarkers == nil {
		out.ReadMarkers = make(map[string]ReadMarker)
	}
	if out.Drafts == nil {
		out.Drafts = make(map[string]Draft)
	}
	return out, nil
}

func withFileLock(lockPath string, fn func() error) error {
	if strings.TrimSpace(lockPath) == "" {
		return fn()
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()
	return fn()
}

func writeAtomicJSON(path string, state ViewerState) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// normalizeState drops empty entries, expires old drafts, and caps the
// number of drafts kept.
func normalizeState(state ViewerState, now time.Time) ViewerState {
	markers := make(map[string]ReadMarker, len(state.ReadMarkers))
	for id, marker := range state.ReadMarkers {
		id = strings.TrimSpace(id)
		if id == "" || marker.MessageID == "" {
			continue
		}
		markers[id] = marker
	}
	state.ReadMarkers = markers

	drafts := make([]Draft, 0, len(state.Drafts))
	for id, draft := range state.Drafts {
		draft.ConversationID = strings.TrimSpace(id)
		if draft.ConversationID == "" || strings.TrimSpace(draft.Text) == "" {
			continue
		}
		if !draft.UpdatedAt.IsZero() && now.Sub(draft.UpdatedAt) > draftMaxAge {
			continue
		}
		drafts = append(drafts, draft)
	}
	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].UpdatedAt.After(drafts[j].UpdatedAt)
	})
	if len(drafts) > maxDrafts {
		drafts = drafts[:maxDrafts]
	}
	state.Drafts = make(map[string]Draft, len(drafts))
	for _, draft := range drafts {
		state.Drafts[draft.ConversationID] = draft
	}
	return state
}

func cloneState(state ViewerState) ViewerState {
	out := state
	out.ReadMarkers = make(map[string]ReadMarker, len(state.ReadMarkers))
	for k, v := range state.ReadMarkers {
		out.ReadMarkers[k] = v
	}
	out.Drafts = make(map[string]Draft, len(state.Drafts))
	for k, v := range state.Drafts {
		out.Drafts[k] = v
	}
	return out
}
