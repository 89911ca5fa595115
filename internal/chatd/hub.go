package chatd

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tOgg1/atelier/internal/channel"
)

// peer is one websocket connection. Writes go through send and a single
// writer goroutine.
type peer struct {
	uid     string
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.ws.Close()
	})
}

// enqueue queues frame for writing. It reports false when the peer is
// closed or too slow to keep up.
func (p *peer) enqueue(frame channel.Frame) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		p.logger.Error().Err(err).Str("event", frame.Event).Msg("encode frame")
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- payload:
		return true
	default:
		return false
	}
}

func (p *peer) writeLoop(writeTimeout time.Duration) {
	for {
		select {
		case <-p.done:
			return
		case payload := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				p.logger.Debug().Err(err).Msg("write failed")
				p.close()
				return
			}
		}
	}
}

// hub tracks peers by viewer uid and by joined conversation.
type hub struct {
	mu     sync.RWMutex
	peers  map[*peer]struct{}
	byUser map[string]map[*peer]struct{}
	rooms  map[string]map[*peer]struct{}
}

func newHub() *hub {
	return &hub{
		peers:  make(map[*peer]struct{}),
		byUser: make(map[string]map[*peer]struct{}),
		rooms:  make(map[string]map[*peer]struct{}),
	}
}

func (h *hub) add(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p] = struct{}{}
	if p.uid != "" {
		addTo(h.byUser, p.uid, p)
	}
}

func (h *hub) remove(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, p)
	removeFrom(h.byUser, p.uid, p)
	for id := range h.rooms {
		removeFrom(h.rooms, id, p)
	}
}

func (h *hub) join(p *peer, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; !ok {
		return
	}
	addTo(h.rooms, conversationID, p)
}

// audience returns the peers of uids plus the peers that joined
// conversationID, without except.
func (h *hub) audience(conversationID string, uids []string, except *peer) []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*peer]struct{})
	var out []*peer
	collect := func(set map[*peer]struct{}) {
		for p := range set {
			if p == except {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, uid := range uids {
		collect(h.byUser[uid])
	}
	if conversationID != "" {
		collect(h.rooms[conversationID])
	}
	return out
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *hub) closeAll() {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()
	for _, p := range peers {
		p.close()
	}
}

func addTo(index map[string]map[*peer]struct{}, key string, p *peer) {
	set := index[key]
	if set == nil {
		set = make(map[*peer]struct{})
		index[key] = set
	}
	set[p] = struct{}{}
}

func removeFrom(index map[string]map[*peer]struct{}, key string, p *peer) {
	set := index[key]
	if set == nil {
		return
	}
	delete(set, p)
	if len(set) == 0 {
		delete(index, key)
	}
}
