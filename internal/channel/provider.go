package channel

import (
	"context"
	"sync"
)

// Provider hands out one shared Conn per session. The connection is opened on
// the first Acquire and closed when the last holder releases it.
type Provider struct {
	opts Options

	mu   sync.Mutex
	conn *Conn
	refs int
}

// NewProvider returns a provider that opens connections with opts.
func NewProvider(opts Options) *Provider {
	return &Provider{opts: opts}
}

// Acquire returns the shared connection, opening it if needed, and a release
// function. Re-acquiring while any holder remains returns the same Conn, even
// after it has failed.
func (p *Provider) Acquire(ctx context.Context) (*Conn, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := Open(p.opts)
		if err != nil {
			return nil, nil, err
		}
		p.conn = conn
	}
	p.refs++
	conn := p.conn

	var once sync.Once
	release := func() {
		once.Do(func() { p.release(conn) })
	}
	return conn, release, nil
}

func (p *Provider) release(conn *Conn) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	p.refs--
	if p.refs > 0 {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.mu.Unlock()
	_ = conn.Close()
}

// Refs returns the number of outstanding holders.
func (p *Provider) Refs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}
