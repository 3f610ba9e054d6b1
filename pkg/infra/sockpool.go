package infra

import (
	"net"
	"sync"
	"time"
)

// idleExpiry is how long a pooled UDP socket may sit unused before the
// reaper closes it.
const idleExpiry = 60 * time.Second

// pooledConn wraps a UDP connection with its last-use timestamp.
type pooledConn struct {
	conn     *net.UDPConn
	lastUsed time.Time
}

// SocketPool caches outbound UDP sockets per destination address so the
// recursive resolver isn't paying connect/bind cost on every query to a
// hot server.
type SocketPool struct {
	mu    sync.Mutex
	conns map[string]*pooledConn

	stop chan struct{}
	done chan struct{}
}

// NewSocketPool creates a pool and starts its idle-connection reaper.
func NewSocketPool() *SocketPool {
	p := &SocketPool{
		conns: make(map[string]*pooledConn),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Get returns a connected UDP socket for addr, creating one if none is
// pooled or the pooled one has gone stale.
func (p *SocketPool) Get(addr string) (*net.UDPConn, error) {
	p.mu.Lock()
	if pc, ok := p.conns[addr]; ok {
		pc.lastUsed = time.Now()
		p.mu.Unlock()
		return pc.conn, nil
	}
	p.mu.Unlock()

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if pc, ok := p.conns[addr]; ok {
		// Lost a race with another goroutine; keep theirs, close ours.
		p.mu.Unlock()
		_ = conn.Close()
		pc.lastUsed = time.Now()
		return pc.conn, nil
	}
	p.conns[addr] = &pooledConn{conn: conn, lastUsed: time.Now()}
	p.mu.Unlock()
	return conn, nil
}

// Discard closes and removes addr's pooled socket, used after a send/recv
// error so the next Get starts clean.
func (p *SocketPool) Discard(addr string) {
	p.mu.Lock()
	pc, ok := p.conns[addr]
	if ok {
		delete(p.conns, addr)
	}
	p.mu.Unlock()
	if ok {
		_ = pc.conn.Close()
	}
}

func (p *SocketPool) reapLoop() {
	defer close(p.done)
	t := time.NewTicker(idleExpiry / 2)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.reapIdle()
		case <-p.stop:
			return
		}
	}
}

func (p *SocketPool) reapIdle() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, pc := range p.conns {
		if now.Sub(pc.lastUsed) >= idleExpiry {
			_ = pc.conn.Close()
			delete(p.conns, addr)
		}
	}
}

// Close stops the reaper and closes every pooled socket.
func (p *SocketPool) Close() error {
	close(p.stop)
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, pc := range p.conns {
		_ = pc.conn.Close()
		delete(p.conns, addr)
	}
	return nil
}
