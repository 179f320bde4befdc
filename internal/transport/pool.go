// Package transport implements the TCP connection pool shared by the
// coordinator and brokerage layers: a listening socket, a set of active
// connections, one reader goroutine per connection, and callback-based
// dispatch of decoded chunks.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kreid-dev/fbroker/internal/wire"
)

// Sentinel errors matching the specification's error taxonomy.
var (
	ErrBindFailed   = errors.New("transport: bind failed")
	ErrConnectFailed = errors.New("transport: connect failed")
)

// Conn is an opaque handle to an active connection. Callers never
// inspect its fields directly; it is threaded back through the
// callbacks and the Send/Disconnect operations.
type Conn struct {
	id       uint64
	raw      net.Conn
	pool     *Pool
	userData []byte

	writeMu sync.Mutex // serializes writes to a single connection

	closeOnce sync.Once
	closed    chan struct{}
}

// UserData returns the opaque bytes attached at Connect time (or set
// later via SetUserData), used by the brokerage layer to route inbound
// replies back to the right caller.
func (c *Conn) UserData() []byte {
	return c.userData
}

// SetUserData replaces the opaque bytes attached to this connection.
func (c *Conn) SetUserData(data []byte) {
	c.userData = data
}

// RemoteAddr returns the remote peer's address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Callbacks bundles the capability callbacks the pool invokes. All
// callbacks for a given connection are serialized; callbacks for
// different connections may run concurrently on different goroutines.
type Callbacks struct {
	OnConnected    func(c *Conn)
	OnDisconnected func(c *Conn)
	// OnReceive is invoked once per decoded chunk. If the message's
	// header declares has_payload, OnReceive is called twice in a row
	// for the same logical message: once with the fixed body, once
	// with the payload. keepMemory lets the receiver take ownership of
	// buf instead of letting the pool reuse/discard it.
	OnReceive func(c *Conn, buf []byte, keepMemory *bool)
}

// Pool owns a listening socket (if Listen is called) and the set of
// active connections, whether accepted or dialed.
type Pool struct {
	callbacks Callbacks

	mu       sync.Mutex
	conns    map[uint64]*Conn
	nextID   uint64
	listener net.Listener

	wg sync.WaitGroup

	shutdown   chan struct{}
	shutdownOnce sync.Once
}

// New creates a connection pool that will invoke cb for connection
// lifecycle and inbound data events.
func New(cb Callbacks) *Pool {
	return &Pool{
		callbacks: cb,
		conns:     make(map[uint64]*Conn),
		shutdown:  make(chan struct{}),
	}
}

// Listen opens a passive socket on port and spawns the accept loop.
func (p *Pool) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("%w: port %d: %v", ErrBindFailed, port, err)
	}

	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()

	p.wg.Add(1)
	go p.acceptLoop(ln)
	return nil
}

// Addr returns the bound listening address, or nil if Listen has not
// been called (or has not yet acquired the lock). Used by callers that
// bind an ephemeral port (0) and need to learn which port was chosen.
func (p *Pool) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

func (p *Pool) acceptLoop(ln net.Listener) {
	defer p.wg.Done()
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-p.shutdown:
				return
			default:
				log.Error().Err(err).Msg("transport: accept failed")
				return
			}
		}
		p.adopt(raw, nil)
	}
}

// Connect dials host:port with the given timeout. Returns nil if the
// dial times out or is refused. userData is attached to the resulting
// connection and retrievable from callbacks and Conn.UserData.
func (p *Pool) Connect(host string, port int, timeout time.Duration, userData []byte) *Conn {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	raw, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		log.Debug().Err(err).Str("addr", addr).Msg("transport: connect failed")
		return nil
	}
	return p.adopt(raw, userData)
}

func (p *Pool) adopt(raw net.Conn, userData []byte) *Conn {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	c := &Conn{
		id:       id,
		raw:      raw,
		pool:     p,
		userData: userData,
		closed:   make(chan struct{}),
	}
	p.conns[id] = c
	p.mu.Unlock()

	if p.callbacks.OnConnected != nil {
		p.callbacks.OnConnected(c)
	}

	p.wg.Add(1)
	go p.readLoop(c)
	return c
}

func (p *Pool) readLoop(c *Conn) {
	defer p.wg.Done()
	defer p.teardown(c)

	r := wire.NewReader(c.raw)
	for {
		buf, err := r.ReadChunk()
		if err != nil {
			return
		}
		if p.callbacks.OnReceive != nil {
			keep := false
			p.callbacks.OnReceive(c, buf, &keep)
		}
	}
}

func (p *Pool) teardown(c *Conn) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.raw.Close()

		p.mu.Lock()
		_, existed := p.conns[c.id]
		delete(p.conns, c.id)
		p.mu.Unlock()

		if existed && p.callbacks.OnDisconnected != nil {
			p.callbacks.OnDisconnected(c)
		}
	})
}

// Send writes a framed, fixed-size message body to conn.
func (p *Pool) Send(conn *Conn, body []byte) error {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	return wire.SendMessage(conn.raw, body)
}

// SendWithPayload writes a framed body followed by a framed payload,
// as one atomic operation from the perspective of other writers to the
// same connection.
func (p *Pool) SendWithPayload(conn *Conn, body, payload []byte) error {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	return wire.SendMessageWithPayload(conn.raw, body, payload)
}

// Broadcast writes body to every currently active connection.
func (p *Pool) Broadcast(body []byte) {
	p.mu.Lock()
	targets := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	for _, c := range targets {
		if err := p.Send(c, body); err != nil {
			log.Debug().Err(err).Msg("transport: broadcast send failed")
		}
	}
}

// Disconnect closes conn and schedules cleanup; OnDisconnected fires
// exactly once, from the connection's own read loop unwinding.
func (p *Pool) Disconnect(conn *Conn) {
	conn.raw.Close()
}

// Wait blocks until conn's read loop has exited, i.e. the connection is
// fully torn down and OnDisconnected (if any) has returned.
func (c *Conn) Wait() {
	<-c.closed
}

// ShutdownAll closes every active connection, stops accepting new ones,
// and waits for every reader/accept goroutine to exit.
func (p *Pool) ShutdownAll() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})

	p.mu.Lock()
	if p.listener != nil {
		p.listener.Close()
	}
	conns := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.raw.Close()
	}

	p.wg.Wait()
}

// ActiveCount returns the number of currently active connections.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
