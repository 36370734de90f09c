package service

import (
	"errors"
	"net"
	"sync"
)

const pipeBacklog = 8

var errListenerClosed = errors.New("accept failed: listener closed")

// PipeListener is an in-memory net.Listener. Connections are created with
// Dial, each one a net.Pipe whose server end is handed to Accept.
// Up to pipeBacklog dialed connections wait for Accept.
type PipeListener struct {
	conns   chan net.Conn
	closech chan struct{}
	once    sync.Once
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// NewPipeListener returns a listener with no pending connections.
func NewPipeListener() *PipeListener {
	return &PipeListener{conns: make(chan net.Conn, pipeBacklog), closech: make(chan struct{})}
}

// Dial connects to the listener. It blocks while the backlog is full.
func (l *PipeListener) Dial() (net.Conn, error) {
	server, client := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.closech:
		server.Close()
		client.Close()
		return nil, errListenerClosed
	}
}

// Accept waits for the next call to Dial.
func (l *PipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closech:
		return nil, errListenerClosed
	}
}

// Close closes the listener. Connections already accepted stay open.
func (l *PipeListener) Close() error {
	l.once.Do(func() { close(l.closech) })
	return nil
}

// Addr returns the listener's network address.
func (l *PipeListener) Addr() net.Addr {
	return pipeAddr{}
}

// ListenerPipe returns a full-duplex in-memory connection, like net.Pipe.
// Unlike net.Pipe one end of the connection is returned as an object
// satisfying the net.Listener interface.
// The first call to the Accept method of this object will return a net.Conn
// connected to the other net.Conn returned by ListenerPipe.
func ListenerPipe() (net.Listener, net.Conn) {
	l := NewPipeListener()
	conn, _ := l.Dial()
	return l, conn
}
