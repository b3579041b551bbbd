// Package tunstack exposes the process-wide socket-like API: an
// Interface owns the tunnel and the background packet loop; Listener
// and Stream are thin handles shared with application goroutines,
// each carrying a strong reference to the coordinator rather than any
// state of their own.
package tunstack

import (
	"errors"
	"io"
	"log/slog"

	"github.com/tcptun/tcptun/demux"
	"github.com/tcptun/tcptun/metrics"
	"github.com/tcptun/tcptun/tcpconn"
)

// ErrWouldBlock is returned by Stream.Read/Write/Flush when the
// operation cannot complete without buffering bytes the minimal core
// has nowhere to put, or draining bytes that are not yet there.
var ErrWouldBlock = errors.New("tunstack: would block")

// ErrConnectionAborted is returned when a Stream's four-tuple is no
// longer present in the coordinator's connection table.
var ErrConnectionAborted = errors.New("tunstack: connection aborted")

// ErrAddressInUse is returned by Bind when the port is already bound
// on this Interface.
var ErrAddressInUse = demux.ErrAddressInUse

// tunnel is the subset of tundev.Device that the coordinator and
// Connections need; satisfied by *tundev.Device or any test fake.
type tunnel interface {
	io.Reader
	io.Writer
	Close() error
}

// Interface is the process-wide handle: it owns the tunnel device and
// the background packet-loop goroutine.
type Interface struct {
	tun     tunnel
	coord   *demux.Coordinator
	metrics *metrics.Collector
	done    chan struct{}
	loopOK  chan error
}

// New wraps an already-open tunnel device (typically a *tundev.Device)
// into an Interface, spawning the packet loop. logger and mc may be
// nil.
func New(tun tunnel, logger *slog.Logger, mc *metrics.Collector) *Interface {
	if mc == nil {
		mc = metrics.New()
	}
	iface := &Interface{
		tun:     tun,
		coord:   demux.New(tun, logger, mc),
		metrics: mc,
		done:    make(chan struct{}),
		loopOK:  make(chan error, 1),
	}
	go func() {
		err := iface.coord.Run()
		iface.loopOK <- err
		close(iface.done)
	}()
	return iface
}

// Close signals termination, closes the tunnel, and waits for the
// packet-loop goroutine to exit. It returns only once the loop's
// pending Read has returned; closing a *tundev.Device does not by
// itself wake a Read already blocked on it.
func (iface *Interface) Close() error {
	iface.coord.Terminate()
	err := iface.tun.Close()
	<-iface.done
	return err
}

// Bind reserves port and returns a Listener for it, or
// ErrAddressInUse if the port is already bound on this Interface.
func (iface *Interface) Bind(port uint16) (*Listener, error) {
	if err := iface.coord.Bind(port); err != nil {
		return nil, err
	}
	return &Listener{port: port, coord: iface.coord, tun: iface.tun, metrics: iface.metrics}, nil
}

// Listener is a bound port's pending-connection queue handle.
type Listener struct {
	port    uint16
	coord   *demux.Coordinator
	tun     io.Writer
	metrics *metrics.Collector
}

// Accept blocks until a SYN has created a connection on this
// listener's port and returns a Stream for it. The connection is
// queued as soon as the SYN|ACK is sent, so Accept does not wait for
// the peer's handshake ACK.
func (l *Listener) Accept() (*Stream, error) {
	tuple, err := l.coord.AcceptFrom(l.port)
	if err != nil {
		return nil, err
	}
	return &Stream{tuple: tuple, coord: l.coord, tun: l.tun, metrics: l.metrics}, nil
}

// Close unbinds the port. Connections still queued but not yet
// accepted are left in the connection table (minimal-core gap: a
// faithful implementation resets them here).
func (l *Listener) Close() error {
	l.coord.Unbind(l.port)
	return nil
}

// Stream is a bound, handshaken connection's read/write handle.
type Stream struct {
	tuple   tcpconn.FourTuple
	coord   *demux.Coordinator
	tun     io.Writer
	metrics *metrics.Collector
}

// Read copies up to len(buf) bytes from the head of the connection's
// incoming queue. It returns ErrWouldBlock if the queue is empty
// rather than blocking, per the minimal core (no per-connection
// readability condition variable yet).
func (s *Stream) Read(buf []byte) (int, error) {
	var n int
	var readErr error
	ok := s.coord.WithConn(s.tuple, func(c *tcpconn.Conn) {
		n, readErr = c.Read(buf)
	})
	if !ok {
		return 0, ErrConnectionAborted
	}
	if readErr != nil || n == 0 {
		return 0, ErrWouldBlock
	}
	s.metrics.BytesDelivered.Add(float64(n))
	return n, nil
}

// Write appends up to min(len(buf), room) bytes to the connection's
// outgoing queue and returns the count. It never itself emits a
// segment (minimal-core gap: the writer is not wired to egress).
func (s *Stream) Write(buf []byte) (int, error) {
	var n int
	ok := s.coord.WithConn(s.tuple, func(c *tcpconn.Conn) {
		n = c.AppendOutgoing(buf)
	})
	if !ok {
		return 0, ErrConnectionAborted
	}
	if n == 0 && len(buf) > 0 {
		return 0, ErrWouldBlock
	}
	s.metrics.BytesSent.Add(float64(n))
	return n, nil
}

// Flush succeeds iff the outgoing queue is empty.
func (s *Stream) Flush() error {
	var empty bool
	ok := s.coord.WithConn(s.tuple, func(c *tcpconn.Conn) {
		empty = c.OutgoingLen() == 0
	})
	if !ok {
		return ErrConnectionAborted
	}
	if !empty {
		return ErrWouldBlock
	}
	return nil
}

// Shutdown, when the connection is Established, sends a FIN directly
// to the tunnel and advances the connection to FinWait1; in any other
// state it sends nothing and returns nil. This is the one place an application
// goroutine emits a segment outside the packet loop, which sidesteps
// the concurrency model's "application threads never emit segments
// directly" invariant (minimal-core gap, flagged by design).
func (s *Stream) Shutdown() error {
	var err error
	ok := s.coord.WithConn(s.tuple, func(c *tcpconn.Conn) {
		err = c.Shutdown(s.tun)
	})
	if !ok {
		return ErrConnectionAborted
	}
	return err
}
