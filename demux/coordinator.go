// Package demux implements the packet loop and connection-table
// coordinator: the single goroutine that reads the tunnel, parses
// headers, and routes inbound segments to the matching Connection or
// accepts a fresh one for a bound port.
package demux

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/tcptun/tcptun/header/ipv4"
	"github.com/tcptun/tcptun/header/tcpseg"
	"github.com/tcptun/tcptun/internal"
	"github.com/tcptun/tcptun/metrics"
	"github.com/tcptun/tcptun/tcpconn"
)

// ErrAddressInUse is returned by Bind when the port already has a
// pending queue installed.
var ErrAddressInUse = errors.New("demux: address in use")

// ErrPortClosed is returned to a blocked AcceptFrom call when its port
// is unbound while waiting, or when the coordinator terminates.
var ErrPortClosed = errors.New("demux: port closed")

// readBufferSize is large enough for one full segment per spec §6
// (1500 bytes) plus slack, matching the packet loop's read size.
const readBufferSize = 1504

// Coordinator owns the tunnel handle, the four-tuple-to-Connection
// table, and the per-port pending queues. Exactly one goroutine calls
// Run; any goroutine may call the other methods, which take the
// coordinator lock.
type Coordinator struct {
	mu        sync.Mutex
	cond      *sync.Cond
	tun       io.ReadWriter
	logger    *slog.Logger
	metrics   *metrics.Collector
	conns     map[tcpconn.FourTuple]*tcpconn.Conn
	pending   map[uint16][]tcpconn.FourTuple
	terminate bool
}

// New constructs a Coordinator over tun. logger and mc may be nil.
func New(tun io.ReadWriter, logger *slog.Logger, mc *metrics.Collector) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.New()
	}
	c := &Coordinator{
		tun:     tun,
		logger:  logger,
		metrics: mc,
		conns:   make(map[tcpconn.FourTuple]*tcpconn.Conn),
		pending: make(map[uint16][]tcpconn.FourTuple),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Bind installs an empty pending queue for port. It fails with
// ErrAddressInUse if the port is already bound.
func (c *Coordinator) Bind(port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[port]; ok {
		return ErrAddressInUse
	}
	c.pending[port] = nil
	return nil
}

// Unbind removes port's pending queue, waking any blocked AcceptFrom
// calls so they observe ErrPortClosed. Connections still referenced
// by the queue are left in the connection table (minimal-core gap:
// a faithful implementation resets them here).
func (c *Coordinator) Unbind(port uint16) {
	c.mu.Lock()
	delete(c.pending, port)
	c.mu.Unlock()
	c.cond.Broadcast()
}

// AcceptFrom blocks until a four-tuple is queued for port, then pops
// and returns it. It returns ErrPortClosed if port is unbound, or if
// the coordinator terminates, while waiting.
func (c *Coordinator) AcceptFrom(port uint16) (tcpconn.FourTuple, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.terminate {
			return tcpconn.FourTuple{}, ErrPortClosed
		}
		q, ok := c.pending[port]
		if !ok {
			return tcpconn.FourTuple{}, ErrPortClosed
		}
		if len(q) > 0 {
			tuple := q[0]
			c.pending[port] = q[1:]
			return tuple, nil
		}
		c.cond.Wait()
	}
}

// WithConn runs fn with the coordinator lock held and conn set to the
// Connection for tuple, if one exists. It reports whether the
// connection was found.
func (c *Coordinator) WithConn(tuple tcpconn.FourTuple, fn func(conn *tcpconn.Conn)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[tuple]
	if !ok {
		return false
	}
	fn(conn)
	return true
}

// Drop removes tuple's Connection from the table.
func (c *Coordinator) Drop(tuple tcpconn.FourTuple) {
	c.mu.Lock()
	if _, ok := c.conns[tuple]; ok {
		delete(c.conns, tuple)
		c.metrics.ConnectionsActive.Dec()
	}
	c.mu.Unlock()
}

// Terminate sets the terminate flag and wakes listeners blocked in
// AcceptFrom so they return ErrPortClosed. Run does not consult the
// flag: its tunnel read is blocking and uncancellable in the minimal
// core, and Terminate does not unblock it.
func (c *Coordinator) Terminate() {
	c.mu.Lock()
	c.terminate = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Run is the packet loop: it blocks reading whole IPv4 datagrams from
// the tunnel and dispatches each to handleFrame until the tunnel
// returns an error.
func (c *Coordinator) Run() error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.tun.Read(buf)
		if err != nil {
			return err
		}
		c.handleFrame(buf[:n])
	}
}

func (c *Coordinator) handleFrame(frame []byte) {
	ipf, err := ipv4.NewFrame(frame)
	if err != nil {
		c.drop("short ipv4 frame")
		return
	}
	if err := ipf.ValidateSize(ipv4.ProtoTCP); err != nil {
		c.drop(err.Error())
		return
	}
	payload := ipf.Payload()
	tcpf, err := tcpseg.NewFrame(payload)
	if err != nil {
		c.drop("short tcp segment")
		return
	}
	segLen := len(payload)
	body := tcpf.Payload(segLen)
	tuple := tcpconn.FourTuple{
		SrcIP:   *ipf.SourceAddr(),
		SrcPort: tcpf.SourcePort(),
		DstIP:   *ipf.DestinationAddr(),
		DstPort: tcpf.DestinationPort(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[tuple]; ok {
		conn.OnSegment(tcpf, body, c.tun)
		c.metrics.SegmentsReceived.Inc()
		return
	}

	if _, bound := c.pending[tuple.DstPort]; bound {
		conn, ok := tcpconn.Accept(tcpf, tuple, c.tun, c.logger)
		if !ok {
			c.drop("unacceptable non-SYN segment to bound port")
			return
		}
		c.conns[tuple] = conn
		c.pending[tuple.DstPort] = append(c.pending[tuple.DstPort], tuple)
		c.metrics.SegmentsReceived.Inc()
		c.metrics.ConnectionsAccepted.Inc()
		c.metrics.ConnectionsActive.Inc()
		c.logger.Info("connection accepted",
			"id", conn.ID(),
			internal.SlogAddr4("src", &tuple.SrcIP),
			"src_port", tuple.SrcPort,
			internal.SlogAddr4("dst", &tuple.DstIP),
			"dst_port", tuple.DstPort)
		c.cond.Broadcast()
		return
	}

	c.drop("no listener bound for destination port")
}

func (c *Coordinator) drop(reason string) {
	c.metrics.SegmentsDropped.Inc()
	c.logger.Debug("dropping ingress segment", "reason", reason)
}
