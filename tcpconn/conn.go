// Package tcpconn implements the per-flow TCP connection engine: state
// machine, send/receive sequence spaces, segment acceptance, and the
// egress header-construction path. It never touches the tunnel device
// directly; callers supply an io.Writer for each emission.
package tcpconn

import (
	"io"
	"log/slog"

	"github.com/rs/xid"

	"github.com/tcptun/tcptun/header/ipv4"
	"github.com/tcptun/tcptun/header/tcpseg"
	"github.com/tcptun/tcptun/internal/ring"
	"github.com/tcptun/tcptun/seqnum"
)

// MaxSegment is the largest IPv4+TCP+payload segment ever emitted.
const MaxSegment = 1500

// outgoingCapacity is the fixed size of the outgoing byte queue and the
// window this endpoint always advertises.
const outgoingCapacity = 1024

// FourTuple is the flow key identifying one TCP connection.
type FourTuple struct {
	SrcIP   [4]byte
	SrcPort uint16
	DstIP   [4]byte
	DstPort uint16
}

// State enumerates the subset of the TCP state machine this engine
// reaches. Closed, Listen, CloseWait, LastAck and Closing are reserved
// names for a future, fuller state machine; they are never assigned.
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateTimeWait
	StateCloseWait
	StateLastAck
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateListen:
		return "Listen"
	case StateSynReceived:
		return "SynReceived"
	case StateEstablished:
		return "Established"
	case StateFinWait1:
		return "FinWait1"
	case StateFinWait2:
		return "FinWait2"
	case StateTimeWait:
		return "TimeWait"
	case StateCloseWait:
		return "CloseWait"
	case StateLastAck:
		return "LastAck"
	case StateClosing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// SendSequenceSpace tracks the local side's view of the outgoing
// sequence space (RFC 793 section 3.2).
type SendSequenceSpace struct {
	UNA seqnum.Value // oldest unacknowledged sequence number
	NXT seqnum.Value // next sequence number to send
	WND seqnum.Size  // window this endpoint advertises in its segments
	ISS seqnum.Value // initial send sequence number
	UP  bool         // urgent pointer flag, carried but unused
	WL1 seqnum.Value // seq of last window update (reserved)
	WL2 seqnum.Value // ack of last window update (reserved)
}

// RecvSequenceSpace tracks the local side's view of the incoming
// sequence space.
type RecvSequenceSpace struct {
	NXT seqnum.Value // next sequence number expected
	WND seqnum.Size  // window taken from the peer's SYN; sizes the acceptance test
	IRS seqnum.Value // peer's initial sequence number
	UP  bool         // carried, unused
}

// Availability is a bitset of operations the application may usefully
// perform on a Connection right now.
type Availability uint8

const (
	AvailRead Availability = 1 << iota
	AvailWrite
)

// Conn is one user-space TCP connection riding over a tunnel device.
// All mutation of a Conn happens while its owning coordinator holds
// its lock; Conn itself performs no locking.
type Conn struct {
	Tuple FourTuple
	State State
	Send  SendSequenceSpace
	Recv  RecvSequenceSpace

	incoming *ring.Buffer
	outgoing *ring.Buffer

	// buf backs ip and tcp: the cached egress header templates,
	// rewritten in place on every write per §4.3.
	buf [MaxSegment]byte
	ip  ipv4.Frame
	tcp tcpseg.Frame

	id     xid.ID
	logger *slog.Logger
}

// ID returns the opaque identifier used to correlate this connection
// across log lines. It carries no protocol meaning.
func (c *Conn) ID() string { return c.id.String() }

// Accept examines an inbound segment addressed to a bound port. If it
// carries SYN, a new Connection is constructed in SynReceived and the
// SYN|ACK is emitted on w; otherwise Accept returns ok=false and the
// segment is the caller's to silently drop.
func Accept(tcpIn tcpseg.Frame, tuple FourTuple, w io.Writer, logger *slog.Logger) (c *Conn, ok bool) {
	if !tcpIn.Flags().Has(tcpseg.FlagSYN) {
		return nil, false
	}
	c = &Conn{
		Tuple:    tuple,
		id:       xid.New(),
		logger:   logger,
		incoming: ring.New(outgoingCapacity),
		outgoing: ring.New(outgoingCapacity),
	}
	c.ip, _ = ipv4.NewFrame(c.buf[:ipv4.HeaderLen])
	c.tcp, _ = tcpseg.NewFrame(c.buf[ipv4.HeaderLen : ipv4.HeaderLen+tcpseg.HeaderLen])

	const iss = seqnum.Value(0) // deterministic ISS in the minimal core
	c.Send = SendSequenceSpace{UNA: iss, NXT: iss, WND: outgoingCapacity, ISS: iss}
	c.Recv = RecvSequenceSpace{
		IRS: seqnum.Value(tcpIn.Seq()),
		NXT: seqnum.Value(tcpIn.Seq()).Add(1),
		WND: seqnum.Size(tcpIn.Window()),
	}

	c.ip.SetHeader(ipv4.Fields{
		TTL:      64,
		Protocol: ipv4.ProtoTCP,
		Source:   tuple.DstIP,
		Dest:     tuple.SrcIP,
	})
	c.tcp.SetHeader(tuple.DstPort, tuple.SrcPort, uint32(iss), uint32(c.Recv.NXT),
		tcpseg.FlagSYN|tcpseg.FlagACK, uint16(c.Send.WND))
	c.State = StateSynReceived

	c.Write(w, nil)
	return c, true
}

// Write builds one IPv4+TCP segment from the current templates plus
// up to len(payload) bytes, writes it to w, and advances SND.nxt. SYN
// and FIN are one-shot: if set on the template, write emits them once
// and clears the bit.
func (c *Conn) Write(w io.Writer, payload []byte) (int, error) {
	maxPayload := MaxSegment - ipv4.HeaderLen - tcpseg.HeaderLen
	n := len(payload)
	if n > maxPayload {
		n = maxPayload
	}

	c.tcp.SetSeq(uint32(c.Send.NXT))
	c.tcp.SetAck(uint32(c.Recv.NXT))

	total := ipv4.HeaderLen + tcpseg.HeaderLen + n
	body := c.buf[ipv4.HeaderLen+tcpseg.HeaderLen : total]
	copy(body, payload[:n])

	c.ip.SetHeader(ipv4.Fields{
		TTL:           64,
		Protocol:      ipv4.ProtoTCP,
		Source:        *c.ip.SourceAddr(),
		Dest:          *c.ip.DestinationAddr(),
		PayloadLength: tcpseg.HeaderLen + n,
	})
	c.ip.SetChecksum(c.ip.CalculateChecksum())
	c.tcp.SetChecksum(0)
	c.tcp.SetChecksum(c.tcp.CalculateChecksum(c.ip, ipv4.ProtoTCP, body))

	if _, err := w.Write(c.buf[:total]); err != nil {
		return 0, err
	}

	c.Send.NXT = c.Send.NXT.Add(seqnum.Size(n))
	flags := c.tcp.Flags()
	if flags.Has(tcpseg.FlagSYN) {
		c.Send.NXT = c.Send.NXT.Add(1)
		flags &^= tcpseg.FlagSYN
		c.tcp.SetFlags(flags)
	}
	if flags.Has(tcpseg.FlagFIN) {
		c.Send.NXT = c.Send.NXT.Add(1)
		flags &^= tcpseg.FlagFIN
		c.tcp.SetFlags(flags)
	}
	return n, nil
}

// SendRST emits a RST segment. Known deficiency (flagged by design):
// seq and ack are both zero rather than RFC 793's SND.nxt /
// received.ack rule for synchronized and unsynchronized resets.
func (c *Conn) SendRST(w io.Writer) error {
	c.tcp.SetSeq(0)
	c.tcp.SetAck(0)
	c.tcp.SetFlags(tcpseg.FlagRST)
	total := ipv4.HeaderLen + tcpseg.HeaderLen
	c.ip.SetHeader(ipv4.Fields{
		TTL:      64,
		Protocol: ipv4.ProtoTCP,
		Source:   *c.ip.SourceAddr(),
		Dest:     *c.ip.DestinationAddr(),
	})
	c.ip.SetChecksum(c.ip.CalculateChecksum())
	c.tcp.SetChecksum(0)
	c.tcp.SetChecksum(c.tcp.CalculateChecksum(c.ip, ipv4.ProtoTCP, nil))
	_, err := w.Write(c.buf[:total])
	c.tcp.SetFlags(0)
	return err
}

// acceptable implements the four-case segment acceptance test.
func acceptable(rcvNxt seqnum.Value, rcvWnd seqnum.Size, seq seqnum.Value, slen seqnum.Size) bool {
	wend := rcvNxt.Add(rcvWnd)
	switch {
	case slen == 0 && rcvWnd == 0:
		return seq == rcvNxt
	case slen == 0:
		return seqnum.Between(rcvNxt-1, seq, wend)
	case rcvWnd == 0:
		return false
	default:
		last := seq.Add(slen - 1)
		return seqnum.Between(rcvNxt-1, seq, wend) || seqnum.Between(rcvNxt-1, last, wend)
	}
}

// emitEmptyACK re-advertises current state without consuming any
// template flags beyond forcing ACK on.
func (c *Conn) emitEmptyACK(w io.Writer) {
	c.tcp.SetFlags(c.tcp.Flags() | tcpseg.FlagACK)
	c.Write(w, nil)
}

// OnSegment is the heart of the engine: it applies the acceptance
// test, advances sequence state, drives the state machine, and
// returns the resulting availability. It never fails on untrusted
// input — malformed-but-parsed segments are tolerated by falling
// through to a no-op or a logged drop.
func (c *Conn) OnSegment(tcpIn tcpseg.Frame, payload []byte, w io.Writer) Availability {
	flags := tcpIn.Flags()
	seq := seqnum.Value(tcpIn.Seq())
	hasFIN := flags.Has(tcpseg.FlagFIN)
	hasSYN := flags.Has(tcpseg.FlagSYN)
	slen := seqnum.Size(len(payload))
	if hasFIN {
		slen++
	}
	if hasSYN {
		slen++
	}

	if !acceptable(c.Recv.NXT, c.Recv.WND, seq, slen) {
		c.emitEmptyACK(w)
		return c.availability()
	}

	// Advance only past payload actually consumed here; a FIN's
	// sequence slot is claimed below, once the state machine actually
	// processes it, so a FIN declined this round stays at the window
	// edge for a later call to consume.
	c.Recv.NXT = c.Recv.NXT.Add(seqnum.Size(len(payload)))

	if !flags.Has(tcpseg.FlagACK) {
		if hasSYN {
			c.Recv.NXT = seq.Add(1)
		}
		return c.availability()
	}

	ack := seqnum.Value(tcpIn.Ack())

	switch c.State {
	case StateSynReceived:
		if seqnum.Between(c.Send.UNA-1, ack, c.Send.NXT.Add(1)) {
			c.Send.UNA = ack
			c.State = StateEstablished
			// Minimal-core quirk, flagged by design: a real
			// implementation would stay Established and serve
			// application I/O. Here the endpoint immediately
			// initiates its own close.
			c.tcp.SetFlags(c.tcp.Flags() | tcpseg.FlagFIN)
			c.Write(w, nil)
			c.State = StateFinWait1
		}
		// On failure a correct implementation emits a RST; the
		// minimal core just drops the segment.

	case StateEstablished, StateFinWait1, StateFinWait2:
		if seqnum.Between(c.Send.UNA, ack, c.Send.NXT.Add(1)) {
			c.Send.UNA = ack
		}
		if len(payload) > 0 {
			c.incoming.Write(payload)
		}
		if c.State == StateFinWait1 && c.Send.UNA == c.Send.ISS.Add(2) {
			c.State = StateFinWait2
		}
	}

	// c.State is read live here, not a value captured before the
	// switch: a FinWait1->FinWait2 transition just above must still
	// let a FIN carried on the very same segment be consumed below.
	if hasFIN {
		if c.State == StateFinWait2 {
			c.Recv.NXT = c.Recv.NXT.Add(1)
			c.emitEmptyACK(w)
			c.State = StateTimeWait
		} else if c.logger != nil {
			c.logger.Debug("fin received outside finwait2",
				"state", c.State.String(), "seq", tcpIn.Seq())
		}
	}

	return c.availability()
}

func (c *Conn) availability() Availability {
	var a Availability
	if c.incoming.Buffered() > 0 || c.State == StateTimeWait {
		a |= AvailRead
	}
	if c.outgoing.Free() > 0 && c.State < StateFinWait1 {
		a |= AvailWrite
	}
	return a
}

// Read drains up to len(p) bytes from the head of the incoming queue.
func (c *Conn) Read(p []byte) (int, error) {
	return c.incoming.Read(p)
}

// AppendOutgoing buffers up to cap-len(outgoing) bytes from p into the
// outgoing queue, returning the number accepted. It never itself
// triggers an emission — a flusher elsewhere drains outgoing into
// segments (minimal-core gap, flagged by design).
func (c *Conn) AppendOutgoing(p []byte) int {
	n, _ := c.outgoing.Write(p)
	return n
}

// OutgoingLen reports how many bytes are buffered pending flush.
func (c *Conn) OutgoingLen() int { return c.outgoing.Buffered() }

// Shutdown, when the connection is Established, sets FIN on the egress
// template and emits it immediately, advancing to FinWait1. In any
// other state it emits nothing and returns nil. Per §9 this is a minimal-core gap: the
// caller (an application goroutine) emits a segment directly rather
// than going through the packet loop, which the documented
// concurrency model otherwise avoids.
func (c *Conn) Shutdown(w io.Writer) error {
	if c.State != StateEstablished {
		return nil
	}
	c.tcp.SetFlags(c.tcp.Flags() | tcpseg.FlagFIN)
	_, err := c.Write(w, nil)
	c.State = StateFinWait1
	return err
}
