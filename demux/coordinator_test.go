package demux

import (
	"testing"

	"github.com/tcptun/tcptun/header/ipv4"
	"github.com/tcptun/tcptun/header/tcpseg"
	"github.com/tcptun/tcptun/tcpconn"
)

// fakeTunnel is a stand-in for tundev.Device: Write records every
// frame sent without blocking; Read blocks forever and is unused by
// these tests since they call handleFrame directly rather than running
// the packet loop.
type fakeTunnel struct {
	writes [][]byte
}

func (f *fakeTunnel) Read(p []byte) (int, error)  { select {} }
func (f *fakeTunnel) Write(p []byte) (int, error) {
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func buildSYN(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq uint32) []byte {
	buf := make([]byte, ipv4.HeaderLen+tcpseg.HeaderLen)
	ipf, _ := ipv4.NewFrame(buf)
	tf, _ := tcpseg.NewFrame(buf[ipv4.HeaderLen:])
	tf.SetHeader(srcPort, dstPort, seq, 0, tcpseg.FlagSYN, 2048)
	ipf.SetHeader(ipv4.Fields{TTL: 64, Protocol: ipv4.ProtoTCP, Source: srcIP, Dest: dstIP, PayloadLength: tcpseg.HeaderLen})
	return buf
}

func TestBindConflictAndReuseAfterUnbind(t *testing.T) {
	c := New(&fakeTunnel{}, nil, nil)
	if err := c.Bind(5900); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := c.Bind(5900); err != ErrAddressInUse {
		t.Fatalf("second bind = %v, want ErrAddressInUse", err)
	}
	c.Unbind(5900)
	if err := c.Bind(5900); err != nil {
		t.Fatalf("bind after unbind: %v", err)
	}
}

func TestTwoConcurrentFlowsQueueInArrivalOrder(t *testing.T) {
	tun := &fakeTunnel{}
	c := New(tun, nil, nil)
	if err := c.Bind(22); err != nil {
		t.Fatal(err)
	}
	dstIP := [4]byte{10, 0, 0, 1}
	peerA := [4]byte{10, 0, 0, 2}
	peerB := [4]byte{10, 0, 0, 3}

	c.handleFrame(buildSYN(peerA, dstIP, 4000, 22, 1000))
	c.handleFrame(buildSYN(peerB, dstIP, 4001, 22, 2000))

	first, err := c.AcceptFrom(22)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.AcceptFrom(22)
	if err != nil {
		t.Fatal(err)
	}
	if first.SrcPort != 4000 || first.SrcIP != peerA {
		t.Errorf("first accepted tuple = %+v, want peer A", first)
	}
	if second.SrcPort != 4001 || second.SrcIP != peerB {
		t.Errorf("second accepted tuple = %+v, want peer B", second)
	}
}

func TestHandleFrameRoutesKnownTupleToOnSegment(t *testing.T) {
	tun := &fakeTunnel{}
	c := New(tun, nil, nil)
	c.Bind(22)
	dstIP := [4]byte{10, 0, 0, 1}
	peer := [4]byte{10, 0, 0, 2}
	c.handleFrame(buildSYN(peer, dstIP, 4000, 22, 1000))

	tuple := tcpconn.FourTuple{SrcIP: peer, SrcPort: 4000, DstIP: dstIP, DstPort: 22}
	var state tcpconn.State
	c.WithConn(tuple, func(conn *tcpconn.Conn) { state = conn.State })
	if state != tcpconn.StateSynReceived {
		t.Fatalf("state after SYN = %v, want SynReceived", state)
	}

	ackBuf := make([]byte, ipv4.HeaderLen+tcpseg.HeaderLen)
	ipf, _ := ipv4.NewFrame(ackBuf)
	tf, _ := tcpseg.NewFrame(ackBuf[ipv4.HeaderLen:])
	tf.SetHeader(4000, 22, 1001, 1, tcpseg.FlagACK, 2048)
	ipf.SetHeader(ipv4.Fields{TTL: 64, Protocol: ipv4.ProtoTCP, Source: peer, Dest: dstIP, PayloadLength: tcpseg.HeaderLen})
	c.handleFrame(ackBuf)

	c.WithConn(tuple, func(conn *tcpconn.Conn) { state = conn.State })
	if state != tcpconn.StateFinWait1 {
		t.Fatalf("state after handshake ACK = %v, want FinWait1", state)
	}
	if len(tun.writes) < 2 {
		t.Fatalf("expected at least SYN|ACK and FIN emissions, got %d writes", len(tun.writes))
	}
}

func TestHandleFrameDropsUnboundPort(t *testing.T) {
	tun := &fakeTunnel{}
	c := New(tun, nil, nil)
	dstIP := [4]byte{10, 0, 0, 1}
	peer := [4]byte{10, 0, 0, 2}
	c.handleFrame(buildSYN(peer, dstIP, 4000, 9999, 1000))
	if len(c.conns) != 0 {
		t.Error("segment to unbound port should not create a connection")
	}
	if len(tun.writes) != 0 {
		t.Error("segment to unbound port should not emit anything")
	}
}

func TestHandleFrameDropsMalformedFrame(t *testing.T) {
	c := New(&fakeTunnel{}, nil, nil)
	c.handleFrame([]byte{1, 2, 3})
	if len(c.conns) != 0 {
		t.Error("malformed frame should not create a connection")
	}
}
