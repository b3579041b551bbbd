package tcpseg

import (
	"testing"

	"github.com/tcptun/tcptun/header/ipv4"
)

func TestSetHeaderRoundtrip(t *testing.T) {
	payload := []byte("ping")
	buf := make([]byte, HeaderLen+len(payload))
	f, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	f.SetHeader(1234, 80, 1000, 2000, FlagACK|FlagPSH, 65535)
	copy(f.Payload(len(buf)), payload)

	ipbuf := make([]byte, ipv4.HeaderLen)
	ipf, _ := ipv4.NewFrame(ipbuf)
	ipf.SetHeader(ipv4.Fields{
		TTL:           64,
		Protocol:      ipv4.ProtoTCP,
		Source:        [4]byte{10, 0, 0, 1},
		Dest:          [4]byte{10, 0, 0, 2},
		PayloadLength: len(buf),
	})

	cs := f.CalculateChecksum(ipf, ipv4.ProtoTCP, payload)
	f.SetChecksum(cs)

	if f.SourcePort() != 1234 {
		t.Errorf("SourcePort = %d, want 1234", f.SourcePort())
	}
	if f.DestinationPort() != 80 {
		t.Errorf("DestinationPort = %d, want 80", f.DestinationPort())
	}
	if f.Seq() != 1000 {
		t.Errorf("Seq = %d, want 1000", f.Seq())
	}
	if f.Ack() != 2000 {
		t.Errorf("Ack = %d, want 2000", f.Ack())
	}
	if !f.Flags().Has(FlagACK) || !f.Flags().Has(FlagPSH) {
		t.Errorf("Flags = %v, want ACK|PSH", f.Flags())
	}
	if f.DataOffset() != 5 {
		t.Errorf("DataOffset = %d, want 5", f.DataOffset())
	}
	if f.HeaderLength() != HeaderLen {
		t.Errorf("HeaderLength = %d, want %d", f.HeaderLength(), HeaderLen)
	}

	// Checksum self-verifies when recomputed with the field already set.
	if got := f.CalculateChecksum(ipf, ipv4.ProtoTCP, payload); got != 0 {
		t.Errorf("checksum does not self-verify: got %#x", got)
	}
}

func TestFlagsHas(t *testing.T) {
	f := FlagSYN | FlagACK
	if !f.Has(FlagSYN) {
		t.Error("expected SYN set")
	}
	if f.Has(FlagFIN) {
		t.Error("did not expect FIN set")
	}
	if !f.Has(FlagSYN | FlagACK) {
		t.Error("expected SYN|ACK set")
	}
}

func TestPayloadSlicesBeyondHeader(t *testing.T) {
	buf := make([]byte, HeaderLen+3)
	f, _ := NewFrame(buf)
	f.SetDataOffset(5)
	copy(f.Payload(len(buf)), []byte{1, 2, 3})
	if buf[HeaderLen] != 1 || buf[HeaderLen+2] != 3 {
		t.Error("payload written at wrong offset")
	}
}
