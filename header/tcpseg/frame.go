// Package tcpseg implements a minimal reader/writer over raw TCP
// segment header bytes: fixed 20-byte header, no options.
package tcpseg

import (
	"encoding/binary"
	"errors"

	"github.com/tcptun/tcptun/internal/crc"
)

// HeaderLen is the size in bytes of a TCP header with no options.
const HeaderLen = 20

// Flag bits of the TCP control-flags octet. Only the low six bits
// defined by RFC 793 are used; ECN/NS bits are not emitted or read.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

var errShort = errors.New("tcpseg: buffer shorter than header")

// Frame wraps a byte slice holding one TCP segment (header + payload).
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a TCP frame. buf must be at least HeaderLen bytes.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

// SourcePort returns the source port field.
func (f Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }

// SetSourcePort sets the source port field.
func (f Frame) SetSourcePort(v uint16) { binary.BigEndian.PutUint16(f.buf[0:2], v) }

// DestinationPort returns the destination port field.
func (f Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetDestinationPort sets the destination port field.
func (f Frame) SetDestinationPort(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }

// Seq returns the sequence number field.
func (f Frame) Seq() uint32 { return binary.BigEndian.Uint32(f.buf[4:8]) }

// SetSeq sets the sequence number field.
func (f Frame) SetSeq(v uint32) { binary.BigEndian.PutUint32(f.buf[4:8], v) }

// Ack returns the acknowledgment number field.
func (f Frame) Ack() uint32 { return binary.BigEndian.Uint32(f.buf[8:12]) }

// SetAck sets the acknowledgment number field.
func (f Frame) SetAck(v uint32) { binary.BigEndian.PutUint32(f.buf[8:12], v) }

// DataOffset returns the data offset field in 32-bit words.
func (f Frame) DataOffset() uint8 { return f.buf[12] >> 4 }

// SetDataOffset sets the data offset field; no options are ever emitted,
// so callers always pass 5.
func (f Frame) SetDataOffset(words uint8) { f.buf[12] = words << 4 }

// HeaderLength returns the header length in bytes, options included.
func (f Frame) HeaderLength() int { return int(f.DataOffset()) * 4 }

// Flags returns the control flags octet.
func (f Frame) Flags() Flags { return Flags(f.buf[13]) }

// SetFlags sets the control flags octet.
func (f Frame) SetFlags(v Flags) { f.buf[13] = byte(v) }

// Window returns the advertised window field.
func (f Frame) Window() uint16 { return binary.BigEndian.Uint16(f.buf[14:16]) }

// SetWindow sets the advertised window field.
func (f Frame) SetWindow(v uint16) { binary.BigEndian.PutUint16(f.buf[14:16], v) }

// Checksum returns the checksum field.
func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[16:18]) }

// SetChecksum sets the checksum field.
func (f Frame) SetChecksum(v uint16) { binary.BigEndian.PutUint16(f.buf[16:18], v) }

// UrgentPtr returns the urgent pointer field. Carried but never
// interpreted: spec has no urgent-pointer semantics beyond the bit.
func (f Frame) UrgentPtr() uint16 { return binary.BigEndian.Uint16(f.buf[18:20]) }

// SetUrgentPtr sets the urgent pointer field.
func (f Frame) SetUrgentPtr(v uint16) { binary.BigEndian.PutUint16(f.buf[18:20], v) }

// Payload returns the bytes beyond the header, given the total segment
// length (header + payload) carried in the IPv4 datagram.
func (f Frame) Payload(segmentLength int) []byte {
	off := f.HeaderLength()
	return f.buf[off:segmentLength]
}

// SetHeader writes the fixed 20-byte header fields, leaving the
// checksum field zeroed; call CalculateChecksum (with the IPv4
// pseudo-header) afterwards.
func (f Frame) SetHeader(srcPort, dstPort uint16, seq, ack uint32, flags Flags, window uint16) {
	f.SetSourcePort(srcPort)
	f.SetDestinationPort(dstPort)
	f.SetSeq(seq)
	f.SetAck(ack)
	f.SetDataOffset(HeaderLen / 4)
	f.SetFlags(flags)
	f.SetWindow(window)
	f.SetChecksum(0)
	f.SetUrgentPtr(0)
}

// PseudoHeaderWriter folds an IPv4 pseudo-header into a running
// checksum. header/ipv4.Frame implements this via WritePseudoHeader.
type PseudoHeaderWriter interface {
	WritePseudoHeader(c *crc.CRC791, transportLength uint16, protocol uint8)
}

// CalculateChecksum computes the TCP checksum over the pseudo-header
// supplied by ip, the TCP header, and payload.
func (f Frame) CalculateChecksum(ip PseudoHeaderWriter, protocol uint8, payload []byte) uint16 {
	var c crc.CRC791
	ip.WritePseudoHeader(&c, uint16(HeaderLen+len(payload)), protocol)
	c.Write(f.buf[:HeaderLen])
	c.Write(payload)
	return crc.NeverZero(c.Sum16())
}
