// Package ipv4 implements a minimal reader/writer over raw IPv4 header
// bytes: no options, fixed 20-byte header, just enough to carry TCP
// segments over a point-to-point tunnel.
package ipv4

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/tcptun/tcptun/internal/crc"
)

// HeaderLen is the size in bytes of an IPv4 header with no options.
const HeaderLen = 20

// ProtoTCP is the IPv4 protocol number for TCP.
const ProtoTCP = 6

var (
	errShort       = errors.New("ipv4: buffer shorter than header")
	errBadTL       = errors.New("ipv4: total length exceeds buffer")
	errBadIHL      = errors.New("ipv4: header length field out of range")
	errBadVersion  = errors.New("ipv4: version field is not 4")
	errBadProtocol = errors.New("ipv4: unexpected protocol")
)

// Frame wraps a byte slice holding one IPv4 datagram (header + payload).
// It never copies; all accessors read or write directly into the
// underlying buffer.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an IPv4 frame. buf must be at least HeaderLen
// bytes long.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying buffer the frame was built from.
func (f Frame) RawData() []byte { return f.buf }

// IHL returns the header length field in 32-bit words.
func (f Frame) IHL() uint8 { return f.buf[0] & 0xf }

// HeaderLength returns the header length in bytes, options included.
func (f Frame) HeaderLength() int { return int(f.IHL()) * 4 }

func (f Frame) version() uint8 { return f.buf[0] >> 4 }

// TotalLength returns the total datagram length (header + payload) in bytes.
func (f Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetTotalLength sets the total datagram length field.
func (f Frame) SetTotalLength(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }

// TTL returns the time-to-live field.
func (f Frame) TTL() uint8 { return f.buf[8] }

// SetTTL sets the time-to-live field.
func (f Frame) SetTTL(v uint8) { f.buf[8] = v }

// Protocol returns the encapsulated protocol number.
func (f Frame) Protocol() uint8 { return f.buf[9] }

// SetProtocol sets the encapsulated protocol number.
func (f Frame) SetProtocol(v uint8) { f.buf[9] = v }

// Checksum returns the header checksum field.
func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[10:12]) }

// SetChecksum sets the header checksum field.
func (f Frame) SetChecksum(v uint16) { binary.BigEndian.PutUint16(f.buf[10:12], v) }

// SourceAddr returns a pointer to the 4-byte source address.
func (f Frame) SourceAddr() *[4]byte { return (*[4]byte)(f.buf[12:16]) }

// DestinationAddr returns a pointer to the 4-byte destination address.
func (f Frame) DestinationAddr() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// SourceAddrPort returns the source address as a netip.Addr.
func (f Frame) SourceAddrPort() netip.Addr { return netip.AddrFrom4(*f.SourceAddr()) }

// DestinationAddrPort returns the destination address as a netip.Addr.
func (f Frame) DestinationAddrPort() netip.Addr { return netip.AddrFrom4(*f.DestinationAddr()) }

// Payload returns the bytes beyond the header, up to TotalLength.
// Call ValidateSize first to avoid a panic on malformed input.
func (f Frame) Payload() []byte {
	off := f.HeaderLength()
	return f.buf[off:f.TotalLength()]
}

// Fields describes the values needed to build a fresh IPv4 header with
// SetHeader. No options are ever emitted.
type Fields struct {
	TTL           uint8
	Protocol      uint8
	Source, Dest  [4]byte
	PayloadLength int
}

// SetHeader writes a fixed 20-byte header (no options) into f, leaving
// the checksum field zeroed; call CalculateChecksum afterwards.
func (f Frame) SetHeader(fld Fields) {
	f.buf[0] = 4<<4 | 5 // version 4, IHL 5 (20 bytes, no options)
	f.buf[1] = 0        // ToS unused
	f.SetTotalLength(uint16(HeaderLen + fld.PayloadLength))
	binary.BigEndian.PutUint16(f.buf[4:6], 0) // identification unused on a point-to-point link
	binary.BigEndian.PutUint16(f.buf[6:8], 0) // flags/fragment offset: never fragmented
	f.SetTTL(fld.TTL)
	f.SetProtocol(fld.Protocol)
	f.SetChecksum(0)
	copy(f.buf[12:16], fld.Source[:])
	copy(f.buf[16:20], fld.Dest[:])
}

// CalculateChecksum computes the header checksum over the fixed
// 20-byte header (options are never emitted by SetHeader, so none are
// covered here beyond the fixed fields). The checksum field itself is
// included, so it must be zero when computing a fresh checksum, and a
// header carrying a valid checksum yields 0.
func (f Frame) CalculateChecksum() uint16 {
	var c crc.CRC791
	c.Write(f.buf[0:HeaderLen])
	return c.Sum16()
}

// WritePseudoHeader folds the TCP/UDP pseudo-header (RFC 793 section
// 3.1) described by this IPv4 frame into c, for use when computing the
// transport-layer checksum.
func (f Frame) WritePseudoHeader(c *crc.CRC791, transportLength uint16, protocol uint8) {
	c.Write(f.SourceAddr()[:])
	c.Write(f.DestinationAddr()[:])
	c.AddUint16(uint16(protocol))
	c.AddUint16(transportLength)
}

// ValidateSize checks that the header and total-length fields are
// consistent with the size of the underlying buffer and with the
// expected protocol.
func (f Frame) ValidateSize(wantProtocol uint8) error {
	if f.version() != 4 {
		return errBadVersion
	}
	tl := f.TotalLength()
	if int(tl) > len(f.buf) || tl < HeaderLen {
		return errBadTL
	}
	if hl := f.HeaderLength(); hl < HeaderLen || hl > int(tl) {
		return errBadIHL
	}
	if wantProtocol != 0 && f.Protocol() != wantProtocol {
		return errBadProtocol
	}
	return nil
}
