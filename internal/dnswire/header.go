// Package dnswire implements the slice of RFC 1035 this project needs: query
// parsing with compression-pointer safety, and A-record response building.
// It is deliberately hand-rolled on encoding/binary rather than built on a
// full resolver library — owning the exact byte-level behavior (pointer loop
// bounds, label/name length caps, malformed-IPv4 rejection) is itself the
// thing under test here, not a shortcut to avoid a dependency.
package dnswire

import "encoding/binary"

// RCODE values this project emits or checks.
const (
	RcodeNoError  = 0
	RcodeFormErr  = 1
	RcodeServFail = 2
	RcodeNXDomain = 3
)

// Record types this project understands. Anything else in a question is
// either forwarded upstream or, within the service domain, answered with an
// empty NOERROR.
const (
	TypeA    = 1
	TypeNS   = 2
	TypeMX   = 15
	TypeAAAA = 28
)

const ClassIN = 1

const headerSize = 12

// Header is the fixed 12-byte DNS message header.
type Header struct {
	ID      uint16
	QR      bool
	Opcode  uint8
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	RCODE   uint8
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// ParseTxnID extracts just the 2-byte transaction ID, the minimum needed to
// reply SERVFAIL to a packet too malformed to fully parse. Returns ok=false
// only if the packet doesn't even have 2 bytes.
func ParseTxnID(data []byte) (id uint16, ok bool) {
	if len(data) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(data[:2]), true
}

func decodeHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, errTruncated
	}
	flags := binary.BigEndian.Uint16(data[2:4])
	h := Header{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		QR:      flags&0x8000 != 0,
		Opcode:  uint8((flags >> 11) & 0x0F),
		AA:      flags&0x0400 != 0,
		TC:      flags&0x0200 != 0,
		RD:      flags&0x0100 != 0,
		RA:      flags&0x0080 != 0,
		RCODE:   uint8(flags & 0x000F),
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}
	return h, nil
}

func (h Header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], h.ID)

	var flags uint16
	if h.QR {
		flags |= 0x8000
	}
	flags |= uint16(h.Opcode&0x0F) << 11
	if h.AA {
		flags |= 0x0400
	}
	if h.TC {
		flags |= 0x0200
	}
	if h.RD {
		flags |= 0x0100
	}
	if h.RA {
		flags |= 0x0080
	}
	flags |= uint16(h.RCODE & 0x000F)
	binary.BigEndian.PutUint16(buf[2:4], flags)

	binary.BigEndian.PutUint16(buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], h.ARCount)
	return buf
}
