package dnswire

import "encoding/binary"

// Question is one entry of a message's question section.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Message is a parsed DNS query. Only the question section is decoded —
// this project never needs to parse a query's answer/authority/additional
// records, and any OPT/EDNS additional record is simply ignored.
type Message struct {
	Header    Header
	Questions []Question
}

// ParseQuery decodes data as a DNS query message. It returns an error for
// any structural problem (truncated header, bad compression pointer,
// oversized name/label) and returns no partial Message alongside it, so
// callers that only need the transaction ID on failure should use
// ParseTxnID.
func ParseQuery(data []byte) (*Message, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	pos := headerSize
	questions := make([]Question, 0, hdr.QDCount)
	for i := 0; i < int(hdr.QDCount); i++ {
		name, next, err := decodeName(data, pos)
		if err != nil {
			return nil, err
		}
		if next+4 > len(data) {
			return nil, errTruncated
		}
		q := Question{
			Name:  name,
			Type:  binary.BigEndian.Uint16(data[next : next+2]),
			Class: binary.BigEndian.Uint16(data[next+2 : next+4]),
		}
		questions = append(questions, q)
		pos = next + 4
	}

	return &Message{Header: hdr, Questions: questions}, nil
}

// BuildQuery encodes a single-question query with the given transaction ID,
// recursion-desired bit set, name, and question type. It's the client-side
// counterpart to ParseQuery, used by debug tooling that sends a query
// rather than answering one.
func BuildQuery(id uint16, name string, qtype uint16) ([]byte, error) {
	hdr := Header{ID: id, RD: true, QDCount: 1}
	buf := hdr.encode()

	qname, err := encodeName(name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, qname...)
	buf = appendUint16(buf, qtype)
	buf = appendUint16(buf, ClassIN)
	return buf, nil
}

// AnswerA is one A-record answer to attach to a response.
type AnswerA struct {
	TTL uint32
	IP  [4]byte
}

// questionPointer is the compression pointer back to the question name,
// which always starts immediately after the fixed 12-byte header.
const questionPointer = 0xC000 | headerSize

// BuildAnswer builds a reply to query echoing its single question (name,
// type, class, RD bit) with the given RCODE and A-record answers. Answers
// are only meaningful when rcode is RcodeNoError; the caller is responsible
// for passing no answers alongside RcodeNXDomain/RcodeServFail.
func BuildAnswer(query *Message, rcode uint8, answers []AnswerA) []byte {
	var q Question
	if len(query.Questions) > 0 {
		q = query.Questions[0]
	}

	hdr := Header{
		ID:      query.Header.ID,
		QR:      true,
		Opcode:  query.Header.Opcode,
		AA:      true,
		RD:      query.Header.RD,
		RA:      false,
		RCODE:   rcode,
		QDCount: 1,
		ANCount: uint16(len(answers)),
	}

	buf := hdr.encode()

	qname, err := encodeName(q.Name)
	if err != nil {
		// The name we're echoing came from a successfully parsed query, so
		// it is already within the length caps decodeName enforces; this
		// path is unreachable in practice but fails closed rather than
		// emitting a malformed packet.
		return BuildHeaderOnly(query.Header.ID, query.Header.RD, RcodeServFail)
	}
	buf = append(buf, qname...)
	buf = appendUint16(buf, q.Type)
	buf = appendUint16(buf, q.Class)

	for _, a := range answers {
		buf = appendUint16(buf, questionPointer)
		buf = appendUint16(buf, TypeA)
		buf = appendUint16(buf, ClassIN)
		buf = appendUint32(buf, a.TTL)
		buf = appendUint16(buf, 4) // RDLENGTH
		buf = append(buf, a.IP[:]...)
	}

	return buf
}

// BuildHeaderOnly builds a minimal response with no question or answer
// sections, for packets too malformed to safely echo a question back.
func BuildHeaderOnly(id uint16, rd bool, rcode uint8) []byte {
	hdr := Header{ID: id, QR: true, RD: rd, RCODE: rcode}
	return hdr.encode()
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
