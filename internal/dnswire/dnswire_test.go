package dnswire

import (
	"bytes"
	"testing"
)

// encodeQuery builds a minimal well-formed query packet for test input,
// mirroring what a real client would send (uncompressed question name).
func encodeQuery(t *testing.T, id uint16, rd bool, name string, qtype uint16) []byte {
	t.Helper()
	hdr := Header{ID: id, RD: rd, QDCount: 1}
	buf := hdr.encode()
	qname, err := encodeName(name)
	if err != nil {
		t.Fatalf("encodeName(%q): %v", name, err)
	}
	buf = append(buf, qname...)
	buf = appendUint16(buf, qtype)
	buf = appendUint16(buf, ClassIN)
	return buf
}

func TestParseQuery_RoundTripsQuestionSection(t *testing.T) {
	packet := encodeQuery(t, 0x1234, true, "casa-api.jiji", TypeA)

	msg, err := ParseQuery(packet)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if len(msg.Questions) != 1 {
		t.Fatalf("Questions = %d, want 1", len(msg.Questions))
	}
	q := msg.Questions[0]
	if q.Name != "casa-api.jiji" || q.Type != TypeA || q.Class != ClassIN {
		t.Fatalf("question = %+v", q)
	}

	resp := BuildAnswer(msg, RcodeNoError, nil)
	// The response's question section (after the 12-byte header) must be
	// byte-identical to the original query's question section.
	if !bytes.Equal(resp[headerSize:], packet[headerSize:]) {
		t.Fatalf("question section not round-tripped:\n got  %x\n want %x", resp[headerSize:], packet[headerSize:])
	}
	if resp[0] != packet[0] || resp[1] != packet[1] {
		t.Fatalf("txn id not echoed")
	}
}

func TestParseQuery_RejectsTruncatedHeader(t *testing.T) {
	if _, err := ParseQuery([]byte{0x00, 0x01}); err == nil {
		t.Fatalf("expected error for truncated header")
	}
}

func TestParseTxnID(t *testing.T) {
	id, ok := ParseTxnID([]byte{0x12, 0x34})
	if !ok || id != 0x1234 {
		t.Fatalf("ParseTxnID = %v, %v", id, ok)
	}
	if _, ok := ParseTxnID([]byte{0x12}); ok {
		t.Fatalf("ParseTxnID should fail on 1 byte")
	}
}

func TestDecodeName_CompressionPointer(t *testing.T) {
	// Build: header(12) + "casa-api.jiji\0" at offset 12, then at a later
	// offset a pointer back to offset 12.
	hdr := Header{QDCount: 0}.encode()
	name, err := encodeName("casa-api.jiji")
	if err != nil {
		t.Fatal(err)
	}
	buf := append(hdr, name...)
	ptrOffset := len(buf)
	buf = append(buf, 0xC0, 0x0C) // pointer to offset 12

	decoded, next, err := decodeName(buf, ptrOffset)
	if err != nil {
		t.Fatalf("decodeName: %v", err)
	}
	if decoded != "casa-api.jiji" {
		t.Fatalf("decoded = %q", decoded)
	}
	if next != ptrOffset+2 {
		t.Fatalf("next = %d, want %d", next, ptrOffset+2)
	}
}

func TestDecodeName_RejectsForwardPointer(t *testing.T) {
	buf := []byte{0xC0, 0x05, 0, 0, 0, 0, 0}
	if _, _, err := decodeName(buf, 0); err != errPtrForward {
		t.Fatalf("err = %v, want errPtrForward", err)
	}
}

func TestDecodeName_RejectsSelfPointer(t *testing.T) {
	buf := []byte{0xC0, 0x00}
	if _, _, err := decodeName(buf, 0); err != errPtrForward {
		t.Fatalf("err = %v, want errPtrForward", err)
	}
}

func TestDecodeName_BoundsPointerChainLength(t *testing.T) {
	// Build a chain of pointers, each one byte closer to the start, more
	// than maxPtrHops deep, to confirm the hop counter (not just the
	// backward-only rule) terminates pathological but technically-backward
	// chains.
	var buf []byte
	buf = append(buf, 0) // root name at offset 0

	for i := 1; i <= maxPtrHops+4; i++ {
		target := i - 1
		buf = append(buf, 0xC0|byte(target>>8), byte(target))
	}

	_, _, err := decodeName(buf, len(buf)-2)
	if err != errPtrLoop {
		t.Fatalf("err = %v, want errPtrLoop", err)
	}
}

func TestDecodeName_RejectsOversizedLabel(t *testing.T) {
	buf := append([]byte{64}, bytes.Repeat([]byte{'a'}, 64)...)
	if _, _, err := decodeName(buf, 0); err != errLabelLen {
		t.Fatalf("err = %v, want errLabelLen", err)
	}
}

func TestParseIPv4(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"10.210.1.5", false},
		{"0.0.0.0", false},
		{"255.255.255.255", false},
		{"10.210.1", true},
		{"10.210.1.5.6", true},
		{"256.1.1.1", true},
		{"10.01.1.1", true},
		{"10.210.1.-5", true},
		{"abc.1.1.1", true},
		{"", true},
	}
	for _, c := range cases {
		_, err := ParseIPv4(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseIPv4(%q) err = %v, wantErr %v", c.in, err, c.wantErr)
		}
	}
}

func TestBuildAnswer_MultipleARecords(t *testing.T) {
	packet := encodeQuery(t, 1, true, "casa-api.jiji", TypeA)
	msg, err := ParseQuery(packet)
	if err != nil {
		t.Fatal(err)
	}

	ip1, _ := ParseIPv4("10.210.1.5")
	ip2, _ := ParseIPv4("10.210.2.3")
	resp := BuildAnswer(msg, RcodeNoError, []AnswerA{{TTL: 60, IP: ip1}, {TTL: 60, IP: ip2}})

	reparsed, err := ParseQuery(resp)
	if err != nil {
		t.Fatalf("ParseQuery(resp): %v", err)
	}
	if reparsed.Header.ANCount != 2 {
		t.Fatalf("ANCount = %d, want 2", reparsed.Header.ANCount)
	}
	if !reparsed.Header.QR || reparsed.Header.RCODE != RcodeNoError {
		t.Fatalf("header = %+v", reparsed.Header)
	}
}

func TestBuildAnswer_EchoesNonAQuestionType(t *testing.T) {
	packet := encodeQuery(t, 7, true, "casa-api.jiji", TypeAAAA)
	msg, err := ParseQuery(packet)
	if err != nil {
		t.Fatal(err)
	}

	resp := BuildAnswer(msg, RcodeNoError, nil)
	reparsed, err := ParseQuery(resp)
	if err != nil {
		t.Fatal(err)
	}
	if reparsed.Header.ANCount != 0 {
		t.Fatalf("ANCount = %d, want 0", reparsed.Header.ANCount)
	}
	if reparsed.Questions[0].Type != TypeAAAA {
		t.Fatalf("question type not echoed: %+v", reparsed.Questions[0])
	}
}

func TestBuildQuery_RoundTrips(t *testing.T) {
	packet, err := BuildQuery(0x4242, "casa-web.jiji", TypeA)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	msg, err := ParseQuery(packet)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if msg.Header.ID != 0x4242 || !msg.Header.RD {
		t.Fatalf("header = %+v", msg.Header)
	}
	if len(msg.Questions) != 1 || msg.Questions[0].Name != "casa-web.jiji" || msg.Questions[0].Type != TypeA {
		t.Fatalf("questions = %+v", msg.Questions)
	}
}

func TestBuildHeaderOnly(t *testing.T) {
	resp := BuildHeaderOnly(0xABCD, true, RcodeServFail)
	if len(resp) != headerSize {
		t.Fatalf("len = %d, want %d", len(resp), headerSize)
	}
	id, ok := ParseTxnID(resp)
	if !ok || id != 0xABCD {
		t.Fatalf("txn id not preserved")
	}
}
