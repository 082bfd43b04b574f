package substream

import (
	"bufio"
	"strings"
	"testing"
)

func TestParseLine_Columns(t *testing.T) {
	msg, err := ParseLine([]byte(`{"columns":["id","service","server_id","ip","health_status","started_at","instance_id","project"]}`))
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg.Kind != KindColumns || len(msg.Columns) != 8 {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseLine_Row(t *testing.T) {
	msg, err := ParseLine([]byte(`{"row":[0,["c1","web","srv-a","10.0.0.5","healthy",1000,""]]}`))
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg.Kind != KindRow || msg.Row.RowIndex != 0 || len(msg.Row.Values) != 7 {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseLine_ChangeInsert(t *testing.T) {
	msg, err := ParseLine([]byte(`{"change":["insert",3,["c2","web","srv-b","10.0.0.6","healthy",2000,""],42]}`))
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg.Kind != KindChange || msg.Change.Op != OpInsert || msg.Change.ChangeID != 42 {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseLine_ChangeDelete(t *testing.T) {
	msg, err := ParseLine([]byte(`{"change":["delete",3,["c2"],43]}`))
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg.Change.Op != OpDelete {
		t.Fatalf("op = %v", msg.Change.Op)
	}
}

func TestParseLine_EOQ(t *testing.T) {
	msg, err := ParseLine([]byte(`{"eoq":{"time":1.5,"change_id":7}}`))
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if msg.Kind != KindEOQ || msg.EOQ.ChangeID != 7 {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseLine_RejectsUnknownKind(t *testing.T) {
	if _, err := ParseLine([]byte(`{"ping":true}`)); err == nil {
		t.Fatalf("expected error for unrecognized kind")
	}
}

func TestParseLine_RejectsMalformedChangeTuple(t *testing.T) {
	if _, err := ParseLine([]byte(`{"change":["insert",3]}`)); err == nil {
		t.Fatalf("expected error for short change tuple")
	}
}

func TestReader_DecodesSequence(t *testing.T) {
	body := strings.Join([]string{
		`{"columns":["id","service","server_id","ip","health_status","started_at","instance_id","project"]}`,
		`{"row":[0,["c1","web","srv-a","10.0.0.5","healthy",1000,""]]}`,
		`{"eoq":{"time":1.0,"change_id":1}}`,
		`{"change":["insert",1,["c2","web","srv-b","10.0.0.6","healthy",2000,""],2]}`,
	}, "\n")

	r := NewReader(strings.NewReader(body))
	var kinds []Kind
	for {
		msg, err := r.Next()
		if err != nil {
			break
		}
		kinds = append(kinds, msg.Kind)
	}
	want := []Kind{KindColumns, KindRow, KindEOQ, KindChange}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestReader_SkipsBlankLines(t *testing.T) {
	body := "\n\n" + `{"eoq":{"time":0,"change_id":0}}` + "\n\n"
	r := NewReader(strings.NewReader(body))
	msg, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Kind != KindEOQ {
		t.Fatalf("kind = %v", msg.Kind)
	}
}

func TestReader_OversizedLineFailsClosed(t *testing.T) {
	huge := `{"eoq":{"time":0,"change_id":0,"pad":"` + strings.Repeat("x", maxLineSize+1024) + `"}}`
	r := NewReader(strings.NewReader(huge))
	if _, err := r.Next(); err != bufio.ErrTooLong {
		t.Fatalf("err = %v, want bufio.ErrTooLong", err)
	}
}
