package logicalrepl

import (
	"testing"

	"github.com/jackc/pglogrepl"
)

func relOf(names ...string) *pglogrepl.RelationMessage {
	cols := make([]*pglogrepl.RelationMessageColumn, len(names))
	for i, n := range names {
		cols[i] = &pglogrepl.RelationMessageColumn{Name: n}
	}
	return &pglogrepl.RelationMessage{
		Namespace:    "public",
		RelationName: "outbox",
		Columns:      cols,
	}
}

func tupleOf(kinds []byte, values [][]byte) *pglogrepl.TupleData {
	cols := make([]*pglogrepl.TupleDataColumn, len(kinds))
	for i := range kinds {
		cols[i] = &pglogrepl.TupleDataColumn{DataType: kinds[i], Data: values[i]}
	}
	return &pglogrepl.TupleData{Columns: cols}
}

func TestDecodeTuple_KnownColumns(t *testing.T) {
	rel := relOf("position", "message_id", "message_type", "partition_key", "data")
	tuple := tupleOf(
		[]byte{'t', 't', 't', 't', 't'},
		[][]byte{[]byte("1"), []byte("m1"), []byte("X"), []byte("default"), []byte(`{"v":1}`)},
	)

	fields, err := decodeTuple(rel, tuple, DefaultColumns())
	if err != nil {
		t.Fatalf("decodeTuple: %v", err)
	}

	pos, err := int64Column(fields, "position")
	if err != nil || pos != 1 {
		t.Fatalf("position = %v, %v", pos, err)
	}
	msgID, _ := stringColumn(fields, "message_id")
	if msgID != "m1" {
		t.Fatalf("message_id = %q", msgID)
	}
	payload, err := bytesColumn(fields, "data")
	if err != nil || string(payload) != `{"v":1}` {
		t.Fatalf("data = %s, %v", payload, err)
	}
}

func TestDecodeTuple_NullAndBigInt(t *testing.T) {
	rel := relOf("position", "message_id")
	tuple := tupleOf(
		[]byte{'t', 'n'},
		[][]byte{[]byte("123456789012345678901234567890"), nil},
	)

	fields, err := decodeTuple(rel, tuple, ColumnTypeDescriptor{"position": KindInt64, "message_id": KindText})
	if err != nil {
		t.Fatalf("decodeTuple: %v", err)
	}
	if _, err := int64Column(fields, "position"); err == nil {
		t.Fatalf("expected overflow error for big int position")
	}
	if v, ok := fields["message_id"]; !ok || v != nil {
		t.Fatalf("expected null message_id, got %v", v)
	}
}

func TestDecodeTuple_UnknownFormatByte(t *testing.T) {
	rel := relOf("position")
	tuple := tupleOf([]byte{'b'}, [][]byte{[]byte("x")})
	if _, err := decodeTuple(rel, tuple, DefaultColumns()); err == nil || !IsProtocolError(err) {
		t.Fatalf("expected protocol error for binary format byte, got %v", err)
	}
}
