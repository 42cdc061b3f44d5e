package logicalrepl

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/jackc/pglogrepl"
)

// decodeTuple turns a pgoutput tuple into a map keyed by column name, per
// spec.md §4.2's tuple decoding rules: format byte {n null, u unchanged
// TOAST, t text, b binary}; only 't' carries data here (pgoutput v1 with no
// binary option never emits 'b'). Integer columns are parsed as int64 when
// they fit, else promoted to *big.Int; JSON columns pass their bytes
// through untouched; text columns are returned as Go strings.
func decodeTuple(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData, cols ColumnTypeDescriptor) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(tuple.Columns))
	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			return nil, fmt.Errorf("%w: tuple has more columns than relation %s.%s declares", errProtocol, rel.Namespace, rel.RelationName)
		}
		name := rel.Columns[i].Name
		kind, known := cols[name]

		switch col.DataType {
		case 'n':
			out[name] = nil
		case 'u':
			// TOAST value unchanged; Hermes's outbox rows are insert-only
			// so this should never occur, but skip rather than fail.
			continue
		case 't':
			if !known {
				// Column not declared by the descriptor: keep the raw text,
				// callers that only read known columns can ignore it.
				out[name] = string(col.Data)
				continue
			}
			v, err := decodeText(kind, col.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: column %s: %v", errProtocol, name, err)
			}
			out[name] = v
		default:
			return nil, fmt.Errorf("%w: unrecognized column format byte %q for column %s", errProtocol, col.DataType, name)
		}
	}
	return out, nil
}

func decodeText(kind ColumnKind, data []byte) (interface{}, error) {
	switch kind {
	case KindJSON:
		return append([]byte(nil), data...), nil
	case KindText:
		return string(data), nil
	case KindInt64:
		s := string(data)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		bi, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("not a valid integer: %q", s)
		}
		return bi, nil
	default:
		return nil, fmt.Errorf("unknown column kind %d", kind)
	}
}

func int64Column(row map[string]interface{}, name string) (int64, error) {
	v, ok := row[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing column %s", errProtocol, name)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case *big.Int:
		if !n.IsInt64() {
			return 0, fmt.Errorf("%w: column %s overflows int64", errProtocol, name)
		}
		return n.Int64(), nil
	default:
		return 0, fmt.Errorf("%w: column %s is not an integer (%T)", errProtocol, name, v)
	}
}

func stringColumn(row map[string]interface{}, name string) (string, error) {
	v, ok := row[name]
	if !ok {
		return "", fmt.Errorf("%w: missing column %s", errProtocol, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: column %s is not text (%T)", errProtocol, name, v)
	}
	return s, nil
}

func bytesColumn(row map[string]interface{}, name string) ([]byte, error) {
	v, ok := row[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing column %s", errProtocol, name)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: column %s is not JSON bytes (%T)", errProtocol, name, v)
	}
	return b, nil
}
