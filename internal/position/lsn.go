package position

import (
	"fmt"

	"github.com/jackc/pglogrepl"
)

// ParseLSN parses a "HI/LO" upper-case hex token into a pglogrepl.LSN. Each
// half is a variable-width hex string without leading zeros, matching
// PostgreSQL's own %X/%X rendering — pglogrepl.ParseLSN already implements
// this, so this is a thin, named re-export kept alongside the rest of the
// arithmetic for discoverability.
func ParseLSN(tok Token) (pglogrepl.LSN, error) {
	if tok.IsZero() {
		return 0, nil
	}
	lsn, err := pglogrepl.ParseLSN(tok.String())
	if err != nil {
		return 0, fmt.Errorf("position: parse LSN %q: %w", tok, err)
	}
	return lsn, nil
}

// FromLSN renders an LSN as the Token stored in the consumer-state row.
func FromLSN(lsn pglogrepl.LSN) Token {
	return Token(lsn.String())
}

// AddBytes advances an LSN by n bytes, as used when the ingestor needs to
// compute the position immediately following a decoded frame.
func AddBytes(lsn pglogrepl.LSN, n uint64) pglogrepl.LSN {
	return lsn + pglogrepl.LSN(n)
}

// NextByte returns the LSN immediately following lsn. Used when an
// acknowledgement must refer to "everything up to and including lsn" in a
// protocol that expects an exclusive upper bound.
func NextByte(lsn pglogrepl.LSN) pglogrepl.LSN {
	return lsn + 1
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// b, giving the ingestor a total order over source positions without
// leaking the underlying uint64 representation to callers.
func Compare(a, b pglogrepl.LSN) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
