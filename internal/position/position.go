// Package position implements the "position token arithmetic" of spec.md
// §4.2/§4.3: a backend-agnostic opaque Token plus the concrete LSN
// arithmetic the log backend needs (parse, add-byte-count, compare,
// next-byte).
package position

// Token is the opaque, monotonically-ordered source position token stored
// in the consumer-state row. For the log backend it is a pglogrepl.LSN
// rendered as upper-case "HI/LO" hex; for the document backend it is the
// driver's opaque resume-token string. Either way it round-trips through
// Consumer-state storage as plain text (spec.md §3).
type Token string

// Zero is the token stored for a partition that has never acknowledged
// anything.
const Zero Token = ""

func (t Token) String() string { return string(t) }

// IsZero reports whether no position has ever been acknowledged.
func (t Token) IsZero() bool { return t == Zero }
