// Package slotname derives the deterministic replication slot name from a
// consumer name and partition key (spec.md §6: "hermes_<consumerName>_<partitionKey>",
// Open Question (a): normalization of characters outside [A-Za-z0-9_]).
package slotname

import "strings"

const prefix = "hermes_"

// Normalize replaces every rune outside [a-z0-9_] (after lower-casing) with
// one underscore. PostgreSQL slot names are case-folded and limited to
// NAMEDATALEN-1 bytes by the server; Normalize does not truncate, leaving
// length enforcement to the caller/server.
func Normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Slot returns the slot name for a (consumerName, partitionKey) pair.
func Slot(consumerName, partitionKey string) string {
	return prefix + Normalize(consumerName) + "_" + Normalize(partitionKey)
}
