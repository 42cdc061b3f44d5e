package logicalrepl

import "errors"

// errProtocol marks a malformed/unrecognized frame — fatal to the current
// stream session. The consumer reports it through OnDbError like any other
// ingestor error (it is not translated to hermes.ErrProtocolError) and
// reconnects from the last acknowledged position (spec.md §4.2, §7).
var errProtocol = errors.New("logicalrepl: protocol error")

// ErrSlotActive is returned by StartReplication (and so by Ingestor.Dial)
// when the replication slot is already
// held by another live connection (spec.md §3 "at most one active streamer
// per slot"). The consumer maps this to hermes.ErrConsumerAlreadyTaken.
var ErrSlotActive = errors.New("logicalrepl: replication slot already active")

// IsProtocolError reports whether err (or a wrapped cause) is a decoder
// protocol error.
func IsProtocolError(err error) bool { return errors.Is(err, errProtocol) }
