package logicalrepl

import (
	"sync/atomic"

	"github.com/jackc/pglogrepl"
)

// AckPosition is the shared-mutable-state cell spec.md §5 describes: the
// heartbeat task reads it, the publishing queue's ack task writes it after
// persisting the advance to the consumer-state row. Safe for concurrent
// use.
type AckPosition struct {
	v atomic.Uint64
}

// NewAckPosition seeds the cell with the consumer's last-acknowledged
// position on restart.
func NewAckPosition(initial pglogrepl.LSN) *AckPosition {
	a := &AckPosition{}
	a.v.Store(uint64(initial))
	return a
}

func (a *AckPosition) Store(lsn pglogrepl.LSN) { a.v.Store(uint64(lsn)) }
func (a *AckPosition) Load() pglogrepl.LSN      { return pglogrepl.LSN(a.v.Load()) }
