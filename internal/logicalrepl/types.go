// Package logicalrepl implements the log-backend ingestor of spec.md §4.2:
// it turns the PostgreSQL logical replication v1 wire format into committed
// transaction batches and streams position acknowledgements back to the
// server. Grounded on
// _examples/other_examples/74ccfdfb_arajkumar-pglogrepl__example-pglogrepl_demo-main.go.go,
// generalized from that demo's hard-coded apply-to-target-database loop
// into a decoder that only cares about Hermes's own outbox table.
package logicalrepl

import (
	"time"

	"github.com/jackc/pglogrepl"
)

// ColumnKind is one of the three physical shapes a pgoutput text column can
// take, per spec.md §4.2.
type ColumnKind int

const (
	KindInt64 ColumnKind = iota
	KindText
	KindJSON
)

// ColumnTypeDescriptor declares, by column name, which of {int64, text,
// json} each outbox column is. The ingestor never inspects Postgres type
// OIDs to make this decision — only this descriptor.
type ColumnTypeDescriptor map[string]ColumnKind

// DefaultColumns is the descriptor matching the primary outbox schema the
// migrator in internal/storepg creates.
func DefaultColumns() ColumnTypeDescriptor {
	return ColumnTypeDescriptor{
		"position":      KindInt64,
		"message_id":    KindText,
		"message_type":  KindText,
		"partition_key": KindText,
		"data":          KindJSON,
	}
}

// Row is one decoded Insert against the primary outbox table.
type Row struct {
	Position     int64
	MessageID    string
	MessageType  string
	PartitionKey string
	Payload      []byte
}

// Batch is the ordered set of outbox rows committed together upstream,
// scoped to a single partition (rows belonging to other partitions are
// dropped by the ingestor before a Batch is emitted).
type Batch struct {
	TransactionID  string
	CommitPosition pglogrepl.LSN
	CommitTime     time.Time
	Rows           []Row
}
