package auxiliary

import (
	"context"

	"github.com/hermesdb/hermes/internal/storemongo"
	"github.com/hermesdb/hermes/internal/storepg"
)

// PGStore adapts *storepg.SecondaryOutbox to the Store interface.
type PGStore struct{ DAO *storepg.SecondaryOutbox }

func (s PGStore) LeaseBatch(ctx context.Context, n int) ([]Row, error) {
	rows, err := s.DAO.LeaseBatch(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row{Position: r.Position, MessageID: r.MessageID, MessageType: r.MessageType, Data: r.Data, FailsCount: r.FailsCount}
	}
	return out, nil
}

func (s PGStore) MarkDone(ctx context.Context, position int64) error   { return s.DAO.MarkDone(ctx, position) }
func (s PGStore) MarkFailed(ctx context.Context, position int64) error { return s.DAO.MarkFailed(ctx, position) }

// MongoStore adapts *storemongo.SecondaryOutbox to the Store interface.
type MongoStore struct{ DAO *storemongo.SecondaryOutbox }

func (s MongoStore) LeaseBatch(ctx context.Context, n int) ([]Row, error) {
	rows, err := s.DAO.LeaseBatch(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row{Position: r.Position, MessageID: r.MessageID, MessageType: r.MessageType, Data: r.Data, FailsCount: r.FailsCount}
	}
	return out, nil
}

func (s MongoStore) MarkDone(ctx context.Context, position int64) error   { return s.DAO.MarkDone(ctx, position) }
func (s MongoStore) MarkFailed(ctx context.Context, position int64) error { return s.DAO.MarkFailed(ctx, position) }
