package changefeed

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// ErrPositionLost is returned by Run when the change stream's resume token
// has fallen outside the server's oplog/change-stream retention window
// (spec.md §4.3, §7). Fatal — the caller must not restart without operator
// action.
var ErrPositionLost = errors.New("changefeed: resume position no longer available upstream")

// ErrNotSupportedVersion is returned by CheckServerVersion when the
// connected server is too old to support resumable change streams with the
// options Hermes needs.
var ErrNotSupportedVersion = errors.New("changefeed: server version does not support required change stream features")

// changeStreamHistoryLost is the MongoDB error code signaling the resume
// token has aged out of the oplog.
const changeStreamHistoryLost = 286

func classifyStreamErr(err error) error {
	if err == nil {
		return nil
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Code == changeStreamHistoryLost {
			return ErrPositionLost
		}
	}
	if strings.Contains(err.Error(), "resume point may not be in the oplog") ||
		strings.Contains(err.Error(), "ChangeStreamHistoryLost") {
		return ErrPositionLost
	}
	return err
}
