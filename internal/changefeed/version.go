package changefeed

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MinServerVersion is the lowest MongoDB major version whose change-stream
// semantics (resumable, whole-db fullDocument=updateLookup) this backend
// relies on.
const MinServerVersion = 4

// CheckServerVersion runs buildInfo and fails with ErrNotSupportedVersion
// if the server's major version is below MinServerVersion (spec.md §4.3
// "version gate").
func CheckServerVersion(ctx context.Context, db *mongo.Database) error {
	var info struct {
		Version string `bson:"version"`
	}
	if err := db.RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info); err != nil {
		return fmt.Errorf("changefeed: buildInfo: %w", err)
	}
	major, err := majorVersion(info.Version)
	if err != nil {
		return fmt.Errorf("changefeed: parse server version %q: %w", info.Version, err)
	}
	if major < MinServerVersion {
		return fmt.Errorf("%w: server reports version %s, need >= %d.0", ErrNotSupportedVersion, info.Version, MinServerVersion)
	}
	return nil
}

func majorVersion(v string) (int, error) {
	parts := strings.SplitN(v, ".", 2)
	return strconv.Atoi(parts[0])
}
