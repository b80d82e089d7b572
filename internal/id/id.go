// Package id generates lexicographically-sortable session and trace
// identifiers and maps them to partitioned file paths (spec C1).
package id

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const randomSuffixLen = 8

const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

// New mints an ID of the form YYYYMMDDThhmmssSSSZ-<8char>, monotonically
// sortable as ASCII within the same process clock resolution.
func New() string {
	return NewAt(time.Now().UTC())
}

// NewAt mints an ID for a caller-supplied timestamp, useful for tests
// that need deterministic partitioning.
func NewAt(t time.Time) string {
	u := t.UTC()
	ts := u.Format("20060102T150405") + fmt.Sprintf("%03dZ", u.Nanosecond()/int(time.Millisecond))
	return fmt.Sprintf("%s-%s", ts, randomSuffix())
}

func randomSuffix() string {
	buf := make([]byte, randomSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failures are effectively fatal for ID uniqueness;
		// fall back to a degenerate but still-valid suffix rather than panic.
		for i := range buf {
			buf[i] = charset[0]
		}
		return string(buf)
	}
	out := make([]byte, randomSuffixLen)
	for i, b := range buf {
		out[i] = charset[int(b)%len(charset)]
	}
	return string(out)
}

// Partition extracts {year, month, day, hour} from an ID minted by New,
// for use in the <base>/<year>/<month>/<day>/<hour>/<id> layout.
func Partition(idStr string) (year, month, day, hour string, err error) {
	if len(idStr) < len("20060102T150405000Z") {
		return "", "", "", "", fmt.Errorf("id: malformed id %q", idStr)
	}
	year = idStr[0:4]
	month = idStr[4:6]
	day = idStr[6:8]
	hour = idStr[9:11]
	if _, e := strconv.Atoi(year + month + day + hour); e != nil {
		return "", "", "", "", fmt.Errorf("id: malformed id %q: %w", idStr, e)
	}
	return year, month, day, hour, nil
}

// Base names the four partitioned stores: session streams, session
// metadata, task-loop checkpoints, and traces.
type Base string

const (
	BaseSessionStreams    Base = "sessions/streams"
	BaseSessionMetadata   Base = "sessions/metadata"
	BaseSessionCheckpoint Base = "sessions/checkpoints"
	BaseTraces            Base = "traces"
)

// Path builds the partitioned path for an ID under root/base, with the
// given file extension (".jsonl" or ".json"), creating parent
// directories on first write.
func Path(root string, base Base, idStr, ext string) (string, error) {
	year, month, day, hour, err := Partition(idStr)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, string(base), year, month, day, hour)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("id: create partition dir: %w", err)
	}
	return filepath.Join(dir, idStr+ext), nil
}

// StreamPath returns the partitioned path for a session's event stream.
func StreamPath(root, sessionID string) (string, error) {
	return Path(root, BaseSessionStreams, sessionID, ".jsonl")
}

// MetadataPath returns the partitioned path for a session's metadata.
func MetadataPath(root, sessionID string) (string, error) {
	return Path(root, BaseSessionMetadata, sessionID, ".json")
}

// TracePath returns the partitioned path for a trace.
func TracePath(root, traceID string) (string, error) {
	return Path(root, BaseTraces, traceID, ".jsonl")
}

// CheckpointPath returns the partitioned path for a session's task-loop
// checkpoint. There is at most one live checkpoint per session; a new
// save overwrites the prior one.
func CheckpointPath(root, sessionID string) (string, error) {
	return Path(root, BaseSessionCheckpoint, sessionID, ".json")
}
