// Package session persists per-session metadata (fork lineage, creation
// time) alongside the journal's event stream (spec C10, §6 "sessions/
// metadata/...json").
//
// Grounded on internal/journal's own file-per-ID layout; this is new
// supporting infrastructure the teacher has no direct analogue for
// (hector's pkg/session keeps everything in memory), since the spec
// requires metadata to survive a restart the way the event stream does.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thinksuit/thinksuit/internal/id"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
)

// Metadata is the durable record of one session's identity and lineage.
type Metadata struct {
	SessionID       string    `json:"sessionId"`
	CreatedAt       time.Time `json:"createdAt"`
	ParentSessionID string    `json:"parentSessionId,omitempty"`
	ForkFromIndex   int       `json:"forkFromIndex,omitempty"`
}

// Store reads and writes Metadata under root/sessions/metadata/....
type Store struct {
	root string
}

// NewStore constructs a Store rooted at root (the same root a
// *journal.Journal uses, e.g. $THINKSUIT_HOME/.thinksuit).
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Save writes m to its partitioned path, creating parent directories.
func (s *Store) Save(m Metadata) error {
	path, err := id.MetadataPath(s.root, m.SessionID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return thinkerr.Wrap(thinkerr.CodeInternal, "marshal session metadata", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return thinkerr.Wrap(thinkerr.CodeInternal, "write session metadata", err)
	}
	return nil
}

// Get loads sessionID's metadata, or (Metadata{}, false, nil) if none
// was ever recorded for it.
func (s *Store) Get(sessionID string) (Metadata, bool, error) {
	path, err := id.MetadataPath(s.root, sessionID)
	if err != nil {
		return Metadata{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, thinkerr.Wrap(thinkerr.CodeInternal, "read session metadata", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, false, thinkerr.Wrap(thinkerr.CodeInternal, "unmarshal session metadata", err)
	}
	return m, true, nil
}

// List walks every partitioned metadata file under root and returns
// their contents, for listSessions/getSessionForks (spec C10). Entries
// with no readable metadata file (a journal existed but Save was never
// called, e.g. a crash mid-acquire) are silently skipped.
func (s *Store) List() ([]Metadata, error) {
	base := filepath.Join(s.root, string(id.BaseSessionMetadata))
	var out []Metadata
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		var m Metadata
		if json.Unmarshal(data, &m) == nil {
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, thinkerr.Wrap(thinkerr.CodeInternal, "walk session metadata", err)
	}
	return out, nil
}
