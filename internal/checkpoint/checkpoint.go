// Package checkpoint persists a task strategy's tool-loop state
// mid-execution, so a process restart loses at most the in-flight
// cycle rather than the whole turn (spec C8/C10 supplement).
//
// Grounded on pkg/checkpoint/{state.go,storage.go,manager.go}: State
// mirrors their State/AgentStateSnapshot split (identifiers +
// checkpoint metadata + a resumable execution snapshot), and Store
// mirrors Storage's save/load/clear trio, adapted from
// session-state-keyed storage to a file under its own partitioned
// base (internal/id.BaseSessionCheckpoint) since this module's
// session store holds only small, append-only metadata, not mutable
// nested state.
package checkpoint

import (
	"encoding/json"
	"os"
	"time"

	"github.com/thinksuit/thinksuit/internal/id"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
)

// State is a task strategy's tool-loop snapshot taken after a
// completed cycle, sufficient to resume the cycle loop at the next
// cycle (spec's checkpoint supplement). It holds the cycle count,
// tool-call count, usage and accumulated thread; no in-flight tool
// calls are recorded.
type State struct {
	SessionID string `json:"sessionId"`
	PlanName  string `json:"planName"`

	// Plan is the task plan being resumed, persisted alongside its name
	// since a dynamically rule-generated plan (the common case — spec
	// §4.6's rules construct plans on the fly, not from a static
	// registry) can't be looked back up by name alone.
	Plan *plan.Plan `json:"plan,omitempty"`

	// Cycle is the next cycle index to run on resume (i.e. this many
	// cycles have already completed).
	Cycle int `json:"cycle"`

	// ToolCalls is the number of tool invocations already counted
	// against the plan's maxToolCalls ceiling.
	ToolCalls int `json:"toolCalls"`

	Usage provider.Usage `json:"usage"`

	// Thread is the in-progress conversation, including any assistant
	// tool_use message and tool result messages appended by completed
	// cycles.
	Thread thread.Thread `json:"thread"`

	// PendingApprovalID is part of the stored format, but nothing in
	// this module sets or reads it: checkpoints are saved after a
	// cycle's tool calls have completed, so it is always empty.
	PendingApprovalID string `json:"pendingApprovalId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Store persists at most one live checkpoint per session.
type Store struct {
	root string
}

// NewStore constructs a Store rooted at root (the same storage root
// the journal and session metadata stores use).
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Save writes (or overwrites) sessionID's checkpoint.
func (s *Store) Save(state State) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}
	path, err := id.CheckpointPath(s.root, state.SessionID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return thinkerr.Wrap(thinkerr.CodeInternal, "marshal checkpoint", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return thinkerr.Wrap(thinkerr.CodeInternal, "write checkpoint", err)
	}
	return nil
}

// Load reads sessionID's checkpoint, if any. ok is false with a nil
// error when no checkpoint exists.
func (s *Store) Load(sessionID string) (state State, ok bool, err error) {
	path, err := id.CheckpointPath(s.root, sessionID)
	if err != nil {
		return State{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, thinkerr.Wrap(thinkerr.CodeInternal, "read checkpoint", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, thinkerr.Wrap(thinkerr.CodeInternal, "unmarshal checkpoint", err)
	}
	return state, true, nil
}

// Clear removes sessionID's checkpoint, tolerating one that doesn't
// exist (the common case: a turn that never touched the task
// strategy, or one that already completed and cleaned up after
// itself).
func (s *Store) Clear(sessionID string) error {
	path, err := id.CheckpointPath(s.root, sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return thinkerr.Wrap(thinkerr.CodeInternal, "clear checkpoint", err)
	}
	return nil
}
