// Package scheduler implements the Session Scheduler (spec C10):
// single-writer-per-session acquisition, forking, listing, status
// derivation, and interrupt-driven cancellation of a turn's background
// execution.
//
// Grounded on pkg/agent/workflowagent/loop.go's MaxIterations-bounded
// background-stage pattern for the "launch as a future, return an
// interrupt handle" shape, combined with internal/journal's own
// append/Subscribe for the durable side of a session. The busy-flag
// in-memory registry has no teacher analogue (hector has no concept of
// a durable, resumable session) and is built fresh in the idiom of
// internal/approval's mutex-guarded map.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thinksuit/thinksuit/internal/id"
	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/session"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
)

// RunFunc drives one turn to completion against t, returning the
// response text to append as session.response. Implementations close
// over a statemachine.MachineContext and call statemachine.RunTurn;
// the scheduler itself stays independent of the turn interpreter so it
// can also drive a future alternate interpreter without change.
type RunFunc func(ctx context.Context, sessionID string, t thread.Thread, selectedPlan *plan.Plan) (string, error)

// ResumeFunc continues a previously checkpointed task strategy for
// sessionID, returning the eventual response text (spec's
// checkpoint/resume supplement). Implementations close over an
// internal/checkpoint.Store and internal/executor.Executor, loading
// the saved State and calling Executor.ResumeTask.
type ResumeFunc func(ctx context.Context, sessionID string) (string, error)

// Request is the input to Schedule (spec §4.10, §6 "Configuration
// (recognized options)").
type Request struct {
	Input           string
	SessionID       string
	SourceSessionID string
	ForkFromIndex   int
	SelectedPlan    *plan.Plan
}

// Result is what Schedule returns immediately; Execution.Wait blocks
// for the turn's outcome.
type Result struct {
	SessionID string
	Scheduled bool
	IsNew     bool
	Reason    string
	Execution *Execution
}

// Execution is the in-flight turn's handle: a future plus an interrupt
// trigger (spec §4.10 "execution:Future<Result>", §5 "interrupt(reason)").
type Execution struct {
	done   chan struct{}
	output string
	err    error
	cancel context.CancelCauseFunc
}

// Wait blocks until the turn completes, returning its output or error.
func (e *Execution) Wait() (string, error) {
	<-e.done
	return e.output, e.err
}

// Interrupt trips the turn's abort signal with reason (spec §5
// "Cancellation... idempotent").
func (e *Execution) Interrupt(reason string) {
	e.cancel(fmt.Errorf("interrupted: %s", reason))
}

// Scheduler coordinates session acquisition and turn execution.
type Scheduler struct {
	Journal  *journal.Journal
	Sessions *session.Store
	Run      RunFunc

	// Resume drives resumeTask (spec's checkpoint/resume supplement);
	// nil if the deployment never wires checkpointing.
	Resume ResumeFunc

	mu   sync.Mutex
	busy map[string]bool
}

// New constructs a Scheduler over journal/sessions, driving each
// acquired turn with run.
func New(j *journal.Journal, sessions *session.Store, run RunFunc) *Scheduler {
	return &Scheduler{Journal: j, Sessions: sessions, Run: run, busy: make(map[string]bool)}
}

// acquire atomically marks sessionID busy, returning false if it
// already was (spec §4.10 step 4, §8 "Busy session rejection").
func (s *Scheduler) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[sessionID] {
		return false
	}
	s.busy[sessionID] = true
	return true
}

func (s *Scheduler) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, sessionID)
}

// Schedule implements the spec's schedule(...) capability (§4.10).
func (s *Scheduler) Schedule(ctx context.Context, req Request) (Result, error) {
	sessionID, isNew, t, err := s.resolveSession(req)
	if err != nil {
		return Result{}, err
	}

	if !s.acquire(sessionID) {
		return Result{SessionID: sessionID, Scheduled: false, Reason: "session busy"}, nil
	}

	inputThread := t.Append(thread.Message{Role: thread.RoleUser, Content: req.Input})
	if err := s.Journal.Append(sessionID, journal.Entry{
		Event: journal.EventSessionInput,
		Data:  map[string]any{"input": req.Input},
	}); err != nil {
		s.release(sessionID)
		return Result{}, err
	}

	turnCtx, cancel := context.WithCancelCause(ctx)
	exec := &Execution{done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(exec.done)
		defer s.release(sessionID)
		defer cancel(nil)

		output, runErr := s.Run(turnCtx, sessionID, inputThread, req.SelectedPlan)
		exec.output, exec.err = output, runErr

		if runErr != nil {
			s.Journal.Append(sessionID, journal.Entry{
				Event: journal.EventSessionError,
				Data:  map[string]any{"error": runErr.Error()},
			})
			return
		}
		s.Journal.Append(sessionID, journal.Entry{
			Event: journal.EventSessionResponse,
			Data:  map[string]any{"response": output},
		})
	}()

	return Result{SessionID: sessionID, Scheduled: true, IsNew: isNew, Execution: exec}, nil
}

// ResumeSession implements the spec's checkpoint/resume supplement's
// resumeTask entry point: it continues a previously checkpointed task
// strategy for sessionID, under the same single-writer acquisition and
// single-terminal-event bookkeeping as Schedule.
func (s *Scheduler) ResumeSession(ctx context.Context, sessionID string) (Result, error) {
	if s.Resume == nil {
		return Result{}, thinkerr.New(thinkerr.CodeInternal, "scheduler: no resume function configured")
	}
	if !s.acquire(sessionID) {
		return Result{SessionID: sessionID, Scheduled: false, Reason: "session busy"}, nil
	}

	turnCtx, cancel := context.WithCancelCause(ctx)
	exec := &Execution{done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(exec.done)
		defer s.release(sessionID)
		defer cancel(nil)

		output, runErr := s.Resume(turnCtx, sessionID)
		exec.output, exec.err = output, runErr

		if runErr != nil {
			s.Journal.Append(sessionID, journal.Entry{
				Event: journal.EventSessionError,
				Data:  map[string]any{"error": runErr.Error()},
			})
			return
		}
		s.Journal.Append(sessionID, journal.Entry{
			Event: journal.EventSessionResponse,
			Data:  map[string]any{"response": output},
		})
	}()

	return Result{SessionID: sessionID, Scheduled: true, Execution: exec}, nil
}

// resolveSession implements spec §4.10 steps 1-3: fork, resume, or mint.
func (s *Scheduler) resolveSession(req Request) (sessionID string, isNew bool, t thread.Thread, err error) {
	switch {
	case req.SourceSessionID != "" && req.ForkFromIndex >= 0:
		source, rerr := s.Journal.ReadAll(req.SourceSessionID)
		if rerr != nil {
			return "", false, thread.Thread{}, rerr
		}
		if req.ForkFromIndex > len(source) {
			return "", false, thread.Thread{}, thinkerr.New(thinkerr.CodeInternal, "scheduler: forkFromIndex beyond source session length")
		}
		newID := id.New()
		for _, e := range source[:req.ForkFromIndex] {
			e.SessionID = newID
			if err := s.Journal.Append(newID, e); err != nil {
				return "", false, thread.Thread{}, err
			}
		}
		if s.Sessions != nil {
			s.Sessions.Save(session.Metadata{
				SessionID:       newID,
				CreatedAt:       time.Now().UTC(),
				ParentSessionID: req.SourceSessionID,
				ForkFromIndex:   req.ForkFromIndex,
			})
		}
		return newID, true, journal.BuildThread(source[:req.ForkFromIndex]), nil

	case req.SessionID != "":
		entries, rerr := s.Journal.ReadAll(req.SessionID)
		if rerr != nil {
			return "", false, thread.Thread{}, rerr
		}
		isNew := len(entries) == 0
		if isNew && s.Sessions != nil {
			s.Sessions.Save(session.Metadata{SessionID: req.SessionID, CreatedAt: time.Now().UTC()})
		}
		return req.SessionID, isNew, journal.BuildThread(entries), nil

	default:
		newID := id.New()
		if s.Sessions != nil {
			s.Sessions.Save(session.Metadata{SessionID: newID, CreatedAt: time.Now().UTC()})
		}
		return newID, true, thread.Thread{}, nil
	}
}

// ListSessions returns every known session's metadata, optionally
// bounded by [fromTime, toTime) and sorted by creation time (spec
// §4.10 "listSessions({fromTime?, toTime?, sortOrder})").
func (s *Scheduler) ListSessions(fromTime, toTime time.Time, descending bool) ([]session.Metadata, error) {
	all, err := s.Sessions.List()
	if err != nil {
		return nil, err
	}
	var out []session.Metadata
	for _, m := range all {
		if !fromTime.IsZero() && m.CreatedAt.Before(fromTime) {
			continue
		}
		if !toTime.IsZero() && !m.CreatedAt.Before(toTime) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetSession returns sessionID's full entry log (spec §4.10 "getSession(id)").
func (s *Scheduler) GetSession(sessionID string) ([]journal.Entry, error) {
	return s.Journal.ReadAll(sessionID)
}

// GetSessionStatus derives sessionID's current lifecycle status.
func (s *Scheduler) GetSessionStatus(sessionID string) (journal.Status, error) {
	entries, err := s.Journal.ReadAll(sessionID)
	if err != nil {
		return "", err
	}
	return journal.DeriveStatus(entries), nil
}

// GetSessionMetadata returns sessionID's durable metadata record.
func (s *Scheduler) GetSessionMetadata(sessionID string) (session.Metadata, bool, error) {
	return s.Sessions.Get(sessionID)
}

// GetTrace returns every entry carrying traceID, across whichever
// sessions happen to reference it, read from the trace partition
// (spec §6 "<home>/.thinksuit/traces/...").
func (s *Scheduler) GetTrace(traceID string) ([]journal.Entry, error) {
	path, err := id.TracePath(s.Journal.Root(), traceID)
	if err != nil {
		return nil, err
	}
	return journal.ReadEntriesFile(path)
}

// ReadSessionLinesFrom returns sessionID's entries starting at
// fromIndex (spec §4.10 "readSessionLinesFrom(id, fromIndex)").
func (s *Scheduler) ReadSessionLinesFrom(sessionID string, fromIndex int) ([]journal.Entry, error) {
	return s.Journal.ReadFrom(sessionID, fromIndex)
}

// ForkNode is one entry in a session's hierarchical fork graph.
type ForkNode struct {
	SessionID string
	Children  []ForkNode
}

// GetSessionForks returns the fork tree rooted at sessionID (spec
// §4.10 "getSessionForks(id) (hierarchical fork graph)").
func (s *Scheduler) GetSessionForks(sessionID string) (ForkNode, error) {
	all, err := s.Sessions.List()
	if err != nil {
		return ForkNode{}, err
	}
	childrenOf := make(map[string][]string)
	for _, m := range all {
		if m.ParentSessionID != "" {
			childrenOf[m.ParentSessionID] = append(childrenOf[m.ParentSessionID], m.SessionID)
		}
	}
	var build func(sid string) ForkNode
	build = func(sid string) ForkNode {
		node := ForkNode{SessionID: sid}
		for _, childID := range childrenOf[sid] {
			node.Children = append(node.Children, build(childID))
		}
		return node
	}
	return build(sessionID), nil
}

// SubscribeToSession forwards live entries for sessionID to onEvent
// until unsubscribed; onError is never called directly by Scheduler
// itself today (the underlying journal channel only ever closes
// cleanly) but is accepted to match the spec's capability signature
// for forward compatibility with a transport that can fail mid-stream.
func (s *Scheduler) SubscribeToSession(sessionID string, onEvent func(journal.Entry), onError func(error)) (unsubscribe func()) {
	ch, unsub := s.Journal.Subscribe(sessionID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			onEvent(e)
		}
	}()
	return func() {
		unsub()
		<-done
	}
}
