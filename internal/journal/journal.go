// Package journal implements the append-only per-session event log
// and its pure derivation helpers (spec C2).
//
// Storage is file-backed JSONL under <root>/sessions/streams/..., laid
// out and partitioned by internal/id. This generalizes the teacher's
// pkg/session in-memory event store (memoryEvents, sync.RWMutex-guarded
// append) to disk, since the spec requires durability across restarts.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/thinksuit/thinksuit/internal/id"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
)

// Level is the closed enum of entry severities (spec §6).
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one append-only log record (spec §3).
type Entry struct {
	Time         time.Time      `json:"time"`
	SessionID    string         `json:"sessionId"`
	Event        string         `json:"event"`
	Type         string         `json:"type,omitempty"`
	Msg          string         `json:"msg,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Level        Level          `json:"level,omitempty"`
	TraceID      string         `json:"traceId,omitempty"`
	SpanID       string         `json:"spanId,omitempty"`
	ParentSpanID string         `json:"parentSpanId,omitempty"`
}

// Well-known dotted event names (spec §3, not an exhaustive enumeration
// but every name the orchestration core itself emits).
const (
	EventSessionInput    = "session.input"
	EventSessionResponse = "session.response"
	EventSessionError    = "session.error"
	EventExecutionStart  = "execution.start"
	EventPlanSelected    = "processing.plan.selected"
	EventLLMRequest      = "processing.llm.request"
	EventLLMResponse     = "processing.llm.response"
	EventToolCall        = "processing.tool.call"
	EventApprovalRequest = "approval-request"
	EventMCPStartup      = "system.mcp.startup"
	EventMCPToolWarning  = "system.mcp.tool.warning"
	EventBudgetExceeded  = "system.budget.exceeded"
)

// Status is the derived session lifecycle state (spec C2).
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusReady       Status = "ready"
	StatusBusy        Status = "busy"
	StatusError       Status = "error"
)

// DeriveStatus is a pure function of the entry sequence (testable
// property: status determinism, spec §8).
func DeriveStatus(entries []Entry) Status {
	status := StatusInitialized
	for _, e := range entries {
		switch e.Event {
		case EventSessionInput, EventExecutionStart:
			status = StatusBusy
		case EventSessionResponse:
			status = StatusReady
		case EventSessionError:
			status = StatusError
		}
	}
	return status
}

// BuildThread projects a Thread from only session.input and
// session.response events, in journaled order (spec §3, §8).
func BuildThread(entries []Entry) thread.Thread {
	var t thread.Thread
	for _, e := range entries {
		switch e.Event {
		case EventSessionInput:
			content, _ := e.Data["input"].(string)
			t = t.Append(thread.Message{Role: thread.RoleUser, Content: content})
		case EventSessionResponse:
			content, _ := e.Data["response"].(string)
			t = t.Append(thread.Message{Role: thread.RoleAssistant, Content: content})
		}
	}
	return t
}

// subscriberBufferSize bounds each live subscriber's channel; on
// overflow the oldest buffered entry is dropped to make room, and the
// subscriber is closed only if the retried send still finds the
// channel full (spec §4.2 fan-out contract, implementer's choice of
// policy).
const subscriberBufferSize = 256

type subscriber struct {
	ch     chan Entry
	closed bool
}

// Journal appends entries to per-session JSONL files and fans them out
// to live subscribers, in appended order.
type Journal struct {
	root string

	mu   sync.Mutex
	subs map[string][]*subscriber
	// files caches an open append-only handle per session to avoid
	// reopening on every append.
	files map[string]*os.File
}

// New constructs a Journal rooted at root (e.g. $THINKSUIT_HOME/.thinksuit).
func New(root string) *Journal {
	return &Journal{
		root:  root,
		subs:  make(map[string][]*subscriber),
		files: make(map[string]*os.File),
	}
}

// Append writes entry as a canonical JSON line to the session's stream
// file and publishes it to any live subscribers. Each write is flushed
// so a crash loses at most the current in-flight entry.
func (j *Journal) Append(sessionID string, entry Entry) error {
	if entry.SessionID == "" {
		entry.SessionID = sessionID
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return thinkerr.Wrap(thinkerr.CodeInternal, "marshal journal entry", err)
	}

	j.mu.Lock()
	f, err := j.fileFor(sessionID)
	if err != nil {
		j.mu.Unlock()
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		j.mu.Unlock()
		return thinkerr.Wrap(thinkerr.CodeInternal, "append journal entry", err)
	}
	if err := f.Sync(); err != nil {
		j.mu.Unlock()
		return thinkerr.Wrap(thinkerr.CodeInternal, "sync journal entry", err)
	}
	subs := append([]*subscriber(nil), j.subs[sessionID]...)
	j.mu.Unlock()

	j.publish(sessionID, subs, entry)
	return nil
}

// fileFor must be called with j.mu held.
func (j *Journal) fileFor(sessionID string) (*os.File, error) {
	if f, ok := j.files[sessionID]; ok {
		return f, nil
	}
	path, err := id.StreamPath(j.root, sessionID)
	if err != nil {
		return nil, thinkerr.Wrap(thinkerr.CodeInternal, "resolve stream path", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, thinkerr.Wrap(thinkerr.CodeInternal, "open stream file", err)
	}
	j.files[sessionID] = f
	return f, nil
}

func (j *Journal) publish(sessionID string, subs []*subscriber, entry Entry) {
	for _, s := range subs {
		select {
		case s.ch <- entry:
		default:
			// Overflow: drop-oldest by draining one slot, then retry once;
			// if still full, close the subscriber (slow_consumer).
			select {
			case <-s.ch:
				select {
				case s.ch <- entry:
				default:
					j.closeSubscriber(sessionID, s)
				}
			default:
				j.closeSubscriber(sessionID, s)
			}
		}
	}
}

func (j *Journal) closeSubscriber(sessionID string, s *subscriber) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	remaining := j.subs[sessionID][:0]
	for _, other := range j.subs[sessionID] {
		if other != s {
			remaining = append(remaining, other)
		}
	}
	j.subs[sessionID] = remaining
}

// Subscribe registers a live subscriber for sessionID. The returned
// channel receives every entry appended from this point forward, in
// order; the returned func unsubscribes deterministically.
func (j *Journal) Subscribe(sessionID string) (<-chan Entry, func()) {
	s := &subscriber{ch: make(chan Entry, subscriberBufferSize)}
	j.mu.Lock()
	j.subs[sessionID] = append(j.subs[sessionID], s)
	j.mu.Unlock()

	unsubscribe := func() { j.closeSubscriber(sessionID, s) }
	return s.ch, unsubscribe
}

// ReadAll reads every entry currently on disk for sessionID, tolerating
// an incomplete trailing line (spec §6).
func (j *Journal) ReadAll(sessionID string) ([]Entry, error) {
	path, err := id.StreamPath(j.root, sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, thinkerr.Wrap(thinkerr.CodeInternal, "open stream file", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// tolerate an incomplete trailing line
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ReadFrom reads entries starting at fromIndex (0-based), for
// readSessionLinesFrom (spec C10).
func (j *Journal) ReadFrom(sessionID string, fromIndex int) ([]Entry, error) {
	all, err := j.ReadAll(sessionID)
	if err != nil {
		return nil, err
	}
	if fromIndex < 0 || fromIndex >= len(all) {
		return nil, nil
	}
	return all[fromIndex:], nil
}

// Root returns the storage root this Journal was constructed with, so
// collaborators (the Session Scheduler's trace reads) can resolve
// sibling partitioned paths without duplicating configuration.
func (j *Journal) Root() string {
	return j.root
}

// ReadEntriesFile reads and decodes a JSONL entries file directly,
// tolerating an incomplete trailing line the same way ReadAll does.
// Used for trace files, which are appended to outside of any single
// session's stream.
func ReadEntriesFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, thinkerr.Wrap(thinkerr.CodeInternal, "open entries file", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close releases any open file handles; safe to call at process shutdown.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var firstErr error
	for sessionID, f := range j.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", sessionID, err)
		}
	}
	j.files = make(map[string]*os.File)
	return firstErr
}
