// Package toolmediator implements tool discovery, policy filtering,
// approval gating, and invocation over MCP subprocesses (spec C4).
//
// Grounded on pkg/tool/mcptoolset/mcptoolset.go's lazy-connect,
// stdio-transport Toolset, generalized from a single server's tools to
// a merged baked-in-filesystem-plus-user-supplied server list, and
// rewritten against internal/approval instead of the teacher's
// single-pending-call tool_approval.go.
package toolmediator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/thinksuit/thinksuit/internal/approval"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
)

// ServerConfig describes one MCP server to spawn over stdio.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Config configures a Mediator for one turn.
type Config struct {
	// AllowedDirectories seeds the baked-in filesystem server's argument
	// vector. Enforced here, not by modules.
	AllowedDirectories []string

	// MCPServers are user-supplied servers, merged with the baked-in
	// filesystem server. Keyed by server name.
	MCPServers map[string]ServerConfig

	// AllowedTools restricts the discovered set when non-empty.
	AllowedTools []string

	// AutoApproveTools skips the approval gate entirely.
	AutoApproveTools bool

	// ApprovalTimeout, when zero, uses approval.DefaultTimeout.
	ApprovalTimeout int // milliseconds; 0 = default

	// Warn receives a message when a tool name collides across servers.
	Warn func(msg string)
}

const filesystemServerName = "filesystem"

// ToolHandle is a discovered tool with its owning server reference.
type ToolHandle struct {
	Name        string
	Description string
	InputSchema map[string]any
	Server      string
}

// CallResult is the outcome of one tool invocation.
type CallResult struct {
	Success bool
	Result  string
	Error   string
}

type serverConn struct {
	name   string
	client *mcpclient.Client
}

// Mediator owns subprocess handles for a single turn and tears them
// down on Stop, regardless of how the turn ended.
type Mediator struct {
	cfg       Config
	approvals *approval.Registry

	mu      sync.Mutex
	servers []*serverConn
	tools   map[string]ToolHandle // name -> handle
	owners  map[string]*serverConn
}

// New constructs a Mediator. Servers are not started until Start is called.
func New(cfg Config) *Mediator {
	timeout := approval.DefaultTimeout
	if cfg.ApprovalTimeout > 0 {
		timeout = time.Duration(cfg.ApprovalTimeout) * time.Millisecond
	}
	return &Mediator{
		cfg:       cfg,
		approvals: approval.New(timeout),
		tools:     make(map[string]ToolHandle),
		owners:    make(map[string]*serverConn),
	}
}

// Start spawns every configured server (the baked-in filesystem server
// plus any user-supplied servers) and discovers their tools, flattened
// to a name->ToolHandle map. On name collision, first-registered wins
// and Warn is invoked.
func (m *Mediator) Start(ctx context.Context) error {
	servers := m.composeServers()

	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := servers[name]
		conn, err := m.spawn(ctx, name, sc)
		if err != nil {
			m.Stop()
			return thinkerr.Wrap(thinkerr.CodeTool, fmt.Sprintf("start MCP server %q", name), err)
		}
		m.mu.Lock()
		m.servers = append(m.servers, conn)
		m.mu.Unlock()

		if err := m.discover(ctx, conn); err != nil {
			m.Stop()
			return thinkerr.Wrap(thinkerr.CodeTool, fmt.Sprintf("discover tools on %q", name), err)
		}
	}
	return nil
}

func (m *Mediator) composeServers() map[string]ServerConfig {
	servers := make(map[string]ServerConfig, len(m.cfg.MCPServers)+1)
	servers[filesystemServerName] = ServerConfig{
		Command: "mcp-server-filesystem",
		Args:    append([]string{}, m.cfg.AllowedDirectories...),
	}
	for name, sc := range m.cfg.MCPServers {
		servers[name] = sc
	}
	return servers
}

func (m *Mediator) spawn(ctx context.Context, name string, sc ServerConfig) (*serverConn, error) {
	env := make([]string, 0, len(sc.Env))
	for k, v := range sc.Env {
		env = append(env, k+"="+v)
	}

	client, err := mcpclient.NewStdioMCPClient(sc.Command, env, sc.Args...)
	if err != nil {
		return nil, fmt.Errorf("create MCP client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "thinksuit", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := client.Initialize(ctx, initReq); err != nil {
		client.Close()
		return nil, fmt.Errorf("initialize MCP: %w", err)
	}

	return &serverConn{name: name, client: client}, nil
}

func (m *Mediator) discover(ctx context.Context, conn *serverConn) error {
	resp, err := conn.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range resp.Tools {
		if _, exists := m.tools[t.Name]; exists {
			if m.cfg.Warn != nil {
				m.cfg.Warn(fmt.Sprintf("tool %q from server %q shadowed by earlier registration", t.Name, conn.name))
			}
			continue
		}
		m.tools[t.Name] = ToolHandle{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: convertSchema(t.InputSchema),
			Server:      conn.name,
		}
		m.owners[t.Name] = conn
	}
	return nil
}

// Filtered returns the discovered tool set after applying the
// AllowedTools policy.
func (m *Mediator) Filtered() []ToolHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	allow := m.allowSet()
	out := make([]ToolHandle, 0, len(m.tools))
	for name, h := range m.tools {
		if allow != nil && !allow[name] {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Mediator) allowSet() map[string]bool {
	if len(m.cfg.AllowedTools) == 0 {
		return nil
	}
	set := make(map[string]bool, len(m.cfg.AllowedTools))
	for _, name := range m.cfg.AllowedTools {
		set[name] = true
	}
	return set
}

// ValidateDependencies checks that every declared module tool
// dependency is present in the filtered tool set.
func (m *Mediator) ValidateDependencies(toolDependencies []string) error {
	filtered := m.Filtered()
	present := make(map[string]bool, len(filtered))
	for _, h := range filtered {
		present[h.Name] = true
	}

	var missing []string
	for _, name := range toolDependencies {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return thinkerr.New(thinkerr.CodeToolUnavailable, fmt.Sprintf("missing tool dependencies: %v", missing))
	}
	return nil
}

// RequestApproval creates an Approval and returns its id, a channel
// that resolves when approved, denied, or the approval window expires,
// and whether it resolved immediately because AutoApproveTools is set
// (callers use this to suppress the approval-request event — spec §8
// scenario 2, "approval-request event suppressed because auto-approved").
func (m *Mediator) RequestApproval(tool string, args map[string]any) (string, <-chan approval.Decision, bool) {
	id, wait := m.approvals.Request(tool, args)
	autoApproved := m.cfg.AutoApproveTools
	if autoApproved {
		m.approvals.Resolve(id, true)
	}
	return id, wait, autoApproved
}

// ResolveApproval resolves a pending approval exactly once.
func (m *Mediator) ResolveApproval(id string, approved bool) bool {
	return m.approvals.Resolve(id, approved)
}

// ApprovalInfo reports the state of a pending or resolved approval.
func (m *Mediator) ApprovalInfo(id string) (approval.Info, bool) {
	return m.approvals.Info(id)
}

// CallTool invokes a named tool, accepting args as either a JSON
// string or an object; a wrapped {"args": ...} shape is unwrapped.
func (m *Mediator) CallTool(ctx context.Context, toolName string, rawArgs any) CallResult {
	args, err := normalizeArgs(rawArgs)
	if err != nil {
		return CallResult{Success: false, Error: err.Error()}
	}

	m.mu.Lock()
	conn, ok := m.owners[toolName]
	m.mu.Unlock()
	if !ok {
		return CallResult{Success: false, Error: fmt.Sprintf("unknown tool %q", toolName)}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	resp, err := conn.client.CallTool(ctx, req)
	if err != nil {
		return CallResult{Success: false, Error: err.Error()}
	}
	return parseResult(resp)
}

func normalizeArgs(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		if inner, ok := v["args"].(map[string]any); ok && len(v) == 1 {
			return inner, nil
		}
		return v, nil
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, fmt.Errorf("parse tool args: %w", err)
		}
		if inner, ok := parsed["args"].(map[string]any); ok && len(parsed) == 1 {
			return inner, nil
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("unsupported tool args type %T", raw)
	}
}

func parseResult(resp *mcp.CallToolResult) CallResult {
	if resp.IsError {
		for _, c := range resp.Content {
			if tc, ok := c.(mcp.TextContent); ok {
				return CallResult{Success: false, Error: tc.Text}
			}
		}
		return CallResult{Success: false, Error: "unknown error"}
	}

	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	result := ""
	for i, t := range texts {
		if i > 0 {
			result += "\n"
		}
		result += t
	}
	return CallResult{Success: true, Result: result}
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// Stop tears down every subprocess. A crash of one server does not
// prevent the others from being stopped.
func (m *Mediator) Stop() {
	m.mu.Lock()
	servers := m.servers
	m.servers = nil
	m.mu.Unlock()

	for _, conn := range servers {
		_ = conn.client.Close()
	}
}
