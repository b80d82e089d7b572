// Package config resolves the orchestration core's recognized
// configuration options (spec §6) from CLI args, a JSON config file,
// environment variables, and defaults, highest-wins in that order.
//
// Grounded on pkg/config/koanf_loader.go's file-provider load path and
// pkg/config/env.go's expandEnvVars/GetProviderAPIKey/LoadEnvFiles
// helpers, trimmed to the single file-provider case (no
// consul/etcd/zookeeper — see DESIGN.md's dropped-dependency notes)
// since the spec names exactly one config file, ~/.thinksuit.json.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	jsonparser "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	mapstructure "github.com/go-viper/mapstructure/v2"
)

// ProviderConfig holds per-backend credentials and endpoints (spec §6
// "providerConfig.{openai.apiKey|anthropic.apiKey|vertexAi...}").
type ProviderConfig struct {
	OpenAI struct {
		APIKey string `koanf:"apiKey" json:"apiKey,omitempty"`
	} `koanf:"openai" json:"openai,omitempty"`
	Anthropic struct {
		APIKey string `koanf:"apiKey" json:"apiKey,omitempty"`
	} `koanf:"anthropic" json:"anthropic,omitempty"`
	VertexAI struct {
		ProjectID string `koanf:"projectId" json:"projectId,omitempty"`
		Location  string `koanf:"location" json:"location,omitempty"`
	} `koanf:"vertexAi" json:"vertexAi,omitempty"`
}

// DimensionPolicy gates one perception dimension (spec §6
// "policy.perception.dimensions.<dim>.{enabled,minConfidence}").
type DimensionPolicy struct {
	Enabled       bool    `koanf:"enabled" json:"enabled"`
	MinConfidence float64 `koanf:"minConfidence" json:"minConfidence"`
}

// PerceptionPolicy controls the signal-detection budget (spec §4.6).
type PerceptionPolicy struct {
	Profile    string                     `koanf:"profile" json:"profile,omitempty"`
	BudgetMs   int                        `koanf:"budgetMs" json:"budgetMs,omitempty"`
	Dimensions map[string]DimensionPolicy `koanf:"dimensions" json:"dimensions,omitempty"`
}

// Policy is the resource-cap and perception-budget bundle (spec §5, §6).
type Policy struct {
	MaxDepth          int              `koanf:"maxDepth" json:"maxDepth,omitempty"`
	MaxFanout         int              `koanf:"maxFanout" json:"maxFanout,omitempty"`
	MaxChildren       int              `koanf:"maxChildren" json:"maxChildren,omitempty"`
	ApprovalTimeoutMs int              `koanf:"approvalTimeoutMs" json:"approvalTimeoutMs,omitempty"`
	Perception        PerceptionPolicy `koanf:"perception" json:"perception,omitempty"`
}

// MCPServer describes one user-supplied MCP server entry (spec §6
// "mcpServers{}").
type MCPServer struct {
	Command string            `koanf:"command" json:"command"`
	Args    []string          `koanf:"args" json:"args,omitempty"`
	Env     map[string]string `koanf:"env" json:"env,omitempty"`
}

// Logging controls the ambient logging stack (spec §6
// "logging.{level,silent,format}").
type Logging struct {
	Level  string `koanf:"level" json:"level,omitempty"`
	Silent bool   `koanf:"silent" json:"silent,omitempty"`
	Format string `koanf:"format" json:"format,omitempty"`
}

// Config is every recognized option (spec §6). Zero values mean
// "unset"; Load fills in package Defaults for anything still unset
// after layering CLI > file > env > defaults.
type Config struct {
	Input           string         `koanf:"input" json:"input,omitempty"`
	SessionID       string         `koanf:"sessionId" json:"sessionId,omitempty"`
	SourceSessionID string         `koanf:"sourceSessionId" json:"sourceSessionId,omitempty"`
	ForkFromIndex   int            `koanf:"forkFromIndex" json:"forkFromIndex,omitempty"`
	Module          string         `koanf:"module" json:"module,omitempty"`
	ModulesPackage  string         `koanf:"modulesPackage" json:"modulesPackage,omitempty"`
	Provider        string         `koanf:"provider" json:"provider,omitempty"`
	Model           string         `koanf:"model" json:"model,omitempty"`
	ProviderConfig  ProviderConfig `koanf:"providerConfig" json:"providerConfig,omitempty"`

	Cwd                string               `koanf:"cwd" json:"cwd,omitempty"`
	AllowedDirectories []string             `koanf:"allowedDirectories" json:"allowedDirectories,omitempty"`
	MCPServers         map[string]MCPServer `koanf:"mcpServers" json:"mcpServers,omitempty"`
	AllowedTools       []string             `koanf:"allowedTools" json:"allowedTools,omitempty"`
	AutoApproveTools   bool                 `koanf:"autoApproveTools" json:"autoApproveTools,omitempty"`

	Policy  Policy  `koanf:"policy" json:"policy,omitempty"`
	Trace   bool    `koanf:"trace" json:"trace,omitempty"`
	Logging Logging `koanf:"logging" json:"logging,omitempty"`
}

// Defaults mirrors the spec's implicit defaults for caps the Plan
// Executor and Tool Mediator need even when nothing else sets them.
var Defaults = Config{
	Provider: "anthropic",
	Policy: Policy{
		MaxDepth:          10,
		MaxFanout:         8,
		MaxChildren:       50,
		ApprovalTimeoutMs: 3_600_000,
		Perception: PerceptionPolicy{
			Profile:  "balanced",
			BudgetMs: 5_000,
		},
	},
	Logging: Logging{Level: "info", Format: "pretty"},
}

// Home resolves THINKSUIT_HOME, defaulting to ~/.thinksuit.
func Home() string {
	if v := os.Getenv("THINKSUIT_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".thinksuit"
	}
	return filepath.Join(home, ".thinksuit")
}

// SessionStreamDir resolves THINKSUIT_SESSION_DIR, defaulting under Home.
func SessionStreamDir() string {
	if v := os.Getenv("THINKSUIT_SESSION_DIR"); v != "" {
		return v
	}
	return filepath.Join(Home(), "sessions", "streams")
}

// SessionMetadataDir resolves THINKSUIT_SESSION_METADATA_DIR, defaulting under Home.
func SessionMetadataDir() string {
	if v := os.Getenv("THINKSUIT_SESSION_METADATA_DIR"); v != "" {
		return v
	}
	return filepath.Join(Home(), "sessions", "metadata")
}

// TraceDir resolves THINKSUIT_TRACE_DIR, defaulting under Home.
func TraceDir() string {
	if v := os.Getenv("THINKSUIT_TRACE_DIR"); v != "" {
		return v
	}
	return filepath.Join(Home(), "traces")
}

// ConfigFilePath resolves THINKSUIT_CONFIG, defaulting to
// ~/.thinksuit.json (spec §3, §6).
func ConfigFilePath() string {
	if v := os.Getenv("THINKSUIT_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".thinksuit.json"
	}
	return filepath.Join(home, ".thinksuit.json")
}

// Load resolves Config from CLI overrides, the config file, environment
// variables, and Defaults, in that priority order, highest wins (spec
// §3 "Resolution order"). cliOverrides may be nil.
func Load(cliOverrides *Config) (*Config, error) {
	_ = godotenv.Load(".env.local", ".env")

	cfg := Defaults

	applyEnvOverrides(&cfg)

	path := ConfigFilePath()
	if _, err := os.Stat(path); err == nil {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), jsonparser.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
		if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
			Tag: "koanf",
			DecoderConfig: &mapstructure.DecoderConfig{
				Result:           &cfg,
				WeaklyTypedInput: true,
				TagName:          "koanf",
			},
		}); err != nil {
			return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
		}
	}

	if cliOverrides != nil {
		mergeOverrides(&cfg, cliOverrides)
	}

	resolveAPIKeys(&cfg)
	applyDefaultsForZero(&cfg)
	return &cfg, nil
}

// applyEnvOverrides applies the spec's enumerated environment
// variables (§6) that map onto Config fields; THINKSUIT_HOME,
// THINKSUIT_SESSION_DIR, THINKSUIT_SESSION_METADATA_DIR,
// THINKSUIT_TRACE_DIR, and THINKSUIT_CONFIG have no Config field —
// they govern path resolution directly (see Home, SessionStreamDir, etc).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("THINKSUIT_MODULE"); v != "" {
		cfg.Module = v
	}
	if v := os.Getenv("THINKSUIT_MODULES_PACKAGE"); v != "" {
		cfg.ModulesPackage = v
	}
}

// mergeOverrides copies every non-zero field of cli onto cfg. This
// mirrors the spec's "CLI args" layer winning over file+env+defaults;
// it is shallow for scalar fields and wholesale-replace for slices/maps
// (a CLI flag that sets allowedTools replaces the file's list, it does
// not merge with it).
func mergeOverrides(cfg, cli *Config) {
	if cli.Input != "" {
		cfg.Input = cli.Input
	}
	if cli.SessionID != "" {
		cfg.SessionID = cli.SessionID
	}
	if cli.SourceSessionID != "" {
		cfg.SourceSessionID = cli.SourceSessionID
	}
	if cli.ForkFromIndex != 0 {
		cfg.ForkFromIndex = cli.ForkFromIndex
	}
	if cli.Module != "" {
		cfg.Module = cli.Module
	}
	if cli.ModulesPackage != "" {
		cfg.ModulesPackage = cli.ModulesPackage
	}
	if cli.Provider != "" {
		cfg.Provider = cli.Provider
	}
	if cli.Model != "" {
		cfg.Model = cli.Model
	}
	if cli.ProviderConfig.OpenAI.APIKey != "" {
		cfg.ProviderConfig.OpenAI.APIKey = cli.ProviderConfig.OpenAI.APIKey
	}
	if cli.ProviderConfig.Anthropic.APIKey != "" {
		cfg.ProviderConfig.Anthropic.APIKey = cli.ProviderConfig.Anthropic.APIKey
	}
	if cli.Cwd != "" {
		cfg.Cwd = cli.Cwd
	}
	if len(cli.AllowedDirectories) > 0 {
		cfg.AllowedDirectories = cli.AllowedDirectories
	}
	if len(cli.MCPServers) > 0 {
		cfg.MCPServers = cli.MCPServers
	}
	if len(cli.AllowedTools) > 0 {
		cfg.AllowedTools = cli.AllowedTools
	}
	if cli.AutoApproveTools {
		cfg.AutoApproveTools = true
	}
	if cli.Policy.MaxDepth != 0 {
		cfg.Policy.MaxDepth = cli.Policy.MaxDepth
	}
	if cli.Policy.MaxFanout != 0 {
		cfg.Policy.MaxFanout = cli.Policy.MaxFanout
	}
	if cli.Policy.MaxChildren != 0 {
		cfg.Policy.MaxChildren = cli.Policy.MaxChildren
	}
	if cli.Policy.ApprovalTimeoutMs != 0 {
		cfg.Policy.ApprovalTimeoutMs = cli.Policy.ApprovalTimeoutMs
	}
	if cli.Trace {
		cfg.Trace = true
	}
	if cli.Logging.Level != "" {
		cfg.Logging.Level = cli.Logging.Level
	}
	if cli.Logging.Format != "" {
		cfg.Logging.Format = cli.Logging.Format
	}
	if cli.Logging.Silent {
		cfg.Logging.Silent = true
	}
}

func applyDefaultsForZero(cfg *Config) {
	if cfg.Policy.MaxDepth == 0 {
		cfg.Policy.MaxDepth = Defaults.Policy.MaxDepth
	}
	if cfg.Policy.MaxFanout == 0 {
		cfg.Policy.MaxFanout = Defaults.Policy.MaxFanout
	}
	if cfg.Policy.MaxChildren == 0 {
		cfg.Policy.MaxChildren = Defaults.Policy.MaxChildren
	}
	if cfg.Policy.ApprovalTimeoutMs == 0 {
		cfg.Policy.ApprovalTimeoutMs = Defaults.Policy.ApprovalTimeoutMs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = Defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = Defaults.Logging.Format
	}
}

var apiKeyEnvRef = regexp.MustCompile(`^\$\{?([A-Z_][A-Z0-9_]*)\}?$`)

// resolveAPIKeys expands a bare ${VAR} reference in the config file's
// apiKey fields and falls back to the provider's conventional
// environment variable when the field is empty (grounded on
// pkg/config/env.go's GetProviderAPIKey).
func resolveAPIKeys(cfg *Config) {
	cfg.ProviderConfig.OpenAI.APIKey = resolveAPIKey(cfg.ProviderConfig.OpenAI.APIKey, "OPENAI_API_KEY")
	cfg.ProviderConfig.Anthropic.APIKey = resolveAPIKey(cfg.ProviderConfig.Anthropic.APIKey, "ANTHROPIC_API_KEY")
}

func resolveAPIKey(value, envVar string) string {
	if value == "" {
		return os.Getenv(envVar)
	}
	if m := apiKeyEnvRef.FindStringSubmatch(value); m != nil {
		return os.Getenv(m[1])
	}
	return value
}

// Redact returns a copy of cfg safe to log: every API key field is
// replaced with a fixed-width mask (spec §3 "Sensitive fields (API
// keys) are never logged").
func Redact(cfg Config) Config {
	out := cfg
	out.ProviderConfig.OpenAI.APIKey = maskSecret(out.ProviderConfig.OpenAI.APIKey)
	out.ProviderConfig.Anthropic.APIKey = maskSecret(out.ProviderConfig.Anthropic.APIKey)
	return out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", 8)
}

// ParseIntEnv reads an int environment variable, returning def if
// unset or unparsable.
func ParseIntEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
