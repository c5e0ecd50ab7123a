package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/tinyland-inc/switchboard/pkg/messaging"
	"github.com/tinyland-inc/switchboard/pkg/utils"
)

// Engine kinds.
const (
	EngineEcho      = "echo"
	EngineRPC       = "rpc"
	EngineAnthropic = "anthropic"
	EngineOpenAI    = "openai"
)

// Desktop pipe modes.
const (
	DesktopModeStdio = "stdio"
	DesktopModeHost  = "host"
)

// FlexibleStringSlice is a []string that also accepts numbers, so an
// allow-list can contain both "123" and 123. In YAML a single scalar is read
// as a comma separated list.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

func (f *FlexibleStringSlice) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*f = splitList(node.Value)
		return nil
	case yaml.SequenceNode:
		result := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: allow-list entries must be scalars", item.Line)
			}
			result = append(result, item.Value)
		}
		*f = result
		return nil
	default:
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type Config struct {
	AgentID   string          `json:"agent_id"  yaml:"agent_id"  env:"SWITCHBOARD_AGENT_ID"`
	Log       LogConfig       `json:"log"       yaml:"log"`
	Platforms PlatformsConfig `json:"platforms" yaml:"platforms"`
	Engine    EngineConfig    `json:"engine"    yaml:"engine"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" env:"SWITCHBOARD_LOG_LEVEL"`
	JSON  bool   `json:"json"  yaml:"json"  env:"SWITCHBOARD_LOG_JSON"`
}

// AccessConfig is the admission policy of one platform.
type AccessConfig struct {
	AllowedDMs            FlexibleStringSlice `json:"allowed_dms"              yaml:"allowed_dms"              env:"ALLOWED_DMS"`
	AllowedGroups         FlexibleStringSlice `json:"allowed_groups"           yaml:"allowed_groups"           env:"ALLOWED_GROUPS"`
	RespondToMentionsOnly bool                `json:"respond_to_mentions_only" yaml:"respond_to_mentions_only" env:"RESPOND_TO_MENTIONS_ONLY"`
}

// Adapter converts the policy to the form adapters evaluate.
func (a AccessConfig) Adapter() messaging.AdapterConfig {
	return messaging.AdapterConfig{
		AllowedDMs:            append([]string(nil), a.AllowedDMs...),
		AllowedGroups:         append([]string(nil), a.AllowedGroups...),
		RespondToMentionsOnly: a.RespondToMentionsOnly,
	}
}

type PlatformsConfig struct {
	Web     WebConfig     `json:"web"     yaml:"web"     envPrefix:"SWITCHBOARD_WEB_"`
	App     AppConfig     `json:"app"     yaml:"app"     envPrefix:"SWITCHBOARD_APP_"`
	Desktop DesktopConfig `json:"desktop" yaml:"desktop" envPrefix:"SWITCHBOARD_DESKTOP_"`
}

// WebConfig configures the persistent socket transport.
type WebConfig struct {
	Enabled          bool   `json:"enabled"            yaml:"enabled"            env:"ENABLED"`
	Addr             string `json:"addr"               yaml:"addr"               env:"ADDR"`
	Path             string `json:"path"               yaml:"path"               env:"PATH"`
	MaxMessageLength int    `json:"max_message_length" yaml:"max_message_length" env:"MAX_MESSAGE_LENGTH"`
	AccessConfig     `yaml:",inline"`
}

// AppConfig configures the HTTP ingestion and event stream transport.
type AppConfig struct {
	Enabled          bool   `json:"enabled"            yaml:"enabled"            env:"ENABLED"`
	Addr             string `json:"addr"               yaml:"addr"               env:"ADDR"`
	HeartbeatSeconds int    `json:"heartbeat_seconds"  yaml:"heartbeat_seconds"  env:"HEARTBEAT_SECONDS"`
	QueueSize        int    `json:"queue_size"         yaml:"queue_size"         env:"QUEUE_SIZE"`
	MaxMessageLength int    `json:"max_message_length" yaml:"max_message_length" env:"MAX_MESSAGE_LENGTH"`
	AccessConfig     `yaml:",inline"`
}

// DesktopConfig configures the pipe transport.
type DesktopConfig struct {
	Enabled          bool   `json:"enabled"            yaml:"enabled"            env:"ENABLED"`
	Mode             string `json:"mode"               yaml:"mode"               env:"MODE"`
	Socket           string `json:"socket"             yaml:"socket"             env:"SOCKET"`
	ChannelPrefix    string `json:"channel_prefix"     yaml:"channel_prefix"     env:"CHANNEL_PREFIX"`
	ConversationID   string `json:"conversation_id"    yaml:"conversation_id"    env:"CONVERSATION_ID"`
	Sender           string `json:"sender"             yaml:"sender"             env:"SENDER"`
	MaxMessageLength int    `json:"max_message_length" yaml:"max_message_length" env:"MAX_MESSAGE_LENGTH"`
	AccessConfig     `yaml:",inline"`
}

// SocketPath returns the host-mode socket path, defaulting to a file named
// after the channel prefix in the temp directory.
func (d DesktopConfig) SocketPath() string {
	if d.Socket != "" {
		return expandHome(d.Socket)
	}
	prefix := d.ChannelPrefix
	if prefix == "" {
		prefix = "switchboard"
	}
	return filepath.Join(os.TempDir(), prefix+".sock")
}

// EngineConfig selects and configures the consumer of admitted messages.
type EngineConfig struct {
	Kind         string   `json:"kind"                  yaml:"kind"                  env:"SWITCHBOARD_ENGINE_KIND"`
	Command      string   `json:"command,omitempty"     yaml:"command,omitempty"     env:"SWITCHBOARD_ENGINE_COMMAND"`
	Args         []string `json:"args,omitempty"        yaml:"args,omitempty"        env:"SWITCHBOARD_ENGINE_ARGS"`
	Initialize   bool     `json:"initialize,omitempty"  yaml:"initialize,omitempty"  env:"SWITCHBOARD_ENGINE_INITIALIZE"`
	Model        string   `json:"model,omitempty"       yaml:"model,omitempty"       env:"SWITCHBOARD_ENGINE_MODEL"`
	APIKey       string   `json:"api_key,omitempty"     yaml:"api_key,omitempty"     env:"SWITCHBOARD_ENGINE_API_KEY"`
	APIBase      string   `json:"api_base,omitempty"    yaml:"api_base,omitempty"    env:"SWITCHBOARD_ENGINE_API_BASE"`
	MaxTokens    int      `json:"max_tokens"            yaml:"max_tokens"            env:"SWITCHBOARD_ENGINE_MAX_TOKENS"`
	SystemPrompt string   `json:"system_prompt"         yaml:"system_prompt"         env:"SWITCHBOARD_ENGINE_SYSTEM_PROMPT"`
	HistoryTurns int      `json:"history_turns"         yaml:"history_turns"         env:"SWITCHBOARD_ENGINE_HISTORY_TURNS"`
	EchoPrefix   string   `json:"echo_prefix,omitempty" yaml:"echo_prefix,omitempty" env:"SWITCHBOARD_ENGINE_ECHO_PREFIX"`
}

// DefaultConfig returns the configuration used when no file exists. Allow
// lists start empty, which blocks every conversation until they are set.
func DefaultConfig() *Config {
	return &Config{
		AgentID: "switchboard",
		Log:     LogConfig{Level: "info"},
		Platforms: PlatformsConfig{
			Web: WebConfig{
				Enabled:      true,
				Addr:         ":8765",
				Path:         "/ws",
				AccessConfig: AccessConfig{RespondToMentionsOnly: true},
			},
			App: AppConfig{
				Enabled:          true,
				Addr:             ":3001",
				HeartbeatSeconds: 25,
				QueueSize:        32,
				AccessConfig:     AccessConfig{RespondToMentionsOnly: true},
			},
			Desktop: DesktopConfig{
				Enabled:        false,
				Mode:           DesktopModeStdio,
				ChannelPrefix:  "switchboard",
				ConversationID: "desktop-main",
				Sender:         "user",
				AccessConfig:   AccessConfig{RespondToMentionsOnly: true},
			},
		},
		Engine: EngineConfig{
			Kind:         EngineEcho,
			MaxTokens:    1024,
			HistoryTurns: 20,
		},
	}
}

// LoadConfig reads path over the defaults and applies the SWITCHBOARD_
// environment overlay. A missing file is not an error. Files ending in .yaml
// or .yml are YAML; anything else is JSON, with comments and trailing commas
// allowed.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(jsonc.ToJSON(data), cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// SaveConfig writes cfg to path with owner-only permissions, as YAML or
// indented JSON depending on the extension.
func SaveConfig(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := utils.ValidatePlatformName(c.AgentID); err != nil {
		return fmt.Errorf("agent_id: %w", err)
	}

	web := c.Platforms.Web
	if web.Enabled {
		if err := validateAddr(web.Addr); err != nil {
			return fmt.Errorf("platforms.web.addr: %w", err)
		}
		if !strings.HasPrefix(web.Path, "/") {
			return fmt.Errorf("platforms.web.path: %q must start with /", web.Path)
		}
	}

	app := c.Platforms.App
	if app.Enabled {
		if err := validateAddr(app.Addr); err != nil {
			return fmt.Errorf("platforms.app.addr: %w", err)
		}
		if app.HeartbeatSeconds < 0 || app.QueueSize < 0 {
			return errors.New("platforms.app: heartbeat_seconds and queue_size must not be negative")
		}
	}

	desktop := c.Platforms.Desktop
	if desktop.Enabled {
		switch desktop.Mode {
		case DesktopModeStdio:
		case DesktopModeHost:
			if err := utils.ValidateChannelPrefix(desktop.ChannelPrefix); err != nil {
				return fmt.Errorf("platforms.desktop.channel_prefix: %w", err)
			}
		default:
			return fmt.Errorf("platforms.desktop.mode: unknown mode %q", desktop.Mode)
		}
	}

	switch c.Engine.Kind {
	case EngineEcho, EngineAnthropic, EngineOpenAI:
	case EngineRPC:
		if c.Engine.Command == "" {
			return errors.New("engine.command is required for the rpc engine")
		}
	default:
		return fmt.Errorf("engine.kind: unknown engine %q", c.Engine.Kind)
	}
	return nil
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return fmt.Errorf("%q has no port", addr)
	}
	return nil
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
