// Package agent – config.go defines the configuration structures and the
// loading chain: config.yaml, .env files, environment variables.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and $VAR references in config values.
var envVarPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}|\$[A-Za-z_][A-Za-z0-9_]*`)

// ProviderKeyNames maps provider IDs to their standard API key variable names.
var ProviderKeyNames = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"groq":       "GROQ_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"xai":        "XAI_API_KEY",
}

// GetProviderKeyName returns the standard API key variable name for a
// provider, falling back to the generic API_KEY.
func GetProviderKeyName(provider string) string {
	if name, ok := ProviderKeyNames[strings.ToLower(provider)]; ok {
		return name
	}
	return "API_KEY"
}

// APIConfig configures the LLM provider endpoint.
type APIConfig struct {
	// BaseURL is the OpenAI-compatible API base (default: https://api.openai.com/v1).
	BaseURL string `yaml:"base_url"`

	// Provider overrides URL-based provider detection.
	Provider string `yaml:"provider"`

	// APIKey is the credential. Prefer the vault, the OS keyring, or an
	// environment reference like ${OPENAI_API_KEY} over a literal value.
	APIKey string `yaml:"api_key"`
}

// HistoryConfig configures the bounded conversation history.
type HistoryConfig struct {
	// Backend selects "file" (JSON array, default) or "sqlite".
	Backend string `yaml:"backend"`

	// Dir is where history files live (default: ~/.config/termclaw/history).
	Dir string `yaml:"dir"`

	// MaxTurns caps the persisted log; oldest turns are evicted first.
	MaxTurns int `yaml:"max_turns"`
}

// ToolsConfig configures plugin tool discovery.
type ToolsConfig struct {
	// Dir holds executable plugins (default: ~/.config/termclaw/tools).
	Dir string `yaml:"dir"`

	// MaxOutputBytes truncates tool output before it is embedded in the
	// conversation (default: 6000).
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

// Config holds all termclaw configuration.
type Config struct {
	// Model is the LLM model to use (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// API configures the LLM provider endpoint.
	API APIConfig `yaml:"api"`

	// Temperature is the sampling temperature sent with every request.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens is the output token ceiling sent with every request.
	MaxTokens int `yaml:"max_tokens"`

	// MaxReplyChars is the output-length ceiling restated in the trailing
	// system reminder to counter drift in long conversations.
	MaxReplyChars int `yaml:"max_reply_chars"`

	// JSONMode requests structured output (response_format: json_object)
	// from providers that support it.
	JSONMode bool `yaml:"json_mode"`

	// Shell runs proposed commands (default: value of $SHELL, else bash).
	Shell string `yaml:"shell"`

	// ExposeCwd includes the current working directory in the dynamic
	// context turn sent to the model.
	ExposeCwd bool `yaml:"expose_cwd"`

	// History configures the persisted conversation log.
	History HistoryConfig `yaml:"history"`

	// Tools configures plugin discovery and execution.
	Tools ToolsConfig `yaml:"tools"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Model:         "gpt-4o-mini",
		API:           APIConfig{BaseURL: "https://api.openai.com/v1"},
		Temperature:   0.2,
		MaxTokens:     1024,
		MaxReplyChars: 1200,
		JSONMode:      true,
		Shell:         defaultShell(),
		ExposeCwd:     true,
		History: HistoryConfig{
			Backend:  "file",
			Dir:      filepath.Join(configDir(), "history"),
			MaxTurns: 20,
		},
		Tools: ToolsConfig{
			Dir:            filepath.Join(configDir(), "tools"),
			MaxOutputBytes: 6000,
		},
	}
}

// configDir returns the termclaw config directory.
func configDir() string {
	if dir := os.Getenv("TERMCLAW_CONFIG_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "termclaw")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "bash"
}

// LoadConfig reads the config file (if present), loads .env files, expands
// ${VAR} references, and resolves the API key from the environment chain.
// A missing config file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	loadEnvFiles()

	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			resolveSecrets(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.API.BaseURL = expandEnvVars(cfg.API.BaseURL)
	cfg.API.APIKey = expandEnvVars(cfg.API.APIKey)
	applyDefaults(cfg)
	resolveSecrets(cfg)
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = def.API.BaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxReplyChars <= 0 {
		cfg.MaxReplyChars = def.MaxReplyChars
	}
	if cfg.Shell == "" {
		cfg.Shell = def.Shell
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = def.History.Backend
	}
	if cfg.History.Dir == "" {
		cfg.History.Dir = def.History.Dir
	}
	if cfg.History.MaxTurns <= 0 {
		cfg.History.MaxTurns = def.History.MaxTurns
	}
	if cfg.Tools.Dir == "" {
		cfg.Tools.Dir = def.Tools.Dir
	}
	if cfg.Tools.MaxOutputBytes <= 0 {
		cfg.Tools.MaxOutputBytes = def.Tools.MaxOutputBytes
	}
}

// loadEnvFiles loads .env files from standard locations.
// godotenv.Load does not overwrite variables already set.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR references with their values,
// leaving unresolved placeholders intact.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// IsEnvReference reports whether a config value is an unresolved ${VAR}
// placeholder rather than a real secret.
func IsEnvReference(value string) bool {
	return strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}")
}

// resolveSecrets fills the API key from the credential chain when the config
// value is empty or an unresolved placeholder: vault and keyring are handled
// by ResolveAPIKey at startup; here we check environment variables.
func resolveSecrets(cfg *Config) {
	if cfg.API.APIKey != "" && !IsEnvReference(cfg.API.APIKey) {
		return
	}
	candidates := []string{"TERMCLAW_API_KEY", GetProviderKeyName(cfg.API.Provider)}
	if cfg.API.Provider == "" {
		candidates = append(candidates, "OPENAI_API_KEY", "API_KEY")
	}
	for _, env := range candidates {
		if key := os.Getenv(env); key != "" {
			cfg.API.APIKey = key
			return
		}
	}
}
