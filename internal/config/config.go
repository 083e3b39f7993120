package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"asciidocartisan/engine/internal/envutil"
)

const schemaVersion = 1

const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Environment overrides, applied after the file is read.
const (
	EnvPandocPath    = "ASCIIDOC_ARTISAN_PANDOC_PATH"
	EnvPandocTimeout = "ASCIIDOC_ARTISAN_PANDOC_TIMEOUT"
	EnvAIProvider    = "ASCIIDOC_ARTISAN_AI_PROVIDER"
	EnvAIModel       = "ASCIIDOC_ARTISAN_AI_MODEL"
	EnvOllamaURL     = "ASCIIDOC_ARTISAN_OLLAMA_URL"
	EnvMaxConcurrent = "ASCIIDOC_ARTISAN_MAX_CONCURRENT"
	EnvOutputDir     = "ASCIIDOC_ARTISAN_OUTPUT_DIR"
)

const maxConcurrentLimit = 16

//go:embed default.yaml
var defaultYAML []byte

type PandocConfig struct {
	Path           string            `yaml:"path"`
	Timeout        time.Duration     `yaml:"timeout"`
	DefaultOptions map[string]string `yaml:"default_options"`
}

type AIConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	OllamaURL string        `yaml:"ollama_url"`
}

type DispatchConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	OutputDir     string `yaml:"output_dir"`
}

// Config is the engine configuration. It deliberately has no credential
// field; the AI key only ever comes from the process environment.
type Config struct {
	SchemaVersion int            `yaml:"schema_version"`
	Pandoc        PandocConfig   `yaml:"pandoc"`
	AI            AIConfig       `yaml:"ai"`
	Dispatch      DispatchConfig `yaml:"dispatch"`
}

// Default returns the embedded default configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded default is invalid: %v", err))
	}
	backfill(&cfg)
	return &cfg
}

type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// EnsureDefault writes the commented default file if none exists.
func (s *Store) EnsureDefault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, defaultYAML, 0o600)
}

// Load reads the file, backfills anything missing and validates. A missing
// file yields the defaults.
func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", s.path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", s.path, err)
	}
	backfill(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", s.path, err)
	}
	return &cfg, nil
}

func (s *Store) Save(cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backfill(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func backfill(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = schemaVersion
	}
	cfg.Pandoc.Path = strings.TrimSpace(cfg.Pandoc.Path)
	if cfg.Pandoc.Path == "" {
		cfg.Pandoc.Path = "pandoc"
	}
	if cfg.Pandoc.Timeout <= 0 {
		cfg.Pandoc.Timeout = 60 * time.Second
	}
	if cfg.Pandoc.DefaultOptions == nil {
		cfg.Pandoc.DefaultOptions = map[string]string{}
	}
	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = ProviderNone
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultModel(cfg.AI.Provider)
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = 8192
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 120 * time.Second
	}
	if strings.TrimSpace(cfg.AI.OllamaURL) == "" {
		cfg.AI.OllamaURL = "http://localhost:11434"
	}
	if cfg.Dispatch.MaxConcurrent <= 0 {
		cfg.Dispatch.MaxConcurrent = 2
	}
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderOllama:
		return "llama3.1"
	default:
		return ""
	}
}

func (c *Config) Validate() error {
	if c.SchemaVersion > schemaVersion {
		return fmt.Errorf("schema_version %d is newer than supported %d", c.SchemaVersion, schemaVersion)
	}
	switch c.AI.Provider {
	case ProviderNone, ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("ai.provider %q is not one of none, anthropic, ollama", c.AI.Provider)
	}
	if c.Dispatch.MaxConcurrent > maxConcurrentLimit {
		return fmt.Errorf("dispatch.max_concurrent must be at most %d", maxConcurrentLimit)
	}
	return nil
}

// AIEnabled reports whether a provider is selected.
func (c *Config) AIEnabled() bool {
	return c.AI.Provider != ProviderNone
}

// ApplyEnv overlays the ASCIIDOC_ARTISAN_* variables and validates again.
func (c *Config) ApplyEnv() error {
	if v, ok := envutil.String(EnvPandocPath); ok {
		c.Pandoc.Path = v
	}
	if d, ok, err := envutil.Duration(EnvPandocTimeout); err != nil {
		return fmt.Errorf("config: %s: %w", EnvPandocTimeout, err)
	} else if ok && d > 0 {
		c.Pandoc.Timeout = d
	}
	if v, ok := envutil.String(EnvAIProvider); ok {
		provider := strings.ToLower(v)
		if provider != c.AI.Provider {
			c.AI.Model = ""
		}
		c.AI.Provider = provider
	}
	if v, ok := envutil.String(EnvAIModel); ok {
		c.AI.Model = v
	}
	if v, ok := envutil.String(EnvOllamaURL); ok {
		c.AI.OllamaURL = v
	}
	if n, ok, err := envutil.Int(EnvMaxConcurrent); err != nil {
		return fmt.Errorf("config: %s: %w", EnvMaxConcurrent, err)
	} else if ok {
		c.Dispatch.MaxConcurrent = n
	}
	if v, ok := envutil.String(EnvOutputDir); ok {
		c.Dispatch.OutputDir = v
	}
	backfill(c)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
