// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/ipa/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete IPA configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Server holds the HTTP and socket listener settings.
	Server ServerConfig `toml:"server" json:"server"`

	// Model selects and configures the model gateway.
	Model ModelConfig `toml:"model" json:"model"`

	// Store configures the article directory.
	Store StoreConfig `toml:"store" json:"store"`

	// Log configures the zap log sinks.
	Log LogConfig `toml:"log" json:"log"`

	// Client configures the console's connection manager.
	Client ClientConfig `toml:"client" json:"client"`

	// Display configures console output.
	Display DisplayConfig `toml:"display" json:"display"`
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`

	// AllowedOrigins lists CORS origins for the web clients.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`

	// RateLimitPerMinute bounds REST requests per client IP.
	RateLimitPerMinute int `toml:"rate_limit_per_minute" json:"rate_limit_per_minute"`

	// SocketEventsPerSecond bounds inbound events per socket.
	SocketEventsPerSecond int `toml:"socket_events_per_second" json:"socket_events_per_second"`

	// MaxMessageBytes bounds one inbound frame or request body.
	MaxMessageBytes int64 `toml:"max_message_bytes" json:"max_message_bytes"`
}

// ModelConfig contains model gateway settings.
type ModelConfig struct {
	// Provider is "gemini" or "ollama".
	Provider  string `toml:"provider" json:"provider"`
	APIKey    string `toml:"api_key" json:"api_key"`
	Model     string `toml:"model" json:"model"`
	OllamaURL string `toml:"ollama_url" json:"ollama_url"`

	// TimeoutSecs bounds one model call.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// StoreConfig contains article storage settings.
type StoreConfig struct {
	Dir string `toml:"dir" json:"dir"`

	// Watch broadcasts a fresh article list when files change outside the server.
	Watch bool `toml:"watch" json:"watch"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Dir   string `toml:"dir" json:"dir"`
	Level string `toml:"level" json:"level"`

	// Environment is "development" or "production". Production disables
	// the console sink.
	Environment string `toml:"environment" json:"environment"`
}

// ClientConfig contains console connection settings.
type ClientConfig struct {
	ServerURL            string `toml:"server_url" json:"server_url"`
	ReconnectAttempts    int    `toml:"reconnect_attempts" json:"reconnect_attempts"`
	ReconnectDelayMs     int    `toml:"reconnect_delay_ms" json:"reconnect_delay_ms"`
	MaxReconnectDelayMs  int    `toml:"max_reconnect_delay_ms" json:"max_reconnect_delay_ms"`
	HandshakeTimeoutSecs int    `toml:"handshake_timeout_secs" json:"handshake_timeout_secs"`
	RequestTimeoutSecs   int    `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// DisplayConfig contains console display settings.
type DisplayConfig struct {
	Colors           bool `toml:"colors" json:"colors"`
	Timestamps       bool `toml:"timestamps" json:"timestamps"`
	MaxMessageLength int  `toml:"max_message_length" json:"max_message_length"`
}

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Default returns a Config with built-in defaults.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3001,
			AllowedOrigins: []string{
				"http://localhost:3002",
				"http://localhost:5173",
			},
			RateLimitPerMinute:    100,
			SocketEventsPerSecond: 10,
			MaxMessageBytes:       10 << 20,
		},
		Model: ModelConfig{
			Provider:    ProviderGemini,
			Model:       "gemini-2.5-flash",
			OllamaURL:   "http://127.0.0.1:11434",
			TimeoutSecs: 25,
		},
		Store: StoreConfig{
			Dir:   "./databases",
			Watch: true,
		},
		Log: LogConfig{
			Dir:         "./logs",
			Level:       "info",
			Environment: "development",
		},
		Client: ClientConfig{
			ServerURL:            "http://localhost:3001",
			ReconnectAttempts:    5,
			ReconnectDelayMs:     3000,
			MaxReconnectDelayMs:  30000,
			HandshakeTimeoutSecs: 10,
			RequestTimeoutSecs:   30,
		},
		Display: DisplayConfig{
			Colors:           true,
			Timestamps:       true,
			MaxMessageLength: 0,
		},
	}
}

// =============================================================================
// DURATION HELPERS
// =============================================================================

// ModelTimeout returns the model call timeout.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSecs) * time.Second
}

// ReconnectDelay returns the base reconnect delay.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Client.ReconnectDelayMs) * time.Millisecond
}

// MaxReconnectDelay returns the reconnect delay cap.
func (c *Config) MaxReconnectDelay() time.Duration {
	return time.Duration(c.Client.MaxReconnectDelayMs) * time.Millisecond
}

// HandshakeTimeout returns the client handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Client.HandshakeTimeoutSecs) * time.Second
}

// RequestTimeout returns the REST request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Client.RequestTimeoutSecs) * time.Second
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the IPA configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ipa"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// SECURITY: Config files may hold the model API key; keep them 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from $IPA_CONFIG, then the TOML file, then the
// JSON file, falling back to defaults. Environment overrides are applied
// last. A file that exists but cannot be parsed is reported alongside the
// defaults.
func Load() (*Config, error) {
	if path := os.Getenv("IPA_CONFIG"); path != "" {
		return LoadFromPath(path)
	}

	var loadErr error
	candidates := []struct {
		path func() (string, error)
		load func(*Config, string) error
	}{
		{ConfigPathTOML, LoadTOML},
		{ConfigPathJSON, LoadJSON},
	}
	for _, c := range candidates {
		path, err := c.path()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg := Default()
		if err := c.load(cfg, path); err != nil {
			loadErr = fmt.Errorf("failed to load %s: %w", path, err)
			continue
		}
		return finish(cfg)
	}

	cfg, err := finish(Default())
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Files ending in .json are decoded as JSON, anything else as
// TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON decodes a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Version == "" {
		cfg.Version = d.Version
	}

	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = d.Server.AllowedOrigins
	}
	if cfg.Server.RateLimitPerMinute == 0 {
		cfg.Server.RateLimitPerMinute = d.Server.RateLimitPerMinute
	}
	if cfg.Server.SocketEventsPerSecond == 0 {
		cfg.Server.SocketEventsPerSecond = d.Server.SocketEventsPerSecond
	}
	if cfg.Server.MaxMessageBytes == 0 {
		cfg.Server.MaxMessageBytes = d.Server.MaxMessageBytes
	}

	// Model
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = d.Model.Provider
	}
	if cfg.Model.OllamaURL == "" {
		cfg.Model.OllamaURL = d.Model.OllamaURL
	}
	if cfg.Model.TimeoutSecs == 0 {
		cfg.Model.TimeoutSecs = d.Model.TimeoutSecs
	}

	// Store
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = d.Store.Dir
	}

	// Log
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = d.Log.Dir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Environment == "" {
		cfg.Log.Environment = d.Log.Environment
	}

	// Client
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = d.Client.ServerURL
	}
	if cfg.Client.ReconnectAttempts == 0 {
		cfg.Client.ReconnectAttempts = d.Client.ReconnectAttempts
	}
	if cfg.Client.ReconnectDelayMs == 0 {
		cfg.Client.ReconnectDelayMs = d.Client.ReconnectDelayMs
	}
	if cfg.Client.MaxReconnectDelayMs == 0 {
		cfg.Client.MaxReconnectDelayMs = d.Client.MaxReconnectDelayMs
	}
	if cfg.Client.HandshakeTimeoutSecs == 0 {
		cfg.Client.HandshakeTimeoutSecs = d.Client.HandshakeTimeoutSecs
	}
	if cfg.Client.RequestTimeoutSecs == 0 {
		cfg.Client.RequestTimeoutSecs = d.Client.RequestTimeoutSecs
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# IPA configuration file\n")
	b.WriteString("# Generated by ipa - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate validates the configuration and returns ValidateErrors listing
// every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port %d out of range 1-65535", c.Server.Port)
	}
	for _, origin := range c.Server.AllowedOrigins {
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			add("server.allowed_origins", "invalid origin %q", origin)
		}
	}
	if c.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute", "must not be negative")
	}
	if c.Server.SocketEventsPerSecond < 0 {
		add("server.socket_events_per_second", "must not be negative")
	}
	if c.Server.MaxMessageBytes < 1024 {
		add("server.max_message_bytes", "must be at least 1024, got %d", c.Server.MaxMessageBytes)
	}

	// Model
	switch strings.ToLower(c.Model.Provider) {
	case ProviderGemini, ProviderOllama:
	default:
		add("model.provider", "invalid provider '%s', must be one of: gemini, ollama", c.Model.Provider)
	}
	if strings.EqualFold(c.Model.Provider, ProviderOllama) {
		if u, err := url.Parse(c.Model.OllamaURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("model.ollama_url", "invalid URL %q", c.Model.OllamaURL)
		}
	}
	if c.Model.TimeoutSecs < 1 || c.Model.TimeoutSecs > 600 {
		add("model.timeout_secs", "must be between 1 and 600, got %d", c.Model.TimeoutSecs)
	}

	// Log
	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Environment {
	case "development", "production", "test":
	default:
		add("log.environment", "invalid environment '%s'", c.Log.Environment)
	}

	// Client
	if u, err := url.Parse(c.Client.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("client.server_url", "invalid URL %q, must be http or https", c.Client.ServerURL)
	}
	if c.Client.ReconnectAttempts < 0 {
		add("client.reconnect_attempts", "must not be negative")
	}
	if c.Client.ReconnectDelayMs < 0 || c.Client.MaxReconnectDelayMs < c.Client.ReconnectDelayMs {
		add("client.max_reconnect_delay_ms", "must be at least reconnect_delay_ms")
	}
	if c.Display.MaxMessageLength < 0 {
		add("display.max_message_length", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - PORT, HOST: server listener
//   - GEMINI_API_KEY: model.api_key
//   - IPA_PROVIDER, IPA_MODEL, IPA_OLLAMA_URL: model selection
//   - IPA_STORE_DIR: store.dir
//   - IPA_LOG_LEVEL, IPA_ENV: log settings
//   - IPA_SERVER_URL: client.server_url
func (c *Config) ApplyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.Port = n
		}
	}
	if host := os.Getenv("HOST"); host != "" {
		c.Server.Host = host
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Model.APIKey = key
	}
	if provider := os.Getenv("IPA_PROVIDER"); provider != "" {
		c.Model.Provider = strings.ToLower(provider)
	}
	if model := os.Getenv("IPA_MODEL"); model != "" {
		c.Model.Model = model
	}
	if u := os.Getenv("IPA_OLLAMA_URL"); u != "" {
		c.Model.OllamaURL = u
	}
	if dir := os.Getenv("IPA_STORE_DIR"); dir != "" {
		c.Store.Dir = dir
	}
	if level := os.Getenv("IPA_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if env := os.Getenv("IPA_ENV"); env != "" {
		c.Log.Environment = env
	}
	if u := os.Getenv("IPA_SERVER_URL"); u != "" {
		c.Client.ServerURL = u
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "server.port").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field
// equivalent. Acronym fields (APIKey, OllamaURL) match case-insensitively.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(part[:1]))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"server.host",
		"server.port",
		"server.allowed_origins",
		"server.rate_limit_per_minute",
		"server.socket_events_per_second",
		"server.max_message_bytes",
		"model.provider",
		"model.api_key",
		"model.model",
		"model.ollama_url",
		"model.timeout_secs",
		"store.dir",
		"store.watch",
		"log.dir",
		"log.level",
		"log.environment",
		"client.server_url",
		"client.reconnect_attempts",
		"client.reconnect_delay_ms",
		"client.max_reconnect_delay_ms",
		"client.handshake_timeout_secs",
		"client.request_timeout_secs",
		"display.colors",
		"display.timestamps",
		"display.max_message_length",
	}
}

// IsSecretKey reports whether a key holds a credential.
func IsSecretKey(key string) bool {
	return key == "model.api_key"
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String returns a JSON rendering with the API key redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Model.APIKey != "" {
		safe.Model.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance. Loads configuration on
// first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil && cfg == nil {
		return err
	}
	SetGlobal(cfg)
	return err
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
