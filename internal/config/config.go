package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"ChatStream/internal/storage"
	"ChatStream/internal/stream"
)

const (
	ModeREPL  = "repl"
	ModeServe = "serve"

	EnvPrefix = "CHATSTREAM_"
)

// Config holds application configuration
type Config struct {
	Mode      string `toml:"mode"` // repl | serve
	Debug     bool   `toml:"debug"`
	LogDir    string `toml:"log_dir"`
	Telemetry bool   `toml:"telemetry"`

	Storage StorageConfig `toml:"storage"`
	Stream  StreamConfig  `toml:"stream"`
	Search  SearchConfig  `toml:"search"`
	Server  ServerConfig  `toml:"server"`
}

// StorageConfig selects where sessions are persisted
type StorageConfig struct {
	Backend  string `toml:"backend"`  // sqlite | file | memory
	Location string `toml:"location"` // database path or directory
	Key      string `toml:"key"`
}

// StreamConfig tunes the simulated reply
type StreamConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	StepDelay    time.Duration `toml:"step_delay"`
	Split        string        `toml:"split"` // runes | words
}

// SearchConfig sizes the people directory and the lookup caches
type SearchConfig struct {
	People         int           `toml:"people"`
	PeopleTTL      time.Duration `toml:"people_ttl"`
	SuggestionsTTL time.Duration `toml:"suggestions_ttl"`
}

// ServerConfig configures serve mode
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Mode:      ModeREPL,
		LogDir:    "logs",
		Telemetry: true,
		Storage: StorageConfig{
			Backend:  storage.BackendSQLite,
			Location: "chatstream.db",
			Key:      storage.DefaultKey,
		},
		Stream: StreamConfig{
			InitialDelay: stream.DefaultInitialDelay,
			StepDelay:    stream.DefaultStepDelay,
			Split:        "runes",
		},
		Search: SearchConfig{
			People:         1_000_000,
			PeopleTTL:      10 * time.Minute,
			SuggestionsTTL: 5 * time.Minute,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (if
// any) and CHATSTREAM_* environment variables, in that order
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays the TOML file at path onto cfg
func LoadFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv applies environment variable overrides:
//   - CHATSTREAM_MODE, CHATSTREAM_DEBUG, CHATSTREAM_LOG_DIR, CHATSTREAM_TELEMETRY
//   - CHATSTREAM_STORAGE_BACKEND, CHATSTREAM_STORAGE_LOCATION, CHATSTREAM_STORAGE_KEY
//   - CHATSTREAM_INITIAL_DELAY, CHATSTREAM_STEP_DELAY, CHATSTREAM_SPLIT
//   - CHATSTREAM_PEOPLE
//   - CHATSTREAM_ADDR, CHATSTREAM_ALLOWED_ORIGINS (comma-separated)
func (c *Config) ApplyEnv() error {
	var err error
	setString(&c.Mode, "MODE")
	setString(&c.LogDir, "LOG_DIR")
	setString(&c.Storage.Backend, "STORAGE_BACKEND")
	setString(&c.Storage.Location, "STORAGE_LOCATION")
	setString(&c.Storage.Key, "STORAGE_KEY")
	setString(&c.Stream.Split, "SPLIT")
	setString(&c.Server.Addr, "ADDR")

	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}

	for _, e := range []error{
		setBool(&c.Debug, "DEBUG"),
		setBool(&c.Telemetry, "TELEMETRY"),
		setDuration(&c.Stream.InitialDelay, "INITIAL_DELAY"),
		setDuration(&c.Stream.StepDelay, "STEP_DELAY"),
		setInt(&c.Search.People, "PEOPLE"),
	} {
		if e != nil && err == nil {
			err = e
		}
	}
	return err
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	return strings.TrimSpace(v), ok
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("invalid %s%s: %q", EnvPrefix, key, v)
	}
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch c.Mode {
	case ModeREPL:
	case ModeServe:
		if c.Server.Addr == "" {
			errs = append(errs, ValidationError{Field: "server.addr", Message: "required in serve mode"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: repl, serve", c.Mode),
		})
	}

	switch c.Storage.Backend {
	case storage.BackendSQLite, storage.BackendFile:
		if c.Storage.Location == "" {
			errs = append(errs, ValidationError{Field: "storage.location", Message: "required for " + c.Storage.Backend})
		}
	case storage.BackendMemory:
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: sqlite, file, memory", c.Storage.Backend),
		})
	}
	if c.Storage.Key == "" {
		errs = append(errs, ValidationError{Field: "storage.key", Message: "must not be empty"})
	}

	if c.Stream.InitialDelay < 0 {
		errs = append(errs, ValidationError{Field: "stream.initial_delay", Message: "must not be negative"})
	}
	if c.Stream.StepDelay < 0 {
		errs = append(errs, ValidationError{Field: "stream.step_delay", Message: "must not be negative"})
	}
	if _, ok := stream.SplitterByName(c.Stream.Split); !ok {
		errs = append(errs, ValidationError{
			Field:   "stream.split",
			Message: fmt.Sprintf("invalid split '%s', must be one of: runes, words", c.Stream.Split),
		})
	}

	if c.Search.People < 0 {
		errs = append(errs, ValidationError{Field: "search.people", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
