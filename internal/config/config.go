package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	keyBotToken          = "tg_bot_api_token"
	keyBotTokenParameter = "bot_token_parameter"
	keyReferenceSource   = "reference_source"
	keyReferenceBook     = "reference_book_file_path"
	keyReferenceTable    = "reference_table"
	keyReferenceKey      = "reference_key_field"
	keyReferenceValue    = "reference_value_field"
	keyReferenceSQLite   = "reference_sqlite_path"
	keyTempDir           = "temp_dir"
	keyDebounceWindow    = "debounce_window"
	keyReferenceTTL      = "reference_ttl"
	keyRefreshBackoff    = "refresh_backoff"
	keySessionMaxIdle    = "session_max_idle"
	keyReapInterval      = "reap_interval"
	keyPollTimeout       = "poll_timeout"
	keyLogLevel          = "log_level"
)

// Reference sources.
const (
	SourceFile     = "file"
	SourceDynamoDB = "dynamodb"
	SourceSQLite   = "sqlite"
)

type Reference struct {
	Source     string
	BookPath   string
	Table      string
	KeyField   string
	ValueField string
	SQLitePath string
}

type Config struct {
	BotToken          string
	BotTokenParameter string
	Reference         Reference
	TempDir           string
	DebounceWindow    time.Duration
	ReferenceTTL      time.Duration
	RefreshBackoff    time.Duration
	SessionMaxIdle    time.Duration
	ReapInterval      time.Duration
	PollTimeout       time.Duration
	LogLevel          slog.Level
}

// New returns a viper instance reading the environment and, when configFile
// is set, that file. Environment variables win over the file.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if configFile = strings.TrimSpace(configFile); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyReferenceSource, SourceFile)
	v.SetDefault(keyReferenceKey, "article")
	v.SetDefault(keyReferenceValue, "barcode")
	v.SetDefault(keyTempDir, filepath.Join(os.TempDir(), "telegram_bot_files"))
	v.SetDefault(keyDebounceWindow, "3.1s")
	v.SetDefault(keyReferenceTTL, "8h")
	v.SetDefault(keyRefreshBackoff, "60s")
	v.SetDefault(keySessionMaxIdle, "1h")
	v.SetDefault(keyReapInterval, "1h")
	v.SetDefault(keyPollTimeout, "30s")
	v.SetDefault(keyLogLevel, "info")
}

// Load reads and validates the bot configuration. The bot token itself is
// not required here; see RequireBotToken.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("config: viper must not be nil")
	}

	cfg := Config{
		BotToken:          strings.TrimSpace(v.GetString(keyBotToken)),
		BotTokenParameter: strings.TrimSpace(v.GetString(keyBotTokenParameter)),
		Reference: Reference{
			Source:     strings.ToLower(strings.TrimSpace(v.GetString(keyReferenceSource))),
			BookPath:   strings.TrimSpace(v.GetString(keyReferenceBook)),
			Table:      strings.TrimSpace(v.GetString(keyReferenceTable)),
			KeyField:   strings.TrimSpace(v.GetString(keyReferenceKey)),
			ValueField: strings.TrimSpace(v.GetString(keyReferenceValue)),
			SQLitePath: strings.TrimSpace(v.GetString(keyReferenceSQLite)),
		},
		TempDir: strings.TrimSpace(v.GetString(keyTempDir)),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{keyDebounceWindow, &cfg.DebounceWindow},
		{keyReferenceTTL, &cfg.ReferenceTTL},
		{keyRefreshBackoff, &cfg.RefreshBackoff},
		{keySessionMaxIdle, &cfg.SessionMaxIdle},
		{keyReapInterval, &cfg.ReapInterval},
		{keyPollTimeout, &cfg.PollTimeout},
	}
	for _, d := range durations {
		parsed, err := duration(v, d.key)
		if err != nil {
			return Config{}, err
		}
		*d.dst = parsed
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString(keyLogLevel))); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", envName(keyLogLevel), err)
	}
	if cfg.TempDir == "" {
		return Config{}, missing(keyTempDir)
	}
	if err := cfg.Reference.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RequireBotToken checks that the token is configured directly or through
// Parameter Store.
func (c Config) RequireBotToken() error {
	if c.BotToken == "" && c.BotTokenParameter == "" {
		return fmt.Errorf("config: %s or %s must be set", envName(keyBotToken), envName(keyBotTokenParameter))
	}
	return nil
}

func (r Reference) validate() error {
	switch r.Source {
	case SourceFile:
		if r.BookPath == "" {
			return missing(keyReferenceBook)
		}
	case SourceDynamoDB, SourceSQLite:
		if r.Table == "" {
			return missing(keyReferenceTable)
		}
		if r.KeyField == "" {
			return missing(keyReferenceKey)
		}
		if r.ValueField == "" {
			return missing(keyReferenceValue)
		}
		if r.Source == SourceSQLite && r.SQLitePath == "" {
			return missing(keyReferenceSQLite)
		}
	default:
		return fmt.Errorf("config: %s must be one of %s, %s, %s (got %q)",
			envName(keyReferenceSource), SourceFile, SourceDynamoDB, SourceSQLite, r.Source)
	}
	return nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", envName(key), err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive (got %s)", envName(key), raw)
	}
	return d, nil
}

func missing(key string) error {
	return fmt.Errorf("config: %s is required", envName(key))
}

func envName(key string) string {
	return strings.ToUpper(key)
}
