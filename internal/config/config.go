// Package config loads mdtabs settings from JSONC files, the environment
// and command-line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/hujson"

	"github.com/agentworkforce/mdtabs/internal/logging"
	"github.com/agentworkforce/mdtabs/internal/savesched"
)

const EnvPrefix = "MDTABS_"

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigInvalid  = errors.New("invalid config")
)

// Duration accepts "750ms" style strings or a number of milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var millis int64
	if err := json.Unmarshal(data, &millis); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %s", data)
	}
	*d = Duration(time.Duration(millis) * time.Millisecond)
	return nil
}

type Config struct {
	DataDir         string   `json:"data_dir,omitempty"`
	ContentDSN      string   `json:"content_dsn,omitempty"`
	MetadataFile    string   `json:"metadata_file,omitempty"`
	SessionFile     string   `json:"session_file,omitempty"`
	SaveDelay       Duration `json:"save_delay,omitempty"`
	LogLevel        string   `json:"log_level,omitempty"`
	LogFormat       string   `json:"log_format,omitempty"`
	LogFile         string   `json:"log_file,omitempty"`
	RelayURL        string   `json:"relay_url,omitempty"`
	RelayToken      string   `json:"relay_token,omitempty"`
	RelaySendBuffer int      `json:"relay_send_buffer,omitempty"`
	ContextID       string   `json:"context_id,omitempty"`
}

type Sources struct {
	Global   string
	Explicit string
}

type LoadOptions struct {
	// ConfigPath names an explicit config file that must exist.
	ConfigPath string
	Overrides  Config
	Getenv     Getenv
	Logger     *slog.Logger
}

func Defaults(getenv Getenv) Config {
	return Config{
		DataDir:   defaultDataDir(getenv),
		SaveDelay: Duration(savesched.DefaultDelay),
		LogLevel:  logging.LevelInfo,
		LogFormat: logging.FormatText,
	}
}

// Load resolves configuration. Later sources win: defaults, global file,
// explicit file, environment, overrides.
func Load(opts LoadOptions) (Config, Sources, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	cfg := Defaults(getenv)
	var sources Sources

	if path := GlobalPath(getenv); path != "" {
		global, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, Sources{}, err
		}
		if loaded {
			sources.Global = path
			cfg = merge(cfg, global)
		}
	}
	if opts.ConfigPath != "" {
		explicit, _, err := loadFile(opts.ConfigPath, true)
		if err != nil {
			return Config{}, Sources{}, err
		}
		sources.Explicit = opts.ConfigPath
		cfg = merge(cfg, explicit)
	}
	cfg = merge(cfg, fromEnv(getenv, logger, cfg))
	cfg = merge(cfg, opts.Overrides)
	cfg = fillDerived(cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}
	return cfg, sources, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("%w: data_dir is required", ErrConfigInvalid)
	}
	if cfg.SaveDelay <= 0 {
		return fmt.Errorf("%w: save_delay must be positive", ErrConfigInvalid)
	}
	if !logging.ValidFormat(cfg.LogFormat) {
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrConfigInvalid, cfg.LogFormat)
	}
	if cfg.RelaySendBuffer < 0 {
		return fmt.Errorf("%w: relay_send_buffer must not be negative", ErrConfigInvalid)
	}
	return nil
}

// GlobalPath returns $XDG_CONFIG_HOME/mdtabs/config.json, falling back to
// ~/.config/mdtabs/config.json.
func GlobalPath(getenv Getenv) string {
	if xdg := strings.TrimSpace(getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "mdtabs", "config.json")
	}
	if home := homeDir(getenv); home != "" {
		return filepath.Join(home, ".config", "mdtabs", "config.json")
	}
	return ""
}

func defaultDataDir(getenv Getenv) string {
	if xdg := strings.TrimSpace(getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "mdtabs")
	}
	if home := homeDir(getenv); home != "" {
		return filepath.Join(home, ".local", "share", "mdtabs")
	}
	return ".mdtabs"
}

func homeDir(getenv Getenv) string {
	if home := strings.TrimSpace(getenv("HOME")); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return cfg, true, nil
}

// Parse decodes a JSONC document. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	var cfg Config
	decoder := json.NewDecoder(strings.NewReader(string(standardized)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv(getenv Getenv, logger *slog.Logger, current Config) Config {
	return Config{
		DataDir:         StringEnv(getenv, EnvPrefix+"DATA_DIR", ""),
		ContentDSN:      StringEnv(getenv, EnvPrefix+"CONTENT_DSN", ""),
		MetadataFile:    StringEnv(getenv, EnvPrefix+"METADATA_FILE", ""),
		SessionFile:     StringEnv(getenv, EnvPrefix+"SESSION_FILE", ""),
		SaveDelay:       Duration(DurationEnv(getenv, logger, EnvPrefix+"SAVE_DELAY", current.SaveDelay.Std())),
		LogLevel:        StringEnv(getenv, EnvPrefix+"LOG_LEVEL", ""),
		LogFormat:       StringEnv(getenv, EnvPrefix+"LOG_FORMAT", ""),
		LogFile:         StringEnv(getenv, EnvPrefix+"LOG_FILE", ""),
		RelayURL:        StringEnv(getenv, EnvPrefix+"RELAY_URL", ""),
		RelayToken:      StringEnv(getenv, EnvPrefix+"RELAY_TOKEN", ""),
		RelaySendBuffer: IntEnv(getenv, logger, EnvPrefix+"RELAY_SEND_BUFFER", current.RelaySendBuffer),
		ContextID:       StringEnv(getenv, EnvPrefix+"CONTEXT_ID", ""),
	}
}

func merge(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.ContentDSN != "" {
		base.ContentDSN = overlay.ContentDSN
	}
	if overlay.MetadataFile != "" {
		base.MetadataFile = overlay.MetadataFile
	}
	if overlay.SessionFile != "" {
		base.SessionFile = overlay.SessionFile
	}
	if overlay.SaveDelay != 0 {
		base.SaveDelay = overlay.SaveDelay
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}
	if overlay.LogFile != "" {
		base.LogFile = overlay.LogFile
	}
	if overlay.RelayURL != "" {
		base.RelayURL = overlay.RelayURL
	}
	if overlay.RelayToken != "" {
		base.RelayToken = overlay.RelayToken
	}
	if overlay.RelaySendBuffer != 0 {
		base.RelaySendBuffer = overlay.RelaySendBuffer
	}
	if overlay.ContextID != "" {
		base.ContextID = overlay.ContextID
	}
	return base
}

func fillDerived(cfg Config) Config {
	if cfg.ContentDSN == "" {
		cfg.ContentDSN = "sqlite://" + filepath.Join(cfg.DataDir, "content.db")
	}
	if cfg.MetadataFile == "" {
		cfg.MetadataFile = filepath.Join(cfg.DataDir, "files.json")
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = filepath.Join(cfg.DataDir, "session.json")
	}
	if cfg.ContextID == "" {
		cfg.ContextID = uuid.NewString()
	}
	return cfg
}
