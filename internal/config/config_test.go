package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/mdtabs/internal/logging"
)

func envMap(values map[string]string) Getenv {
	return func(name string) string { return values[name] }
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, sources, err := Load(LoadOptions{Getenv: envMap(map[string]string{"HOME": home})})
	require.NoError(t, err)

	dataDir := filepath.Join(home, ".local", "share", "mdtabs")
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "sqlite://"+filepath.Join(dataDir, "content.db"), cfg.ContentDSN)
	assert.Equal(t, filepath.Join(dataDir, "files.json"), cfg.MetadataFile)
	assert.Equal(t, filepath.Join(dataDir, "session.json"), cfg.SessionFile)
	assert.Equal(t, 500*time.Millisecond, cfg.SaveDelay.Std())
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel)
	assert.NotEmpty(t, cfg.ContextID)
	assert.Empty(t, sources.Global)
	assert.Empty(t, sources.Explicit)
}

func TestLoadPrecedence(t *testing.T) {
	root := t.TempDir()
	xdg := filepath.Join(root, "xdg")
	writeConfig(t, filepath.Join(xdg, "mdtabs", "config.json"), `{
		// global settings
		"data_dir": "/global",
		"log_level": "debug",
		"save_delay": 250,
		"relay_url": "http://global",
	}`)
	explicit := filepath.Join(root, "explicit.json")
	writeConfig(t, explicit, `{"log_level": "warn", "relay_url": "http://explicit"}`)

	cfg, sources, err := Load(LoadOptions{
		ConfigPath: explicit,
		Overrides:  Config{ContextID: "flag-ctx"},
		Getenv: envMap(map[string]string{
			"XDG_CONFIG_HOME":          xdg,
			"MDTABS_RELAY_URL":         "http://env",
			"MDTABS_CONTEXT_ID":        "env-ctx",
			"MDTABS_SAVE_DELAY":        "not-a-duration",
			"MDTABS_RELAY_SEND_BUFFER": "32",
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(xdg, "mdtabs", "config.json"), sources.Global)
	assert.Equal(t, explicit, sources.Explicit)
	assert.Equal(t, "/global", cfg.DataDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "http://env", cfg.RelayURL)
	assert.Equal(t, "flag-ctx", cfg.ContextID)
	assert.Equal(t, 250*time.Millisecond, cfg.SaveDelay.Std())
	assert.Equal(t, 32, cfg.RelaySendBuffer)
	assert.Equal(t, "sqlite:///global/content.db", cfg.ContentDSN)
}

func TestLoadExplicitMustExist(t *testing.T) {
	_, _, err := Load(LoadOptions{
		ConfigPath: filepath.Join(t.TempDir(), "missing.json"),
		Getenv:     envMap(map[string]string{"HOME": t.TempDir()}),
	})
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"syntax":         `{"data_dir": `,
		"unknown field":  `{"colour": "blue"}`,
		"bad duration":   `{"save_delay": "soon"}`,
		"bad format":     `{"log_format": "xml"}`,
		"negative delay": `{"save_delay": "-1s"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			writeConfig(t, path, body)
			_, _, err := Load(LoadOptions{ConfigPath: path, Getenv: envMap(map[string]string{"HOME": t.TempDir()})})
			assert.Error(t, err)
		})
	}
}

func TestEnvHelpersFallBack(t *testing.T) {
	getenv := envMap(map[string]string{"N": "12", "BAD": "x", "D": "2s"})
	logger := logging.Discard()

	assert.Equal(t, 12, IntEnv(getenv, logger, "N", 1))
	assert.Equal(t, 1, IntEnv(getenv, logger, "BAD", 1))
	assert.Equal(t, 1, IntEnv(getenv, logger, "MISSING", 1))
	assert.Equal(t, 2*time.Second, DurationEnv(getenv, logger, "D", time.Second))
	assert.Equal(t, time.Second, DurationEnv(getenv, logger, "BAD", time.Second))
	assert.Equal(t, "fallback", StringEnv(getenv, "MISSING", "fallback"))
	assert.Equal(t, "12", StringEnv(getenv, "N", "fallback"))
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1.5s"`)))
	assert.Equal(t, 1500*time.Millisecond, d.Std())
	require.NoError(t, d.UnmarshalJSON([]byte(`40`)))
	assert.Equal(t, 40*time.Millisecond, d.Std())
	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"40ms"`, string(out))
}
