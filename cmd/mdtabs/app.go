package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/agentworkforce/mdtabs/internal/config"
	"github.com/agentworkforce/mdtabs/internal/crosstab"
	"github.com/agentworkforce/mdtabs/internal/files"
	"github.com/agentworkforce/mdtabs/internal/filesync"
	"github.com/agentworkforce/mdtabs/internal/logging"
	"github.com/agentworkforce/mdtabs/internal/metastore"
	"github.com/agentworkforce/mdtabs/internal/storage"
)

const relayDialTimeout = 5 * time.Second

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv config.Getenv

	configPath string
	overrides  config.Config
	saveDelay  time.Duration

	// shared is the long-lived app of an interactive shell.
	shared *app
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer, getenv config.Getenv) *cli {
	return &cli{stdin: stdin, stdout: stdout, stderr: stderr, getenv: getenv}
}

// app is one opened document session.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	storage  *storage.Storage
	meta     *metastore.JSONFileStore
	relay    *crosstab.RelayClient
	registry *files.Registry
	closers  []io.Closer
}

func (c *cli) loadConfig() (config.Config, error) {
	overrides := c.overrides
	if c.saveDelay > 0 {
		overrides.SaveDelay = config.Duration(c.saveDelay)
	}
	cfg, _, err := config.Load(config.LoadOptions{
		ConfigPath: c.configPath,
		Overrides:  overrides,
		Getenv:     c.getenv,
		Logger:     logging.New(c.stderr, logging.LevelWarn, logging.FormatText),
	})
	return cfg, err
}

func (c *cli) buildLogger(cfg config.Config) (*slog.Logger, io.Closer, error) {
	if cfg.LogFile != "" {
		return logging.Open(cfg.LogFile, cfg.LogLevel)
	}
	return logging.New(c.stderr, cfg.LogLevel, cfg.LogFormat), nil, nil
}

// withApp runs fn against the shell's app, or opens one for the duration of
// the call.
func (c *cli) withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	if c.shared != nil {
		return fn(ctx, c.shared)
	}
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	closeErr := a.close(context.WithoutCancel(ctx))
	return errors.Join(runErr, closeErr)
}

func (c *cli) open(ctx context.Context) (*app, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := c.buildLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	durable, err := storage.BuildDurableFromDSN(cfg.ContentDSN)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("content storage: %w", err)
	}
	a.storage = storage.New(durable, storage.Options{Logger: logger.With("component", "storage")})
	a.closers = append(a.closers, a.storage)

	a.meta = metastore.NewJSONFileStore(cfg.MetadataFile)
	var meta metastore.Store = a.meta
	if cfg.RelayURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, relayDialTimeout)
		relay, err := crosstab.DialRelay(dialCtx, cfg.RelayURL, crosstab.ClientOptions{Token: cfg.RelayToken, Logger: logger})
		cancel()
		if err != nil {
			logger.Warn("relay unavailable, continuing without it", "err", err)
		} else {
			a.relay = relay
			a.closers = append(a.closers, relay)
			meta = crosstab.NewPublishingStore(meta, relay, metastore.DefaultKey, logger)
		}
	}

	a.registry = files.New(a.storage, files.Options{
		Meta:      meta,
		SaveDelay: cfg.SaveDelay.Std(),
		Origin:    cfg.ContextID,
		Logger:    logger.With("component", "files"),
		Notify:    c.printNotice,
	})
	if err := a.registry.Hydrate(); err != nil {
		fmt.Fprintf(c.stderr, "warning: file list could not be restored: %v\n", err)
	}
	if err := a.registry.Initialize(ctx); err != nil {
		a.registry.Close()
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (c *cli) printNotice(n files.Notice) {
	fmt.Fprintf(c.stderr, "warning: %s\n", n.Message)
}

func (a *app) close(ctx context.Context) error {
	err := a.registry.Flush(ctx)
	a.registry.Close()
	a.closeAll()
	return err
}

func (a *app) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Debug("close failed", "err", err)
		}
	}
	a.closers = nil
}

// startSync feeds metadata file changes and relay messages into a syncer
// until ctx is done.
func (a *app) startSync(ctx context.Context, onChange func([]files.FileRecord)) error {
	if err := os.MkdirAll(filepath.Dir(a.cfg.MetadataFile), 0o755); err != nil {
		return err
	}
	events := make(chan crosstab.Event, 16)
	watcher := crosstab.NewFileWatcher(a.cfg.MetadataFile, crosstab.WatcherOptions{
		Key:    metastore.DefaultKey,
		Origin: a.cfg.ContextID,
		Logger: a.logger,
	})
	go func() {
		if err := watcher.Run(ctx, events); err != nil {
			a.logger.Warn("metadata watcher stopped", "err", err)
		}
	}()
	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx, events); err != nil {
				a.logger.Warn("relay connection lost", "err", err)
			}
		}()
	}
	syncer := filesync.New(a.registry, filesync.Options{Logger: a.logger.With("component", "sync"), OnChange: onChange})
	go syncer.Run(ctx, events)
	return nil
}

func (a *app) resolve(ref string) (files.FileRecord, error) {
	if ref == "" {
		if active, ok := a.registry.ActiveFile(); ok {
			return active, nil
		}
		return files.FileRecord{}, fmt.Errorf("%w: no active file", files.ErrNotFound)
	}
	record, ok := a.registry.Lookup(ref)
	if !ok {
		return files.FileRecord{}, fmt.Errorf("%w: no file matches %q", files.ErrNotFound, ref)
	}
	return record, nil
}
