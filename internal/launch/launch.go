package launch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

const HandledKey = "bm.md.launch-handled"

var markdownName = regexp.MustCompile(`(?i)\.(md|markdown|mdown|mkd)$`)

// File is one file handed to the application at launch.
type File struct {
	Name string
	Read func() (string, error)
}

func FromPaths(paths []string) []File {
	out := make([]File, 0, len(paths))
	for _, path := range paths {
		out = append(out, File{
			Name: filepath.Base(path),
			Read: func() (string, error) {
				data, err := os.ReadFile(path)
				return string(data), err
			},
		})
	}
	return out
}

type Creator interface {
	CreateFile(ctx context.Context, name, content string) (string, error)
	SwitchFile(ctx context.Context, id string) error
}

type Options struct {
	Session SessionStore
	Logger  *slog.Logger
}

type Consumer struct {
	creator Creator
	session SessionStore
	logger  *slog.Logger
}

func NewConsumer(creator Creator, opts Options) *Consumer {
	session := opts.Session
	if session == nil {
		session = NewMemorySession()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Consumer{creator: creator, session: session, logger: logger}
}

type Result struct {
	Duplicate bool
	Created   []string
	LastID    string
}

// HandledKeyFor identifies a launch payload by its sorted file names.
func HandledKeyFor(files []File) string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	slices.Sort(names)
	return strings.Join(names, "|")
}

// Consume opens every Markdown file of a launch payload as a new tab and
// switches to the last one. A payload identical to the previous one in the
// same session is ignored.
func (c *Consumer) Consume(ctx context.Context, files []File) (Result, error) {
	if len(files) == 0 {
		return Result{}, nil
	}
	key := HandledKeyFor(files)
	last, ok, err := c.session.Get(HandledKey)
	if err != nil {
		c.logger.Warn("read launch session failed", "err", err)
	}
	if ok && last == key {
		c.logger.Debug("launch payload already handled", "key", key)
		return Result{Duplicate: true}, nil
	}
	if err := c.session.Set(HandledKey, key); err != nil {
		c.logger.Warn("record launch session failed", "err", err)
	}

	var result Result
	for _, f := range files {
		if !markdownName.MatchString(f.Name) {
			continue
		}
		content, err := f.Read()
		if err != nil {
			c.logger.Error("read launch file failed", "name", f.Name, "err", err)
			continue
		}
		id, err := c.creator.CreateFile(ctx, f.Name, content)
		if err != nil {
			c.logger.Error("open launch file failed", "name", f.Name, "err", err)
			continue
		}
		result.Created = append(result.Created, id)
		result.LastID = id
	}
	if result.LastID == "" {
		return result, nil
	}
	if err := c.creator.SwitchFile(ctx, result.LastID); err != nil {
		return result, fmt.Errorf("switch to %s: %w", result.LastID, err)
	}
	return result, nil
}
