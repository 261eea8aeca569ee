package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrEmptyContent = errors.New("nothing to export")
	ErrUnsupported  = errors.New("unsupported file type")
)

const (
	TypeMarkdown = "text/markdown"
	TypeHTML     = "text/html"
)

var htmlSuffix = regexp.MustCompile(`(?i)\.html?$`)

// Input is a file offered for import. Type is a media type and may be empty.
type Input struct {
	Name string
	Type string
	Data []byte
}

// FromPath reads path and guesses its media type from the extension.
func FromPath(path string) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, err
	}
	name := filepath.Base(path)
	return Input{Name: name, Type: TypeOf(name), Data: data}, nil
}

func TypeOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md", ".markdown", ".mdown", ".mkd":
		return TypeMarkdown
	case ".html", ".htm":
		return TypeHTML
	}
	media := mime.TypeByExtension(ext)
	if base, _, err := mime.ParseMediaType(media); err == nil {
		return base
	}
	return ""
}

// Imported is a parsed file ready to become a tab.
type Imported struct {
	Name    string
	Content string
}

// HTMLConverter turns an HTML document into Markdown.
type HTMLConverter interface {
	Convert(ctx context.Context, html string) (string, error)
}

type Creator interface {
	CreateFile(ctx context.Context, name, content string) (string, error)
	SwitchFile(ctx context.Context, id string) error
}

type Options struct {
	HTML   HTMLConverter
	Logger *slog.Logger
}

type Importer struct {
	html   HTMLConverter
	logger *slog.Logger
}

func New(opts Options) *Importer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Importer{html: opts.HTML, logger: logger}
}

func IsTextFile(in Input) bool {
	return in.Type == TypeMarkdown || strings.HasSuffix(in.Name, ".md") || in.Type == TypeHTML
}

func IsImageFile(in Input) bool {
	return strings.HasPrefix(in.Type, "image/")
}

// Parse converts in to Markdown. It returns nil for types it does not
// handle.
func (i *Importer) Parse(ctx context.Context, in Input) (*Imported, error) {
	if in.Type == TypeMarkdown || strings.HasSuffix(in.Name, ".md") {
		name := in.Name
		if !strings.HasSuffix(name, ".md") {
			name += ".md"
		}
		return &Imported{Name: name, Content: string(in.Data)}, nil
	}
	if in.Type == TypeHTML {
		if i.html == nil {
			return nil, fmt.Errorf("%w: no html converter for %s", ErrUnsupported, in.Name)
		}
		content, err := i.html.Convert(ctx, string(in.Data))
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", in.Name, err)
		}
		return &Imported{Name: htmlSuffix.ReplaceAllString(in.Name, "") + ".md", Content: content}, nil
	}
	return nil, nil
}

type Result struct {
	Input string
	Name  string
	ID    string
	Err   error
}

// ImportAsNewTabs creates a file for every input that parses and switches
// to the last one created. Per-file failures are reported in the results.
func (i *Importer) ImportAsNewTabs(ctx context.Context, creator Creator, inputs []Input) (string, []Result, error) {
	lastID := ""
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		parsed, err := i.Parse(ctx, in)
		if err != nil {
			i.logger.Error("import failed", "name", in.Name, "err", err)
			results = append(results, Result{Input: in.Name, Err: err})
			continue
		}
		if parsed == nil {
			continue
		}
		id, err := creator.CreateFile(ctx, parsed.Name, parsed.Content)
		if err != nil {
			i.logger.Error("import failed", "name", in.Name, "err", err)
			results = append(results, Result{Input: in.Name, Name: parsed.Name, Err: err})
			continue
		}
		lastID = id
		results = append(results, Result{Input: in.Name, Name: parsed.Name, ID: id})
	}
	if lastID == "" {
		return "", results, nil
	}
	if err := creator.SwitchFile(ctx, lastID); err != nil {
		return lastID, results, fmt.Errorf("switch to %s: %w", lastID, err)
	}
	return lastID, results, nil
}
