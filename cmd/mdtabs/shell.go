package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/mdtabs/internal/files"
)

func shellCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session that stays in sync with other processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return c.runShell(ctx, a)
			})
		},
	}
}

func (c *cli) runShell(ctx context.Context, a *app) error {
	c.shared = a
	defer func() { c.shared = nil }()

	syncCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := a.startSync(syncCtx, func(records []files.FileRecord) {
		fmt.Fprintf(c.stdout, "\n[synced %d file(s)]\n", len(records))
	})
	if err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeShell)

	history := filepath.Join(a.cfg.DataDir, "shell_history")
	if f, err := os.Open(history); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(history); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(c.stdout, "mdtabs shell. Type 'help' for commands, 'exit' to quit.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt(c.prompt(a))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "exit" || input == "quit" {
			return nil
		}
		if err := c.runShellLine(ctx, input); err != nil {
			fmt.Fprintf(c.stderr, "error: %v\n", err)
		}
	}
}

func (c *cli) prompt(a *app) string {
	if active, ok := a.registry.ActiveFile(); ok {
		return active.Name + "> "
	}
	return "mdtabs> "
}

// runShellLine executes one shell line as a document command against the
// shared app.
func (c *cli) runShellLine(ctx context.Context, input string) error {
	root := newShellRoot(c)
	root.SetArgs(strings.Fields(input))
	return root.ExecuteContext(ctx)
}

func newShellRoot(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "mdtabs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(strings.NewReader(""))
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	addDocumentCommands(root, c)
	root.AddCommand(statusCmd(c))
	return root
}

var shellCommands = []string{"cat", "exit", "export", "help", "import", "ls", "mv", "new", "open", "rm", "status", "switch", "write"}

func completeShell(prefix string) []string {
	var out []string
	for _, name := range shellCommands {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}
