package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/mdtabs/internal/importer"
	"github.com/agentworkforce/mdtabs/internal/launch"
)

func lsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List open files",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(_ context.Context, a *app) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				active := a.registry.ActiveFileID()
				for _, f := range a.registry.Files() {
					marker := " "
					if f.ID == active {
						marker = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, f.Name, f.ID, time.UnixMilli(f.UpdatedAt).Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}
}

func newCmd(c *cli) *cobra.Command {
	var from string
	var activate bool
	cmd := &cobra.Command{
		Use:   "new [name]",
		Short: "Create a file; the name defaults to its first heading",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := ""
			if from != "" {
				data, err := os.ReadFile(from)
				if err != nil {
					return err
				}
				content = string(data)
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				id, err := a.registry.CreateFile(ctx, name, content)
				if err != nil {
					return err
				}
				if activate {
					if err := a.registry.SwitchFile(ctx, id); err != nil {
						return err
					}
				}
				record, _ := a.registry.Lookup(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", record.Name, id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "read initial content from this file")
	cmd.Flags().BoolVar(&activate, "switch", false, "make the new file active")
	return cmd
}

func rmCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <file>",
		Aliases: []string{"delete"},
		Short:   "Delete a file and its content",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				record, err := a.resolve(args[0])
				if err != nil {
					return err
				}
				return a.registry.DeleteFile(ctx, record.ID)
			})
		},
	}
}

func mvCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "mv <file> <name>",
		Aliases: []string{"rename"},
		Short:   "Rename a file",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(_ context.Context, a *app) error {
				record, err := a.resolve(args[0])
				if err != nil {
					return err
				}
				name, err := a.registry.RenameFile(record.ID, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
				return nil
			})
		},
	}
}

func switchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <file>",
		Short: "Make a file active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				record, err := a.resolve(args[0])
				if err != nil {
					return err
				}
				return a.registry.SwitchFile(ctx, record.ID)
			})
		},
	}
}

func catCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cat [file]",
		Short: "Print a file, the active one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				record, err := a.resolve(ref)
				if err != nil {
					return err
				}
				content, err := a.registry.ContentOf(ctx, record.ID)
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), content)
				return err
			})
		},
	}
}

func writeCmd(c *cli) *cobra.Command {
	var appendText bool
	cmd := &cobra.Command{
		Use:   "write [text...]",
		Short: "Replace the active file's content, reading stdin when no text is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 && c.shared != nil {
				return fmt.Errorf("write needs text inside the shell")
			}
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(data)
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if _, ok := a.registry.ActiveFile(); !ok {
					return fmt.Errorf("no active file")
				}
				content := text
				if appendText {
					current := a.registry.CurrentContent()
					if current != "" && !strings.HasSuffix(current, "\n") {
						current += "\n"
					}
					content = current + text
				}
				a.registry.SetCurrentContent(content)
				return a.registry.Flush(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&appendText, "append", false, "append a line instead of replacing")
	return cmd
}

func importCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>...",
		Short: "Import Markdown files as new tabs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := make([]importer.Input, 0, len(args))
			for _, path := range args {
				in, err := importer.FromPath(path)
				if err != nil {
					return err
				}
				inputs = append(inputs, in)
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				imp := importer.New(importer.Options{Logger: a.logger})
				_, results, err := imp.ImportAsNewTabs(ctx, a.registry, inputs)
				out := cmd.OutOrStdout()
				for _, r := range results {
					if r.Err != nil {
						fmt.Fprintf(out, "failed\t%s\t%v\n", r.Input, r.Err)
						continue
					}
					fmt.Fprintf(out, "imported\t%s\t%s\n", r.Name, r.ID)
				}
				return err
			})
		},
	}
}

func openCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>...",
		Short: "Open files handed over by the desktop, once per session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				consumer := launch.NewConsumer(a.registry, launch.Options{
					Session: launch.NewFileSession(a.cfg.SessionFile),
					Logger:  a.logger,
				})
				result, err := consumer.Consume(ctx, launch.FromPaths(args))
				if err != nil {
					return err
				}
				if result.Duplicate {
					fmt.Fprintln(cmd.OutOrStdout(), "already opened in this session")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "opened %d file(s)\n", len(result.Created))
				return nil
			})
		},
	}
}

func exportCmd(c *cli) *cobra.Command {
	var out, name string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the active file to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(_ context.Context, a *app) error {
				activeName := ""
				if active, ok := a.registry.ActiveFile(); ok {
					activeName = active.Name
				}
				path, err := importer.Export(out, a.registry.CurrentContent(), name, activeName)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", ".", "directory to write into")
	cmd.Flags().StringVar(&name, "name", "", "file name, the active file's name by default")
	return cmd
}

func statusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage and session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(_ context.Context, a *app) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				storageMode := a.cfg.ContentDSN
				if a.storage.Unavailable() {
					storageMode = fmt.Sprintf("memory only (%v)", a.storage.OpenError())
				}
				active := "-"
				if record, ok := a.registry.ActiveFile(); ok {
					active = record.Name
				}
				relay := "-"
				if a.relay != nil {
					relay = a.cfg.RelayURL
				}
				saveError := a.registry.LastSaveError()
				if saveError == "" {
					saveError = "-"
				}
				fmt.Fprintf(w, "storage\t%s\n", storageMode)
				fmt.Fprintf(w, "metadata\t%s\n", a.meta.Path)
				fmt.Fprintf(w, "files\t%d\n", len(a.registry.Files()))
				fmt.Fprintf(w, "active\t%s\n", active)
				fmt.Fprintf(w, "context\t%s\n", a.cfg.ContextID)
				fmt.Fprintf(w, "relay\t%s\n", relay)
				fmt.Fprintf(w, "last save error\t%s\n", saveError)
				return w.Flush()
			})
		},
	}
}
