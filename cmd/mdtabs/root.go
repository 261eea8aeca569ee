package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "mdtabs",
		Short:         "Manage a set of Markdown documents as tabs",
		Long:          "mdtabs keeps Markdown documents as tabs with debounced saving, durable local storage and sync between processes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (JSONC)")
	flags.StringVar(&c.overrides.DataDir, "data-dir", "", "data directory")
	flags.StringVar(&c.overrides.ContentDSN, "content-dsn", "", "content storage DSN (sqlite://, file://, postgres://, memory://)")
	flags.StringVar(&c.overrides.MetadataFile, "metadata-file", "", "shared file list location")
	flags.StringVar(&c.overrides.LogLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	flags.StringVar(&c.overrides.LogFormat, "log-format", "", "text or json")
	flags.StringVar(&c.overrides.LogFile, "log-file", "", "append logs to this file")
	flags.StringVar(&c.overrides.RelayURL, "relay-url", "", "relay hub to publish and receive changes through")
	flags.StringVar(&c.overrides.ContextID, "context-id", "", "identifier stamped on metadata written by this process")
	flags.DurationVar(&c.saveDelay, "save-delay", 0, "debounce delay for saves")

	addDocumentCommands(root, c)
	root.AddCommand(
		statusCmd(c),
		watchCmd(c),
		relayCmd(c),
		shellCmd(c),
	)
	return root
}

// addDocumentCommands registers the commands that are also available inside
// the shell.
func addDocumentCommands(root *cobra.Command, c *cli) {
	root.AddCommand(
		lsCmd(c),
		newCmd(c),
		rmCmd(c),
		mvCmd(c),
		switchCmd(c),
		catCmd(c),
		writeCmd(c),
		importCmd(c),
		openCmd(c),
		exportCmd(c),
	)
}
