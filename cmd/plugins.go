package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dayuer/botgate/internal/config"
	"github.com/dayuer/botgate/internal/conversation"
	"github.com/dayuer/botgate/internal/permission"
	"github.com/dayuer/botgate/internal/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins [manifest]",
	Short: "Validate a plugin manifest and list the plugins it enables",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlugins,
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

func runPlugins(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(envFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		path = cfg.Plugins.File
	}

	// Factories only need collaborators to exist; nothing is connected.
	machine := conversation.NewMachine(conversation.NewMemoryStore(conversation.DefaultTTL))
	catalog := pluginCatalog(permission.NewCache(), machine)

	m, err := plugin.LoadManifest(path)
	if err != nil {
		return err
	}
	plugins, err := catalog.Build(m)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Printf("📦 %s\n", path)
	fmt.Printf("Available: %v\n\n", catalog.Names())
	for _, e := range m.Plugins {
		mark := "✓"
		if !e.IsEnabled() {
			mark = "✗"
		}
		fmt.Printf("  %s %s\n", mark, e.Name)
	}
	fmt.Printf("\n✅ %d plugin(s) enabled, in order\n", len(plugins))
	return nil
}
