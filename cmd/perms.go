package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dayuer/botgate/internal/config"
	"github.com/dayuer/botgate/internal/permission"
	"github.com/dayuer/botgate/internal/redis"
)

var permsCmd = &cobra.Command{
	Use:   "perms",
	Short: "Manage the permission table (PERMISSIONS_DB)",
}

var permsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List users with an explicit level",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPermissionsDB(cmd.Context(), false, func(ctx context.Context, src *permission.SQLSource) error {
			levels, err := src.Load(ctx)
			if err != nil {
				return err
			}
			users := make([]string, 0, len(levels))
			for u := range levels {
				users = append(users, u)
			}
			sort.Strings(users)
			for _, u := range users {
				fmt.Printf("  %-20s %s\n", u, levels[u])
			}
			fmt.Printf("\n%d user(s)\n", len(users))
			return nil
		})
	},
}

var permsSetCmd = &cobra.Command{
	Use:   "set <user_id> <banned|user|admin>",
	Short: "Set a user's level",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPermissionsDB(cmd.Context(), true, func(ctx context.Context, src *permission.SQLSource) error {
			if err := src.Set(ctx, args[0], permission.Level(args[1])); err != nil {
				return err
			}
			fmt.Printf("✅ %s is now %s\n", args[0], args[1])
			return nil
		})
	},
}

var permsRemoveCmd = &cobra.Command{
	Use:   "rm <user_id>",
	Short: "Drop a user's explicit level (back to user)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPermissionsDB(cmd.Context(), true, func(ctx context.Context, src *permission.SQLSource) error {
			if err := src.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("✅ %s removed\n", args[0])
			return nil
		})
	},
}

func init() {
	permsCmd.AddCommand(permsListCmd, permsSetCmd, permsRemoveCmd)
	rootCmd.AddCommand(permsCmd)
}

// withPermissionsDB opens PERMISSIONS_DB and runs fn on it. After a write the
// new table is published to Redis, when configured, so workers see it without
// waiting for the gateway's next sync.
func withPermissionsDB(ctx context.Context, publish bool, fn func(context.Context, *permission.SQLSource) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Permission.DB == "" {
		return errors.New("PERMISSIONS_DB is not set")
	}
	src, err := permission.OpenSQLite(cfg.Permission.DB)
	if err != nil {
		return fmt.Errorf("open permissions db: %w", err)
	}
	defer src.Close()

	if err := fn(ctx, src); err != nil {
		return err
	}
	if !publish {
		return nil
	}
	return publishPermissions(ctx, cfg, src)
}

func publishPermissions(ctx context.Context, cfg config.Config, src permission.Source) error {
	rc, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rc == nil {
		return nil
	}
	defer rc.Close()

	syncer := permission.NewSyncer(src, permission.NewCache(), cfg.Permission.SyncInterval).MirrorTo(redis.NewCache(rc))
	if err := syncer.Sync(ctx); err != nil {
		return fmt.Errorf("publish permissions: %w", err)
	}
	fmt.Println("📡 Snapshot published to Redis")
	return nil
}
