package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dayuer/botgate/internal/config"
	"github.com/dayuer/botgate/internal/conversation"
	"github.com/dayuer/botgate/internal/metrics"
	"github.com/dayuer/botgate/internal/permission"
	"github.com/dayuer/botgate/internal/plugin"
	"github.com/dayuer/botgate/internal/plugin/builtin"
	"github.com/dayuer/botgate/internal/redis"
)

// connectRedis returns nil without error when REDIS_URL is unset.
func connectRedis(ctx context.Context, cfg config.Config) (*goredis.Client, error) {
	rc, err := redis.Connect(ctx, redis.Config{URL: cfg.Redis.URL})
	if errors.Is(err, redis.ErrNotConfigured) {
		return nil, nil
	}
	return rc, err
}

// installMetrics installs the SDK meter provider. Counting is never fatal: on
// failure the process runs with a no-op recorder and no provider.
func installMetrics() (*metrics.Provider, metrics.Recorder) {
	mp, err := metrics.Install()
	if err != nil {
		log.Printf("[Metrics] ⚠️ init failed, counters disabled: %v", err)
		return nil, metrics.Noop{}
	}
	return mp, mp.Recorder()
}

// permissions builds the permission cache and the syncer feeding it. The
// syncer is nil when no source is configured; every user is then a plain user.
func permissions(cfg config.Config, rc *goredis.Client) (*permission.Cache, *permission.Syncer, func(), error) {
	cache := permission.NewCache()
	interval := cfg.Permission.SyncInterval

	if cfg.Permission.DB != "" {
		src, err := permission.OpenSQLite(cfg.Permission.DB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open permissions db: %w", err)
		}
		syncer := permission.NewSyncer(src, cache, interval)
		if rc != nil {
			syncer.MirrorTo(redis.NewCache(rc))
		}
		return cache, syncer, func() { src.Close() }, nil
	}
	if rc != nil {
		src := permission.NewRedisSource(redis.NewCache(rc))
		return cache, permission.NewSyncer(src, cache, interval), func() {}, nil
	}
	log.Println("[Permission] ⚠️ No PERMISSIONS_DB or REDIS_URL, everyone is a plain user")
	return cache, nil, func() {}, nil
}

// conversationStore picks Redis when available so state is shared by every
// process; the in-memory store is swept in the background.
func conversationStore(ctx context.Context, cfg config.Config, rc *goredis.Client) conversation.Store {
	if rc != nil {
		return conversation.NewRedisStore(rc, cfg.Plugins.StateTTL)
	}
	mem := conversation.NewMemoryStore(cfg.Plugins.StateTTL)
	go mem.RunSweeper(ctx, cfg.Plugins.StateTTL/2)
	return mem
}

// loadPipeline builds the pipeline from the manifest. A missing manifest
// starts an empty pipeline that a later reload can fill.
func loadPipeline(path string, catalog plugin.Catalog) (*plugin.Pipeline, error) {
	p := plugin.NewPipeline()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Printf("[Plugin] ⚠️ %s not found, pipeline is empty", path)
		return p, nil
	}
	if err := p.Reload(path, catalog); err != nil {
		return nil, err
	}
	return p, nil
}

func pluginCatalog(cache *permission.Cache, machine *conversation.Machine) plugin.Catalog {
	return builtin.Catalog(builtin.Deps{Permissions: cache, Conversation: machine})
}

// handleSignals reloads the manifest on SIGHUP and cancels on SIGINT/SIGTERM.
func handleSignals(cancel context.CancelFunc, pipeline *plugin.Pipeline, path string, catalog plugin.Catalog) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				log.Println("🔄 SIGHUP received — reloading plugins...")
				if err := pipeline.Reload(path, catalog); err != nil {
					log.Printf("⚠️ Reload failed, keeping %v: %v", pipeline.Names(), err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				fmt.Println("\n🛑 Shutting down...")
				signal.Stop(sigCh)
				cancel()
				return
			}
		}
	}()
}
