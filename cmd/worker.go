package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/botgate/internal/config"
	"github.com/dayuer/botgate/internal/conversation"
	"github.com/dayuer/botgate/internal/gateway"
	"github.com/dayuer/botgate/internal/plugin"
	"github.com/dayuer/botgate/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume the event stream and run the plugin pipeline",
	RunE:  runWorker,
}

var workerConcurrency int

func init() {
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 0, "Consumers in this process (overrides WORKER_CONCURRENCY)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if workerConcurrency > 0 {
		cfg.Worker.Concurrency = workerConcurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("🤖 botgate worker starting...")
	fmt.Println("────────────────────────────────────────")

	// 1. Redis is required: it holds the stream and the shared state
	rc, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rc == nil {
		return errors.New("worker needs REDIS_URL")
	}
	defer rc.Close()

	mp, rec := installMetrics()
	if mp != nil {
		defer mp.Shutdown(context.Background())
		go mp.LogEvery(ctx, time.Minute)
	}

	// 2. Permissions and plugins
	perms, syncer, closePerms, err := permissions(cfg, rc)
	if err != nil {
		return err
	}
	defer closePerms()
	if syncer != nil {
		go syncer.Run(ctx)
	}

	machine := conversation.NewMachine(conversation.NewRedisStore(rc, cfg.Plugins.StateTTL))
	catalog := pluginCatalog(perms, machine)
	pipeline, err := loadPipeline(cfg.Plugins.File, catalog)
	if err != nil {
		return fmt.Errorf("loading plugins: %w", err)
	}
	fmt.Printf("   ✅ Plugins: %v\n", pipeline.Names())

	// 3. Replies go back through the gateway
	client := gateway.NewClient(gateway.ClientConfig{
		URL:               cfg.Worker.GatewayURL,
		AccessToken:       cfg.Gateway.AccessToken,
		Timeout:           cfg.Gateway.ActionTimeout,
		ReconnectDelay:    cfg.Upstream.ReconnectDelay,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval(),
		HeartbeatMissed:   cfg.Gateway.HeartbeatMissed,
	})
	go client.Run(ctx)
	fmt.Printf("   ✅ Gateway → %s\n", cfg.Worker.GatewayURL)

	// 4. Consumer pool
	stream := queue.NewRedisStream(rc, cfg.Queue.StreamKey, cfg.Queue.MaxLen)
	pool := queue.NewPool(queue.PoolConfig{
		Stream:      stream,
		Group:       cfg.Queue.Group,
		Consumer:    cfg.Queue.Consumer,
		Concurrency: cfg.Worker.Concurrency,
		ClaimIdle:   cfg.Queue.ClaimIdle,
		Handler: func(ctx context.Context, e queue.Entry) error {
			_, err := plugin.Handle(ctx, pipeline, client, e.Event)
			return err
		},
		Metrics: rec,
	})
	fmt.Printf("   ✅ Stream %s, group %s, %d consumer(s) as %s\n",
		stream.Key(), cfg.Queue.Group, cfg.Worker.Concurrency, pool.ConsumerName(0))
	fmt.Println("────────────────────────────────────────")

	handleSignals(cancel, pipeline, cfg.Plugins.File, catalog)

	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Println("[Worker] 👋 Stopped")
	return nil
}
