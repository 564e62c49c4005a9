package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/dayuer/botgate/internal/config"
	"github.com/dayuer/botgate/internal/conversation"
	"github.com/dayuer/botgate/internal/event"
	"github.com/dayuer/botgate/internal/gateway"
	"github.com/dayuer/botgate/internal/hub"
	"github.com/dayuer/botgate/internal/plugin"
	"github.com/dayuer/botgate/internal/queue"
	"github.com/dayuer/botgate/internal/registry"
	"github.com/dayuer/botgate/internal/router"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway (adapters, subscribers, upstream links)",
	RunE:  runGateway,
}

var (
	gatewayPort   int
	gatewayInline bool
	gatewayQueue  bool
)

func init() {
	gatewayCmd.Flags().IntVarP(&gatewayPort, "port", "p", 0, "Listen port (overrides GATEWAY_PORT)")
	gatewayCmd.Flags().BoolVar(&gatewayInline, "inline", true, "Run the plugin pipeline inside the gateway")
	gatewayCmd.Flags().BoolVar(&gatewayQueue, "queue", true, "Append events to the Redis stream when REDIS_URL is set")
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if gatewayPort > 0 {
		cfg.Gateway.Port = gatewayPort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("🤖 botgate gateway starting...")
	fmt.Println("────────────────────────────────────────")

	// 1. Durable store (optional)
	rc, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
	} else {
		fmt.Println("   ⚠️ REDIS_URL not set — queue disabled, conversation state in memory")
	}

	mp, rec := installMetrics()
	if mp != nil {
		defer mp.Shutdown(context.Background())
	}

	// 2. Core: registry, hub, router
	reg := registry.New()
	h := hub.New(hub.Config{Registry: reg, Metrics: rec})
	rt := router.New(router.Config{Registry: reg, Timeout: cfg.Gateway.ActionTimeout, Metrics: rec})

	// 3. Permissions
	perms, syncer, closePerms, err := permissions(cfg, rc)
	if err != nil {
		return err
	}
	defer closePerms()
	if syncer != nil {
		go syncer.Run(ctx)
	}

	// 4. Plugins
	machine := conversation.NewMachine(conversationStore(ctx, cfg, rc))
	catalog := pluginCatalog(perms, machine)
	pipeline, err := loadPipeline(cfg.Plugins.File, catalog)
	if err != nil {
		return fmt.Errorf("loading plugins: %w", err)
	}
	if gatewayInline {
		h.AddSink("plugins", plugin.Sink(pipeline, rt))
		fmt.Printf("   ✅ Inline plugins: %v\n", pipeline.Names())
	}

	// 5. Queue producer
	var stream *queue.RedisStream
	if rc != nil && gatewayQueue {
		stream = queue.NewRedisStream(rc, cfg.Queue.StreamKey, cfg.Queue.MaxLen)
		producer := queue.NewProducer(stream, cfg.Queue.PostTypes, rec)
		h.AddSink("queue", producer.Sink())
		fmt.Printf("   ✅ Queue → %s (post types %v)\n", stream.Key(), cfg.Queue.PostTypes)
	}

	// 6. WebSocket server
	srv := gateway.NewServer(gateway.ServerConfig{
		Host:              cfg.Gateway.Host,
		Port:              cfg.Gateway.Port,
		AccessToken:       cfg.Gateway.AccessToken,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval(),
		HeartbeatMissed:   cfg.Gateway.HeartbeatMissed,
		Registry:          reg,
		Hub:               h,
		Router:            rt,
		Status: func() map[string]any {
			st := map[string]any{
				"plugins":     pipeline.Names(),
				"permissions": perms.Len(),
			}
			if mp != nil {
				if totals, err := mp.Totals(ctx); err == nil {
					st["metrics"] = totals
				}
			}
			if stream != nil {
				if n, err := stream.Len(ctx); err == nil {
					st["stream_len"] = n
				}
			}
			return st
		},
	})

	// 7. Upstream links
	for _, url := range cfg.Upstream.All() {
		link := gateway.NewLink(gateway.LinkConfig{
			URL:               url,
			Platform:          cfg.Upstream.Platform,
			SelfID:            event.ID(cfg.Upstream.SelfID),
			AccessToken:       cfg.Gateway.AccessToken,
			ReconnectDelay:    cfg.Upstream.ReconnectDelay,
			HeartbeatInterval: cfg.Gateway.HeartbeatInterval(),
			HeartbeatMissed:   cfg.Gateway.HeartbeatMissed,
			Registry:          reg,
			Hub:               h,
			Router:            rt,
		})
		go link.Run(ctx)
		fmt.Printf("   ✅ Upstream → %s\n", url)
	}
	fmt.Println("────────────────────────────────────────")

	// 8. Signals, then serve (blocks)
	handleSignals(cancel, pipeline, cfg.Plugins.File, catalog)
	go h.Run(ctx)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Println("[Gateway] 👋 Stopped")
	return nil
}
