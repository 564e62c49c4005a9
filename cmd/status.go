package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/botgate/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running gateway",
	RunE:  runStatus,
}

var statusURL string

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "Gateway base URL (default from GATEWAY_HOST/GATEWAY_PORT)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	base := statusURL
	if base == "" {
		base = "http://" + localAddr(cfg.Gateway.Host, cfg.Gateway.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return err
	}
	if cfg.Gateway.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Gateway.AccessToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Println("🤖 botgate Status")
	fmt.Println()
	fmt.Printf("Gateway: %s\n", base)
	fmt.Printf("Uptime: %vs\n", status["uptime"])
	fmt.Printf("Adapters: %v\n", status["adapters"])
	fmt.Printf("Subscribers: %v\n", status["subscribers"])
	fmt.Printf("Pending actions: %v\n", status["pending"])
	if plugins, ok := status["plugins"]; ok {
		fmt.Printf("Plugins: %v\n", plugins)
	}
	if n, ok := status["stream_len"]; ok {
		fmt.Printf("Stream length: %v\n", n)
	}

	if totals, ok := status["metrics"].(map[string]any); ok && len(totals) > 0 {
		names := make([]string, 0, len(totals))
		for name := range totals {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("\nCounters:")
		for _, name := range names {
			fmt.Printf("  %s: %v\n", name, totals[name])
		}
	}

	if conns, ok := status["connections"].([]any); ok && len(conns) > 0 {
		fmt.Println("\nConnections:")
		for _, c := range conns {
			info, _ := c.(map[string]any)
			line := fmt.Sprintf("  %v  %v  self_id=%v  platform=%v", info["id"], info["role"], info["self_id"], info["platform"])
			if remote, ok := info["remote"].(string); ok {
				line += "  remote=" + remote
			}
			fmt.Println(line)
		}
	}
	return nil
}

// localAddr turns a wildcard listen host into a dialable one.
func localAddr(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
