package banner

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"commsync/pkg/config"
)

const banner = `
 ██████╗ ██████╗ ███╗   ███╗███╗   ███╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██╔═══██╗████╗ ████║████╗ ████║██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ██║   ██║██╔████╔██║██╔████╔██║███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██║   ██║██║╚██╔╝██║██║╚██╔╝██║╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗╚██████╔╝██║ ╚═╝ ██║██║ ╚═╝ ██║███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝ ╚═════╝ ╚═╝     ╚═╝╚═╝     ╚═╝╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print writes the startup banner with the effective config summary.
func Print(cfg *config.Config, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", cfg.Addr())
	fmt.Printf("Feed:      %s\n", cfg.Feed.BaseURL)
	fmt.Printf("Poll:      every %s (burst %d, %.2g rps)\n",
		cfg.Poll.Interval.Duration(), cfg.Poll.Burst, cfg.Poll.RPS)
	fmt.Printf("Max body:  %s\n", humanize.IBytes(uint64(cfg.Feed.MaxResponseBytes.Int64())))
	fmt.Printf("Channels:  %d configured\n", len(cfg.Channels))
	if cfg.Resync.Enabled {
		fmt.Printf("Resync:    %s\n", cfg.Resync.Cron)
	}
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:    %s\n", source)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /v1/channels - List synchronized channels")
	fmt.Println("GET  /v1/channels/{id}/messages?limit=<n> - Ordered message tail")
	fmt.Println("POST /v1/channels/{id}/send - Post free text (JSON: text)")
	fmt.Println("POST /v1/channels/{id}/history - Page one step further back")
	fmt.Println("PUT  /v1/viewport - Update the bounding box (JSON: min_lat...)")
	fmt.Println("GET  /v1/stream - Websocket render events")
	fmt.Println("GET  /v1/status - Per-channel sync status")
	fmt.Println("GET  /metrics - Prometheus metrics")
}
