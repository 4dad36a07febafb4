// Command nanoweb runs a small file manager on the nanoweb engine: a status
// page, a JSON file API behind basic auth and a WebSocket echo endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nanoweb",
		Short: "A tiny HTTP/1.x file manager",
		Long: `nanoweb serves a file manager over a minimal HTTP/1.x engine.

Endpoints:
  /                       status page
  /ping                   liveness check
  /images/<name>          static images
  /api/ls                 list stored files
  /api/download/<name>    download a file
  /api/upload/<name>      PUT a file
  /api/delete/<name>      DELETE a file
  /api/rename             POST {"from": "...", "to": "..."}
  /api/status             server status as JSON
  /ws                     WebSocket echo`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
