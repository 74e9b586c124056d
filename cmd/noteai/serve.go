package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ljxpython/noteai/bootstrap"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the noteai API server.

The server will:
  - Load configuration from noteai.yaml (or --config)
  - Or load configuration from NOTEAI_* environment variables
  - Connect to the database and quota counter store
  - Serve the AI endpoints with quota enforcement

Environment variables (for Docker deployments):
  NOTEAI_DATABASE_DSN   - SQLite database path (default: noteai.db)
  NOTEAI_REDIS_ADDR     - Redis address for quota counters (optional)
  NOTEAI_AI_PROVIDER    - Model provider: deepseek, openai or simulated
  NOTEAI_AI_API_KEY     - Model provider API key
  NOTEAI_SERVER_PORT    - Server port (default: 8080)
  NOTEAI_LOG_LEVEL      - Log level: debug, info, warn, error

Examples:
  noteai serve
  noteai serve --config /etc/noteai/config.yaml
  noteai serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	var (
		app *bootstrap.App
		err error
	)
	if hasConfigFile && hotReload {
		app, err = bootstrap.NewWithHotReload(cfgFile)
	} else {
		app, err = bootstrap.New(cfgFile)
	}
	if err != nil {
		return err
	}
	return app.Run()
}
