package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hazyhaar/canvas/canvas"
	"github.com/hazyhaar/canvas/observability"
)

// Version is the release of the canvas binary.
const Version = "0.4.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "canvas",
		Short: "live A2UI canvas surfaces for agents",
		Long: fmt.Sprintf(`canvas (v%s)

Agents create surfaces and push components and data over MCP; browsers and
TV displays render them live over WebSocket.`, Version),
		SilenceUsage: true,
	}
	cobra.OnInitialize(initConfig)

	defaults := canvas.DefaultConfig()
	f := root.PersistentFlags()
	f.String("config", "", "path to a canvas.yaml config file")
	f.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	f.String("log-format", defaults.LogFormat, "log format (json, text)")
	f.String("persistence-backend", defaults.Persistence.Backend, "surface store (sqlite, bolt, dir, none)")
	f.String("persistence-path", defaults.Persistence.Path, "directory of the surface store")
	f.String("default-size", defaults.DefaultSize, "size preset for surfaces created without one")
	f.String("id-strategy", defaults.IDStrategy, "surface id format (hex, uuidv7, ulid, nanoid)")

	root.AddCommand(newServeCmd(), newSurfacesCmd(), newCallCmd(), newVersionCmd())
	return root
}

// initConfig loads .env files and binds CANVAS_* environment variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("canvas")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig builds the effective config: the --config file if any, then
// every flag or environment variable that was set explicitly.
func loadConfig(cmd *cobra.Command) (*canvas.Config, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	cfg := canvas.DefaultConfig()
	if path := viper.GetString("config"); path != "" {
		loaded, err := canvas.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		cfg = loaded
	}

	setString := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	setString("log-level", &cfg.LogLevel)
	setString("log-format", &cfg.LogFormat)
	setString("persistence-backend", &cfg.Persistence.Backend)
	setString("persistence-path", &cfg.Persistence.Path)
	setString("default-size", &cfg.DefaultSize)
	setString("id-strategy", &cfg.IDStrategy)
	setString("host", &cfg.Host)
	setString("external-host", &cfg.ExternalHost)
	setString("mcp-transport", &cfg.MCP.Transport)
	setString("quic-addr", &cfg.MCP.QUICAddr)
	setString("tls-cert", &cfg.MCP.TLSCert)
	setString("tls-key", &cfg.MCP.TLSKey)
	if viper.IsSet("port") {
		cfg.Port = viper.GetInt("port")
	}
	if viper.IsSet("send-buffer") {
		cfg.Viewer.SendBuffer = viper.GetInt("send-buffer")
	}
	setDuration := func(key string, dst *time.Duration) {
		if viper.IsSet(key) {
			*dst = viper.GetDuration(key)
		}
	}
	setDuration("ping-interval", &cfg.Viewer.PingInterval)
	setDuration("write-timeout", &cfg.Viewer.WriteTimeout)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout may carry MCP stdio frames.
func newLogger(cfg *canvas.Config) (*slog.Logger, error) {
	return observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of canvas",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "canvas v%s\n", Version)
		},
	}
}
