package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getmockd/gqlws/pkg/config"
	"github.com/getmockd/gqlws/pkg/metrics"
)

// serveFlags holds the flags of the serve command. Flags that were set
// explicitly override the configuration file.
type serveFlags struct {
	configFile string
	listen     string
	path       string
	metrics    string
	protocols  []string
	origins    []string
	keepAlive  string
	initWait   string
	logLevel   string
	logFormat  string
	logFile    string
	jwtSecret  string
	jwtIssuer  string
}

// jwtSecretEnv supplies the token secret when neither the flag nor the
// configuration file sets one.
const jwtSecretEnv = "GQLWS_JWT_SECRET"

var serveOpts serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the GraphQL WebSocket server",
	Long: `Start the GraphQL WebSocket server with the demo chat schema.

Queries and mutations are served over HTTP on the WebSocket path; subscriptions
over WebSocket using graphql-transport-ws or graphql-ws.`,
	Example: `  gqlws serve
  gqlws serve --config gqlws.yaml
  gqlws serve --listen :8080 --keep-alive 30s --protocol graphql-transport-ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServeConfig(cmd, &serveOpts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, cmd.ErrOrStderr())
	},
}

func init() {
	bindServeFlags(serveCmd, &serveOpts)
	rootCmd.AddCommand(serveCmd)
}

func bindServeFlags(cmd *cobra.Command, opts *serveFlags) {
	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML or JSON configuration file")
	f.StringVarP(&opts.listen, "listen", "l", config.DefaultListen, "Address to listen on")
	f.StringVar(&opts.path, "path", config.DefaultWebSocketPath, "GraphQL endpoint path")
	f.StringVar(&opts.metrics, "metrics-path", config.DefaultMetricsPath, "Prometheus metrics path (empty disables)")
	f.StringSliceVar(&opts.protocols, "protocol", nil, "Enabled sub-protocols in preference order (repeatable)")
	f.StringSliceVar(&opts.origins, "origin", nil, "Allowed cross-origin host patterns (repeatable)")
	f.StringVar(&opts.keepAlive, "keep-alive", config.DefaultKeepAlive.String(), "Keep-alive interval (0 disables)")
	f.StringVar(&opts.initWait, "init-timeout", config.DefaultConnectionInitTimeout.String(), "connection_init timeout (0 disables)")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")
	f.StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")
	f.StringVar(&opts.jwtSecret, "jwt-secret", "", "Require HS256 tokens signed with this secret (or set "+jwtSecretEnv+")")
	f.StringVar(&opts.jwtIssuer, "jwt-issuer", "", "Required iss claim of tokens")
}

// loadServeConfig reads the configuration file, if any, and applies the
// flags that were set on the command line.
func loadServeConfig(cmd *cobra.Command, opts *serveFlags) (*config.ServerConfig, error) {
	cfg := config.Default()
	if opts.configFile != "" {
		loaded, err := config.LoadFromFile(opts.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = opts.listen
	}
	if flags.Changed("path") {
		cfg.WebSocketPath = opts.path
	}
	if flags.Changed("metrics-path") {
		cfg.MetricsPath = opts.metrics
	}
	if flags.Changed("protocol") {
		cfg.Protocols = opts.protocols
	}
	if flags.Changed("origin") {
		cfg.OriginPatterns = opts.origins
	}
	if flags.Changed("keep-alive") {
		if err := cfg.KeepAlive.UnmarshalText([]byte(opts.keepAlive)); err != nil {
			return nil, fmt.Errorf("--keep-alive: %w", err)
		}
	}
	if flags.Changed("init-timeout") {
		if err := cfg.ConnectionInitTimeout.UnmarshalText([]byte(opts.initWait)); err != nil {
			return nil, fmt.Errorf("--init-timeout: %w", err)
		}
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}
	if flags.Changed("jwt-secret") {
		cfg.Auth.JWTSecret = opts.jwtSecret
	} else if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = os.Getenv(jwtSecretEnv)
	}
	if flags.Changed("jwt-issuer") {
		cfg.Auth.Issuer = opts.jwtIssuer
	}

	if result := cfg.Validate(); !result.IsValid() {
		return nil, fmt.Errorf("invalid configuration:\n%w", result)
	}
	return cfg, nil
}

// runServer serves until ctx is done and then shuts down gracefully.
func runServer(ctx context.Context, cfg *config.ServerConfig, console io.Writer) error {
	logger, closeLog, err := newLogger(cfg.Log, console)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	metrics.Init()

	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.serve(l) }()

	select {
	case err := <-errCh:
		_ = srv.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	timeout := cfg.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return <-errCh
}
