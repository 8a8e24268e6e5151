package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/getmockd/gqlws/internal/auth"
	"github.com/getmockd/gqlws/internal/chat"
	"github.com/getmockd/gqlws/pkg/broadcast"
	"github.com/getmockd/gqlws/pkg/config"
	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/httputil"
	"github.com/getmockd/gqlws/pkg/logging"
	"github.com/getmockd/gqlws/pkg/metrics"
	"github.com/getmockd/gqlws/pkg/subscription"
)

// server wires the chat service, the WebSocket handler and the HTTP routes.
type server struct {
	cfg  *config.ServerConfig
	log  *slog.Logger
	hub  *broadcast.Hub[chat.Message]
	ws   *subscription.Handler
	http *http.Server
}

func newServer(cfg *config.ServerConfig, logger *slog.Logger) (*server, error) {
	logger = logging.OrNop(logger)

	hub := broadcast.New[chat.Message](broadcast.WithLogger(logger))
	exec, err := chat.New(hub, logger).NewExecutor()
	if err != nil {
		_ = hub.Shutdown(context.Background())
		return nil, err
	}

	opts := []subscription.Option{
		subscription.WithKeepAlive(cfg.KeepAlive.Std()),
		subscription.WithConnectionInitTimeout(cfg.ConnectionInitTimeout.Std()),
		subscription.WithWriteTimeout(cfg.WriteTimeout.Std()),
		subscription.WithReadLimit(cfg.ReadLimit),
		subscription.WithProtocols(cfg.EnabledProtocols()...),
		subscription.WithOriginPatterns(cfg.OriginPatterns...),
		subscription.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
		subscription.WithLogger(logger),
	}
	var queries http.Handler = graphql.NewHTTPHandler(exec, logger)
	if cfg.Auth.Enabled() {
		verifier := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
		opts = append(opts, subscription.WithContextBuilder(verifier.ContextBuilder()))
		queries = verifier.Middleware(queries)
		logger.Info("token authentication enabled", "issuer", cfg.Auth.Issuer)
	}

	s := &server{
		cfg: cfg,
		log: logger,
		hub: hub,
		ws:  subscription.NewHandler(exec, opts...),
	}
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(queries),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *server) routes(queries http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.HandleFunc(s.cfg.WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		if isWebSocketUpgrade(r) {
			s.ws.ServeHTTP(w, r)
			return
		}
		queries.ServeHTTP(w, r)
	})
	r.Get("/healthz", s.handleHealth)
	if s.cfg.MetricsPath != "" {
		if registry := metrics.DefaultRegistry(); registry != nil {
			r.Method(http.MethodGet, s.cfg.MetricsPath, registry.Handler())
		}
	}
	return r
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Operations  int    `json:"operations"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	var err error
	if resp.Connections, err = s.ws.Probe().ConnectionCount(r.Context()); err == nil {
		resp.Operations, err = s.ws.Probe().OperationCount(r.Context())
	}
	if err != nil {
		resp.Status = "unavailable"
		httputil.WriteServiceUnavailable(w, resp)
		return
	}
	httputil.WriteOK(w, resp)
}

// serve accepts connections on l until Shutdown.
func (s *server) serve(l net.Listener) error {
	s.log.Info("server listening",
		"addr", l.Addr().String(),
		"websocketPath", s.cfg.WebSocketPath,
		"protocols", s.cfg.Protocols,
	)
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes WebSocket sessions first, since http.Server.Shutdown does
// not wait for hijacked connections, then stops the HTTP server and the hub.
func (s *server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.ws.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.hub.Shutdown(ctx); err != nil && !errors.Is(err, broadcast.ErrHubClosed) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		headerContainsToken(r.Header.Values("Connection"), "upgrade")
}

func headerContainsToken(values []string, token string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// requestLogger logs every HTTP request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// newLogger builds the console logger and, when cfg.File is set, tees every
// record as JSON into that file. The returned close function closes the file.
func newLogger(cfg config.LogConfig, console io.Writer) (*slog.Logger, func() error, error) {
	level := logging.ParseLevel(cfg.Level)
	handler := logging.NewHandler(logging.Config{
		Level:  level,
		Format: logging.ParseFormat(cfg.Format),
		Output: console,
	})

	if cfg.File == "" {
		return slog.New(handler), func() error { return nil }, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	file := logging.NewHandler(logging.Config{
		Level:  level,
		Format: logging.FormatJSON,
		Output: f,
	})
	return slog.New(logging.NewMultiHandler(handler, file)), f.Close, nil
}
