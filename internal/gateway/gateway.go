// ABOUTME: Gateway orchestrator that wires the store, relay core, and HTTP API
// ABOUTME: Serves one HTTP listener, either plain TCP or an embedded tsnet node

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/parleyhq/parley-gateway/internal/auth"
	"github.com/parleyhq/parley-gateway/internal/config"
	"github.com/parleyhq/parley-gateway/internal/files"
	"github.com/parleyhq/parley-gateway/internal/presence"
	"github.com/parleyhq/parley-gateway/internal/relay"
	"github.com/parleyhq/parley-gateway/internal/room"
	"github.com/parleyhq/parley-gateway/internal/session"
	"github.com/parleyhq/parley-gateway/internal/store"
)

// Gateway orchestrates the parley-gateway server components: the durable
// store, the in-memory relay core, and the HTTP surface fronting both.
type Gateway struct {
	config  *config.Config
	store   store.Store
	storage *files.Storage

	verifier *auth.JWTVerifier
	validate *validator.Validate

	registry *presence.Registry
	rooms    *room.Rooms
	peers    *relay.Peers
	router   *relay.Router
	hub      *relay.Hub
	gate     *session.Gate

	// emitter is the router's room-delivery slice; tests swap in a recorder.
	emitter roomEmitter

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore creates the store from config, honoring the PARLEY_DB_PATH
// override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PARLEY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway with all components wired. The relay core shares
// the process with the HTTP API so expert-channel writes can be routed to
// live room members after they commit.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	storage, err := files.NewStorage(cfg.Files.Dir, cfg.Files.MaxUploadBytes, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initializing file storage: %w", err)
	}

	registry := presence.NewRegistry(logger)
	rooms := room.NewRooms(logger)
	peers := relay.NewPeers(logger)
	router := relay.NewRouter(registry, rooms, peers, logger)

	g := &Gateway{
		config:   cfg,
		store:    s,
		storage:  storage,
		verifier: auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		validate: validator.New(),
		registry: registry,
		rooms:    rooms,
		peers:    peers,
		router:   router,
		hub:      relay.NewHub(registry, rooms, peers, router, logger),
		gate:     session.NewGate(s, logger),
		emitter:  router,
		logger:   logger.With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// routes builds the HTTP mux: the websocket endpoint, the public login and
// health endpoints, and the bearer-authenticated API. Expert-only routes
// stack the role check on top of the auth middleware.
func (g *Gateway) routes(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/ws", relay.NewHandler(g.hub, g.config.Relay.AllowedOrigins, logger))
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/auth/login", g.handleLogin)

	authed := auth.Middleware(g.store, g.verifier)
	expert := auth.RequireExpert()

	mux.Handle("/api/me", authed(http.HandlerFunc(g.handleMe)))
	mux.Handle("/api/messages", authed(http.HandlerFunc(g.handleMessages)))
	mux.Handle("/api/messages/", authed(http.HandlerFunc(g.handleMessageByID)))
	mux.Handle("/api/expert-messages", authed(expert(http.HandlerFunc(g.handleExpertMessages))))
	mux.Handle("/api/expert-messages/", authed(expert(http.HandlerFunc(g.handleExpertMessageByID))))
	mux.Handle("/api/rooms", authed(expert(http.HandlerFunc(g.handleRoomLookup))))
	mux.Handle("/api/sessions", authed(expert(http.HandlerFunc(g.handleSessions))))
	mux.Handle("/api/sessions/", authed(expert(http.HandlerFunc(g.handleSessionByID))))
	mux.Handle("/api/files", authed(http.HandlerFunc(g.handleFiles)))
	mux.Handle("/api/files/", authed(http.HandlerFunc(g.handleFileByID)))

	return mux
}

// Run starts the gateway and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// setupListener creates the listener based on configuration (Tailscale
// or plain TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using the default
// if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "parley-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener starts the embedded tsnet node and listens on it,
// with TLS when cert and key files are configured.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname,
		"state_dir", stateDir,
		"ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.CertFile != "" && tsCfg.KeyFile != "" {
		return g.tailscaleTLSListener(tsCfg.CertFile, tsCfg.KeyFile)
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// tailscaleTLSListener serves HTTPS on :443 with certs provisioned via
// `tailscale cert <hostname>`.
func (g *Gateway) tailscaleTLSListener(certFile, keyFile string) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}

	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}

	g.logger.Info("enabling HTTPS on :443", "cert_file", certFile)
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the gateway. Live websocket connections go first: they are
// hijacked, so http.Server.Shutdown would not wait for or close them. Then
// the HTTP server drains, and the store closes last.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.peers.CloseAll()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
