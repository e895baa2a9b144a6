package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classlab/realtime/internal/directory"
	"github.com/classlab/realtime/internal/hub"
	"github.com/classlab/realtime/internal/metrics"
	"github.com/classlab/realtime/internal/server/middleware"
	"github.com/classlab/realtime/internal/session"
	"github.com/classlab/realtime/pkg/config"
	"github.com/classlab/realtime/pkg/transport"
)

type trackedConn struct {
	transport *transport.Connection
	ip        string
}

type App struct {
	logger   *slog.Logger
	rooms    *hub.Rooms
	presence *hub.Presence
	router   *hub.Router
	auth     *directory.Authenticator
	store    directory.Store
	metrics  *metrics.Metrics
	monitor  *Monitor

	wg     sync.WaitGroup
	http   *http.Server
	config *config.Config
	ctx    context.Context

	connMu sync.Mutex
	conns  map[uuid.UUID]trackedConn
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, store directory.Store) *App {
	m := metrics.New()
	rooms := hub.NewRooms(logger)
	presence := hub.NewPresence(logger)

	app := &App{
		logger:   logger,
		rooms:    rooms,
		presence: presence,
		router:   hub.NewRouter(logger, m),
		auth:     directory.NewAuthenticator(logger, cfg.Server.Auth.JWTSecret, store),
		store:    store,
		metrics:  m,
		config:   cfg,
		ctx:      rootCtx,
		conns:    make(map[uuid.UUID]trackedConn),
	}

	m.RegisterGaugeFunc("realtime_active_rooms", "Whiteboard rooms with at least one member.", func() float64 {
		r, _ := rooms.Stats()
		return float64(r)
	})
	m.RegisterGaugeFunc("realtime_room_participants", "Connections seated in whiteboard rooms.", func() float64 {
		_, members := rooms.Stats()
		return float64(members)
	})
	m.RegisterGaugeFunc("realtime_online_users", "Users with at least one live chat connection.", func() float64 {
		users, _ := presence.Stats()
		return float64(users)
	})

	app.monitor = NewMonitor(logger, clock.New(), cfg.Liveness.Interval, cfg.Liveness.ProbeTimeout, app.livenessTargets)

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewIPConnectionLimiter(logger, app.connCountForIP, cfg.Server.RateLimit),
		),
	)
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go a.monitor.Run(a.ctx)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: a.config.Transport.ReadTimeout},
		nil,
		nil,
		a.logger,
	)

	sess := session.New(a.logger, conn, session.Deps{
		Auth:     a.auth,
		Store:    a.store,
		Rooms:    a.rooms,
		Presence: a.presence,
		Router:   a.router,
	})

	conn.SetOnMessageHandler(func(ctx context.Context, _ uuid.UUID, msg []byte) {
		sess.HandleMessage(ctx, msg)
	})
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		sess.HandleClose(a.ctx)
		a.untrack(id)
	})

	a.track(conn, reqMeta.IP)
	connLogger.Info("Connection established, awaiting JOIN")
	conn.Run()
	<-conn.Done()
}

func (a *App) track(conn *transport.Connection, ip string) {
	a.connMu.Lock()
	a.conns[conn.ID()] = trackedConn{transport: conn, ip: ip}
	a.connMu.Unlock()
	a.metrics.ActiveConnections.Inc()
}

func (a *App) untrack(id uuid.UUID) {
	a.connMu.Lock()
	_, ok := a.conns[id]
	delete(a.conns, id)
	a.connMu.Unlock()
	if ok {
		a.metrics.ActiveConnections.Dec()
	}
}

func (a *App) connCountForIP(ip string) int {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	count := 0
	for _, tc := range a.conns {
		if tc.ip == ip {
			count++
		}
	}
	return count
}

func (a *App) livenessTargets() []Pinger {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	targets := make([]Pinger, 0, len(a.conns))
	for _, tc := range a.conns {
		targets = append(targets, tc.transport)
	}
	return targets
}

// Shutdown performs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	a.connMu.Lock()
	open := make([]*transport.Connection, 0, len(a.conns))
	for _, tc := range a.conns {
		open = append(open, tc.transport)
	}
	a.connMu.Unlock()
	for _, conn := range open {
		conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
