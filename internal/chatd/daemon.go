// Package chatd is the reference conversation daemon. It speaks the
// websocket event contract of the sync client on top of an SQLite store.
package chatd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tOgg1/atelier/internal/channel"
	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/config"
)

const (
	// ServiceName is the gRPC health service name.
	ServiceName = "atelierd"

	defaultRateLimit     = 20
	defaultRateBurst     = 40
	defaultMaxFrameBytes = 64 << 10
	defaultWriteTimeout  = 5 * time.Second
	defaultSendBuffer    = 64
	eventTimeout         = 10 * time.Second
	shutdownTimeout      = 5 * time.Second
)

// Store is the persistence the daemon needs. *store.Store satisfies it.
type Store interface {
	ListConversations(ctx context.Context, viewer string) ([]chat.Conversation, error)
	Participants(ctx context.Context, id string) ([]string, error)
	ListMessages(ctx context.Context, id string) ([]chat.Message, error)
	SendMessage(ctx context.Context, id, sender, text string) (chat.Message, error)
	EditMessage(ctx context.Context, messageID, uid, text string) (chat.Message, error)
	DeleteMessage(ctx context.Context, messageID, uid string) (chat.Message, error)
	DeleteConversation(ctx context.Context, id, viewer string) error
	StartConversation(ctx context.Context, viewer, other string) (chat.Conversation, bool, error)
	MarkRead(ctx context.Context, id, viewer string) error
	Ping(ctx context.Context) error
}

// Options configures a Daemon.
type Options struct {
	HTTPAddr      string
	GRPCAddr      string
	RateLimit     float64
	RateBurst     int
	MaxFrameBytes int64
	WriteTimeout  time.Duration
	SendBuffer    int
	Version       string
}

// OptionsFromConfig maps the daemon config section.
func OptionsFromConfig(cfg config.DaemonConfig) Options {
	return Options{
		HTTPAddr:      cfg.HTTPAddr,
		GRPCAddr:      cfg.GRPCAddr,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.RateLimit <= 0 {
		o.RateLimit = defaultRateLimit
	}
	if o.RateBurst <= 0 {
		o.RateBurst = defaultRateBurst
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = defaultMaxFrameBytes
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	return o
}

// Daemon serves the conversation event contract.
type Daemon struct {
	store   Store
	opts    Options
	logger  zerolog.Logger
	hub     *hub
	metrics *metrics
	health  *health.Server

	upgrader websocket.Upgrader
	handlers map[string]eventHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a daemon over store.
func New(store Store, logger zerolog.Logger, opts Options) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		store:   store,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("component", "chatd").Logger(),
		hub:     newHub(),
		metrics: newMetrics(),
		health:  health.NewServer(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	d.handlers = d.eventHandlers()
	d.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	d.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return d
}

// Handler returns the HTTP routes: /ws, /healthz, /readyz and /metrics.
func (d *Daemon) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", d.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", d.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", d.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(d.metrics.registry, promhttp.HandlerOpts{}))
	return r
}

// Connections returns the number of open websocket connections.
func (d *Daemon) Connections() int {
	return d.hub.size()
}

// Run serves HTTP (and gRPC health when configured) until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", d.opts.HTTPAddr)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 10 * time.Second}

	var grpcSrv *grpc.Server
	var grpcLn net.Listener
	if d.opts.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", d.opts.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return err
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, d.health)
	}

	d.logger.Info().
		Str("http_addr", httpLn.Addr().String()).
		Str("grpc_addr", d.opts.GRPCAddr).
		Str("version", d.opts.Version).
		Msg("atelierd listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcSrv != nil {
		g.Go(func() error {
			return grpcSrv.Serve(grpcLn)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info().Msg("atelierd shutting down")
		d.health.Shutdown()
		d.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return err
	})
	return g.Wait()
}

// Close drops every connection and cancels in-flight event handling.
func (d *Daemon) Close() {
	d.cancel()
	d.hub.closeAll()
}

func (d *Daemon) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Daemon) readyz(w http.ResponseWriter, r *http.Request) {
	if err := d.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": d.opts.Version})
}

func (d *Daemon) serveWS(w http.ResponseWriter, r *http.Request) {
	if d.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	uid := strings.TrimSpace(r.URL.Query().Get("uid"))
	p := &peer{
		uid:     uid,
		ws:      ws,
		send:    make(chan []byte, d.opts.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(d.opts.RateLimit), d.opts.RateBurst),
		logger:  d.logger.With().Str("viewer", uid).Str("remote", r.RemoteAddr).Logger(),
		done:    make(chan struct{}),
	}
	d.hub.add(p)
	d.metrics.connections.Inc()
	p.logger.Debug().Msg("connection opened")
	defer func() {
		d.hub.remove(p)
		p.close()
		d.metrics.connections.Dec()
		p.logger.Debug().Msg("connection closed")
	}()

	go p.writeLoop(d.opts.WriteTimeout)
	d.readLoop(p)
}

func (d *Daemon) readLoop(p *peer) {
	p.ws.SetReadLimit(d.opts.MaxFrameBytes)
	for {
		_, payload, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		var frame channel.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			p.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if frame.IsAck() || frame.Event == "" {
			continue
		}
		d.handle(p, frame)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
