// Package ipc serves widgets to browser views over HTTP and websockets and
// mirrors their traffic onto the message bus.
package ipc

import (
	"context"
	"encoding/json"
	stdliberrors "errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/odvcencio/vegabridge/pkg/logging"
	"github.com/odvcencio/vegabridge/pkg/telemetry"
	"github.com/odvcencio/vegabridge/pkg/widget"
)

// Config controls the server behavior.
type Config struct {
	BindAddress    string
	AllowedOrigins []string
	MaxClients     int
	PublicMetrics  bool

	// UpdateRate and UpdateBurst bound update requests per second across the
	// server. A zero rate disables the limit.
	UpdateRate  float64
	UpdateBurst int

	// HistogramChunkCells is used when a histogram request has no chunk_cells.
	HistogramChunkCells int
	ClientBuffer        int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithGatherer sets the metrics source served on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// Server hosts the widget API and the view websocket endpoint.
type Server struct {
	cfg        Config
	hub        *Hub
	registry   *Registry
	origins    originPolicy
	views      *connLimiter
	limiter    *rate.Limiter
	gatherer   prometheus.Gatherer
	logger     *logging.Logger
	httpServer *http.Server
}

// NewServer constructs a server for the widgets in registry.
func NewServer(cfg Config, hub *Hub, registry *Registry, opts ...ServerOption) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1:8765"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = defaultMaxViewClients
	}
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		registry: registry,
		origins:  originPolicy{allowed: cfg.AllowedOrigins},
		views:    newConnLimiter(cfg.MaxClients),
		gatherer: prometheus.DefaultGatherer,
	}
	if cfg.UpdateRate > 0 {
		burst := cfg.UpdateBurst
		if burst <= 0 {
			burst = int(cfg.UpdateRate)
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.UpdateRate), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(securityHeaders)
	router.Use(s.origins.cors)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", s.handleMetrics)

	router.Route("/api/widgets", func(r chi.Router) {
		r.Get("/", s.handleListWidgets)
		r.Post("/", s.handleCreateWidget)
		r.Route("/{widgetID}", func(r chi.Router) {
			r.Get("/", s.handleGetWidget)
			r.Delete("/", s.handleDeleteWidget)
			r.Put("/spec", s.handleSetSpec)
			r.Put("/opt", s.handleSetOpt)
			r.Group(func(r chi.Router) {
				r.Use(s.limitUpdates)
				r.Post("/updates", s.handleUpdate)
				r.Post("/dataframe", s.handleDataFrame)
				r.Post("/histogram2d", s.handleHistogram2D)
			})
		})
	})

	router.Get("/ws/widgets/{widgetID}", s.handleWidgetSocket)
	return router
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info(logging.CategoryServer, "listening", "serving widgets", map[string]any{"bind": s.cfg.BindAddress})
		if err := s.httpServer.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) limitUpdates(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			httpError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status":  "ok",
		"widgets": s.registry.Len(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.PublicMetrics && !isLoopbackRemote(r.RemoteAddr) {
		httpError(w, "forbidden", http.StatusForbidden)
		return
	}
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

type widgetSummary struct {
	ID      string `json:"id"`
	Live    bool   `json:"live"`
	Pending int    `json:"pending"`
	Clients int    `json:"clients"`
}

type widgetDetail struct {
	ID      string                `json:"id"`
	Spec    json.RawMessage       `json:"spec"`
	Opt     json.RawMessage       `json:"opt"`
	Live    bool                  `json:"live"`
	Pending []widget.UpdateRecord `json:"pending"`
	Clients int                   `json:"clients"`
}

type createWidgetRequest struct {
	Spec json.RawMessage `json:"spec"`
	Opt  json.RawMessage `json:"opt"`
}

type updateRequest struct {
	Key    string          `json:"key"`
	Remove string          `json:"remove,omitempty"`
	Insert json.RawMessage `json:"insert,omitempty"`
}

type dataFrameRequest struct {
	Columns []string    `json:"columns"`
	Rows    [][]float32 `json:"rows"`
	Remove  string      `json:"remove,omitempty"`
}

type histogramRequest struct {
	Columns    []string    `json:"columns"`
	Values     [][]float32 `json:"values"`
	Remove     string      `json:"remove,omitempty"`
	ChunkCells *int        `json:"chunk_cells,omitempty"`
}

type updateAccepted struct {
	Live    bool `json:"live"`
	Pending int  `json:"pending"`
}

func (s *Server) clients(id string) int {
	if ep, ok := s.hub.Lookup(id); ok {
		return ep.Clients()
	}
	return 0
}

func (s *Server) handleListWidgets(w http.ResponseWriter, r *http.Request) {
	widgets := s.registry.List()
	out := make([]widgetSummary, 0, len(widgets))
	for _, wg := range widgets {
		out = append(out, widgetSummary{
			ID:      wg.ID(),
			Live:    wg.Live(),
			Pending: len(wg.PendingUpdates()),
			Clients: s.clients(wg.ID()),
		})
	}
	respondJSON(w, map[string]any{"widgets": out})
}

func (s *Server) handleCreateWidget(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "widget.create")
	defer span.End()

	var req createWidgetRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesDocument, false); err != nil {
		s.fail(ctx, w, status, err)
		return
	}
	wg, err := s.registry.Create(req.Spec, req.Opt)
	if err != nil {
		s.fail(ctx, w, statusForError(err), err)
		return
	}
	span.SetAttributes(telemetry.AttrWidgetID.String(wg.ID()))
	respondStatus(w, http.StatusCreated, map[string]string{"id": wg.ID()})
}

func (s *Server) handleGetWidget(w http.ResponseWriter, r *http.Request) {
	wg, err := s.registry.Get(chi.URLParam(r, "widgetID"))
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	pending := wg.PendingUpdates()
	if pending == nil {
		pending = []widget.UpdateRecord{}
	}
	respondJSON(w, widgetDetail{
		ID:      wg.ID(),
		Spec:    json.RawMessage(wg.SpecSource()),
		Opt:     json.RawMessage(wg.OptSource()),
		Live:    wg.Live(),
		Pending: pending,
		Clients: s.clients(wg.ID()),
	})
}

func (s *Server) handleDeleteWidget(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.widgetSpan(r, "widget.delete")
	defer span.End()

	if err := s.registry.Delete(chi.URLParam(r, "widgetID")); err != nil {
		s.fail(ctx, w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetSpec(w http.ResponseWriter, r *http.Request) {
	s.handleSetDocument(w, r, "widget.set_spec", s.registry.SetSpec)
}

func (s *Server) handleSetOpt(w http.ResponseWriter, r *http.Request) {
	s.handleSetDocument(w, r, "widget.set_opt", s.registry.SetOpt)
}

func (s *Server) handleSetDocument(w http.ResponseWriter, r *http.Request, spanName string, set func(id string, doc any) error) {
	ctx, span := s.widgetSpan(r, spanName)
	defer span.End()

	var doc json.RawMessage
	if status, err := decodeJSONBody(w, r, &doc, maxBodyBytesDocument, false); err != nil {
		s.fail(ctx, w, status, err)
		return
	}
	if err := set(chi.URLParam(r, "widgetID"), doc); err != nil {
		s.fail(ctx, w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.widgetSpan(r, "widget.update")
	defer span.End()

	wg, err := s.registry.Get(chi.URLParam(r, "widgetID"))
	if err != nil {
		s.fail(ctx, w, statusForError(err), err)
		return
	}
	var req updateRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesUpdate, false); err != nil {
		s.fail(ctx, w, status, err)
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		s.fail(ctx, w, http.StatusBadRequest, stdliberrors.New("key required"))
		return
	}

	var opts []widget.UpdateOption
	if req.Remove != "" {
		opts = append(opts, widget.WithRemove(req.Remove))
	}
	if len(req.Insert) > 0 && string(req.Insert) != "null" {
		var rows []widget.Row
		if err := json.Unmarshal(req.Insert, &rows); err != nil {
			s.fail(ctx, w, http.StatusBadRequest, stdliberrors.New("insert must be an array of objects"))
			return
		}
		opts = append(opts, widget.WithInsert(rows...))
		span.SetAttributes(telemetry.AttrRows.Int(len(rows)))
	}
	span.SetAttributes(telemetry.AttrUpdateKey.String(req.Key))

	wg.Update(req.Key, opts...)
	s.accepted(w, wg)
}

func (s *Server) handleDataFrame(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.widgetSpan(r, "widget.dataframe")
	defer span.End()

	wg, err := s.registry.Get(chi.URLParam(r, "widgetID"))
	if err != nil {
		s.fail(ctx, w, statusForError(err), err)
		return
	}
	var req dataFrameRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesFrame, false); err != nil {
		s.fail(ctx, w, status, err)
		return
	}
	span.SetAttributes(telemetry.AttrRows.Int(len(req.Rows)))
	if err := wg.UpdateDataFrame(widget.Table{Columns: req.Columns, Rows: req.Rows}, req.Remove); err != nil {
		s.fail(ctx, w, statusForError(err), err)
		return
	}
	s.accepted(w, wg)
}

func (s *Server) handleHistogram2D(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.widgetSpan(r, "widget.histogram2d")
	defer span.End()

	wg, err := s.registry.Get(chi.URLParam(r, "widgetID"))
	if err != nil {
		s.fail(ctx, w, statusForError(err), err)
		return
	}
	var req histogramRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesFrame, false); err != nil {
		s.fail(ctx, w, status, err)
		return
	}
	m, err := matrixFromRows(req.Values)
	if err != nil {
		s.fail(ctx, w, http.StatusBadRequest, err)
		return
	}
	chunkCells := s.cfg.HistogramChunkCells
	if req.ChunkCells != nil {
		chunkCells = *req.ChunkCells
	}
	span.SetAttributes(telemetry.AttrRows.Int(m.Rows))
	if err := wg.UpdateHistogram2D(m, req.Columns, req.Remove, chunkCells); err != nil {
		s.fail(ctx, w, statusForError(err), err)
		return
	}
	s.accepted(w, wg)
}

func (s *Server) handleWidgetSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "widgetID")
	if _, err := s.registry.Get(id); err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	if !s.origins.allowsWebSocket(r) {
		httpError(w, "forbidden", http.StatusForbidden)
		return
	}
	if !s.views.Acquire() {
		httpError(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer s.views.Release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn(logging.CategoryTransport, "accept_failed", "websocket accept failed", map[string]any{"error": err.Error()})
		return
	}
	conn.SetReadLimit(maxWSReadBytesView)

	ep := s.hub.Endpoint(id)
	c := ep.register(conn, s.cfg.ClientBuffer)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	keepAlive(ctx, conn, wsPingInterval, func(error) { cancel() })

	s.logger.Log(logging.Event{
		Level:     logging.LevelInfo,
		Category:  logging.CategoryTransport,
		EventType: "view_attached",
		WidgetID:  id,
		Message:   "view attached",
	})

	go func() {
		defer cancel()
		_ = c.readLoop(ctx, ep)
	}()
	go func() {
		defer cancel()
		if err := c.writeLoop(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn(logging.CategoryTransport, "write_failed", "websocket write failed", map[string]any{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	ep.removeClient(c, false)
	c.close(websocket.StatusNormalClosure, "closing")

	s.logger.Log(logging.Event{
		Level:     logging.LevelInfo,
		Category:  logging.CategoryTransport,
		EventType: "view_detached",
		WidgetID:  id,
		Message:   "view detached",
	})
}

func (s *Server) accepted(w http.ResponseWriter, wg *widget.Widget) {
	respondStatus(w, http.StatusAccepted, updateAccepted{
		Live:    wg.Live(),
		Pending: len(wg.PendingUpdates()),
	})
}

func (s *Server) widgetSpan(r *http.Request, name string) (context.Context, trace.Span) {
	return telemetry.StartSpan(r.Context(), name,
		trace.WithAttributes(telemetry.AttrWidgetID.String(chi.URLParam(r, "widgetID"))))
}

// fail records err on the request span and writes the error response.
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, status int, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if status >= http.StatusInternalServerError {
		s.logger.Error(logging.CategoryServer, "request_failed", err.Error(), nil)
	}
	respondError(w, status, err)
}

func matrixFromRows(values [][]float32) (widget.Matrix, error) {
	m := widget.Matrix{Rows: len(values)}
	if m.Rows == 0 {
		return m, nil
	}
	m.Cols = len(values[0])
	m.Data = make([]float32, 0, m.Rows*m.Cols)
	for _, row := range values {
		if len(row) != m.Cols {
			return widget.Matrix{}, stdliberrors.New("values must be a rectangular grid")
		}
		m.Data = append(m.Data, row...)
	}
	return m, nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
