package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/placeshare/internal/domain"
	"github.com/splax/placeshare/internal/service/auth"
	"github.com/splax/placeshare/internal/service/place"
	"github.com/splax/placeshare/internal/service/user"
	"github.com/splax/placeshare/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitRealtime  = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
	uploadsPrefix      = "/uploads/images/"
	maxJSONBodyBytes   = 64 << 10
)

// Options carries the transport settings of the router.
type Options struct {
	BasePath          string
	CORSAllowedOrigin string
	UploadMaxBytes    int64
	// Registry receives the HTTP collectors; nil uses the default registry.
	Registry *prometheus.Registry
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	handler  http.Handler
	logger   *slog.Logger
	opts     Options
	auth     auth.Service
	users    user.Service
	places   place.Service
	media    MediaStore
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	metrics  routerMetrics
	gatherer prometheus.Gatherer
	dbHealth func(context.Context) error
}

// NewRouter assembles routes with dependencies. hub and dbHealth may be nil.
func NewRouter(logger *slog.Logger, opts Options, authSvc auth.Service, userSvc user.Service, placeSvc place.Service, media MediaStore, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	opts.BasePath = "/" + strings.Trim(opts.BasePath, "/")
	if opts.BasePath == "/" {
		opts.BasePath = ""
	}
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if opts.Registry != nil {
		reg, gatherer = opts.Registry, opts.Registry
	}
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		opts:   opts,
		auth:   authSvc,
		users:  userSvc,
		places: placeSvc,
		media:  media,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		metrics:  newRouterMetrics(reg),
		gatherer: gatherer,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	r.handler = withCORS(opts.CORSAllowedOrigin, r.mux)
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	base := r.opts.BasePath
	r.mux.HandleFunc("GET /healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("GET /metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.mux.HandleFunc("GET "+uploadsPrefix, r.audit("uploads", r.handleUploads()))

	r.mux.HandleFunc("GET "+base+"/places/user/{uid}", r.audit("places.by_user", r.handlePlacesByUser))
	r.mux.HandleFunc("GET "+base+"/places/{pid}", r.audit("places.get", r.handleGetPlace))
	r.mux.HandleFunc("POST "+base+"/places", r.audit("places.create", r.handlerAuthRate("places.write", rateLimitUserWrite, rateWindowDefault, r.handleCreatePlace)))
	r.mux.HandleFunc("PATCH "+base+"/places/{pid}", r.audit("places.update", r.handlerAuthRate("places.write", rateLimitUserWrite, rateWindowDefault, r.handleUpdatePlace)))
	r.mux.HandleFunc("DELETE "+base+"/places/{pid}", r.audit("places.delete", r.handlerAuthRate("places.write", rateLimitUserWrite, rateWindowDefault, r.handleDeletePlace)))

	r.mux.HandleFunc("GET "+base+"/users", r.audit("users.list", r.handleListUsers))
	r.mux.HandleFunc("POST "+base+"/users/signup", r.audit("users.signup", r.withRateLimit("users.signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("POST "+base+"/users/login", r.audit("users.login", r.withRateLimit("users.login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))

	r.mux.HandleFunc("GET "+base+"/ws/places", r.audit("feed.ws", r.withRateLimit("feed", rateLimitRealtime, rateWindowRealtime, rateLimitKeyIP, r.handlePlacesWS)))
	r.mux.HandleFunc("GET "+base+"/events/places", r.audit("feed.sse", r.withRateLimit("feed", rateLimitRealtime, rateWindowRealtime, rateLimitKeyIP, r.handlePlacesSSE)))

	r.mux.HandleFunc("/", r.audit("not_found", r.handleNotFound))
}

func (r *Router) handlePlacesByUser(w http.ResponseWriter, req *http.Request) {
	places, err := r.places.ListByUser(req.Context(), domain.UserID(req.PathValue("uid")))
	if err != nil {
		writeAppError(w, r.logger, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"places": newPlaceViews(places)})
}

func (r *Router) handleGetPlace(w http.ResponseWriter, req *http.Request) {
	p, err := r.places.Get(req.Context(), domain.PlaceID(req.PathValue("pid")))
	if err != nil {
		writeAppError(w, r.logger, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"place": newPlaceView(*p)})
}

func (r *Router) handleCreatePlace(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for place creation", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, genericFailure)
		return
	}
	ref, err := r.receiveImage(w, req)
	if err != nil {
		r.failUpload(w, req, ref, err)
		return
	}
	created, err := r.places.Create(req.Context(), place.CreateInput{
		Title:       req.FormValue("title"),
		Description: req.FormValue("description"),
		Address:     req.FormValue("address"),
		Image:       ref,
		Creator:     info.UserID,
	})
	if err != nil {
		r.failUpload(w, req, ref, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"place": newPlaceView(*created)})
}

func (r *Router) handleUpdatePlace(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for place update", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, genericFailure)
		return
	}
	var payload struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	updated, err := r.places.Update(req.Context(), domain.PlaceID(req.PathValue("pid")), info.UserID, domain.PlacePatch{
		Title:       payload.Title,
		Description: payload.Description,
	})
	if err != nil {
		writeAppError(w, r.logger, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"place": newPlaceView(*updated)})
}

func (r *Router) handleDeletePlace(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for place deletion", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, genericFailure)
		return
	}
	if err := r.places.Delete(req.Context(), domain.PlaceID(req.PathValue("pid")), info.UserID); err != nil {
		writeAppError(w, r.logger, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted place."})
}

func (r *Router) handleListUsers(w http.ResponseWriter, req *http.Request) {
	users, err := r.users.List(req.Context())
	if err != nil {
		writeAppError(w, r.logger, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": newUserViews(users)})
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	ref, err := r.receiveImage(w, req)
	if err != nil {
		r.failUpload(w, req, ref, err)
		return
	}
	_, session, err := r.auth.Signup(req.Context(), auth.SignupInput{
		Name:     req.FormValue("name"),
		Email:    req.FormValue("email"),
		Password: req.FormValue("password"),
		Image:    ref,
	})
	if err != nil {
		r.failUpload(w, req, ref, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(session))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	session, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeAppError(w, r.logger, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(session))
}

// decodeJSON reads a size-capped JSON body into v and writes the error response on failure.
func decodeJSON(w http.ResponseWriter, req *http.Request, v any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
			return false
		}
		writeError(w, http.StatusUnprocessableEntity, "Invalid inputs passed, please check your data.")
		return false
	}
	return true
}

func newSessionView(s auth.Session) sessionView {
	return sessionView{UserID: string(s.UserID), Email: s.Email, Token: s.Token}
}

func (r *Router) feedSubject(w http.ResponseWriter, req *http.Request) (domain.UserID, bool) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Live feed unavailable.")
		return "", false
	}
	userID := strings.TrimSpace(req.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return "", false
	}
	return domain.UserID(userID), true
}

func (r *Router) handlePlacesWS(w http.ResponseWriter, req *http.Request) {
	userID, ok := r.feedSubject(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(userID, client)
	go func() {
		defer func() {
			r.hub.Unregister(userID, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handlePlacesSSE(w http.ResponseWriter, req *http.Request) {
	userID, ok := r.feedSubject(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported.")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(userID, client)
	defer r.hub.Unregister(userID, client)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// handleUploads serves stored images. Directory listings are not exposed.
func (r *Router) handleUploads() http.HandlerFunc {
	files := http.StripPrefix(uploadsPrefix, http.FileServer(http.Dir(r.media.Root())))
	return func(w http.ResponseWriter, req *http.Request) {
		name := strings.TrimPrefix(req.URL.Path, uploadsPrefix)
		if name == "" || strings.Contains(name, "/") {
			r.handleNotFound(w, req)
			return
		}
		files.ServeHTTP(w, req)
	}
}

func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	writeError(w, http.StatusNotFound, "Could not find this route.")
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.hub != nil {
		components["feed"] = map[string]any{"status": "up", "subscribers": r.hub.Subscribers()}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
