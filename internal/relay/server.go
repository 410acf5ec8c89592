package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/roach88/histsync/internal/record"
)

// Defaults for Config.
const (
	DefaultPageSize       = 100
	DefaultMaxBodyBytes   = 32 << 20
	DefaultStatusCacheTTL = 30 * time.Second
)

// Config is the relay policy.
type Config struct {
	// MaxRecordSize is the largest accepted envelope in bytes
	// (nonce + ciphertext). 0 means unlimited.
	MaxRecordSize int

	// PageSize caps the count of a /records/next request.
	PageSize int

	// MaxBodyBytes caps an upload request body.
	MaxBodyBytes int64

	// Tokens maps bearer tokens to user names.
	Tokens map[string]string

	// RateLimit is the sustained requests per second allowed per user.
	// 0 disables limiting.
	RateLimit float64
	RateBurst int

	// StatusCacheTTL bounds how long a status snapshot is served from cache.
	StatusCacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.StatusCacheTTL <= 0 {
		c.StatusCacheTTL = DefaultStatusCacheTTL
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int(c.RateLimit) + 1
	}
	return c
}

// Server is the relay HTTP service.
type Server struct {
	storage  Storage
	cfg      Config
	status   *cache.Cache
	limiters sync.Map // user -> *rate.Limiter

	// statusMu orders cache fills against invalidations. gens counts the
	// pushes each user has finished.
	statusMu sync.Mutex
	gens     map[string]uint64

	metrics  *metrics
	registry *prometheus.Registry
	mux      *http.ServeMux
}

// New creates a Server over storage.
func New(storage Storage, cfg Config) *Server {
	cfg = cfg.withDefaults()
	reg := prometheus.NewRegistry()
	s := &Server{
		storage:  storage,
		cfg:      cfg,
		status:   cache.New(cfg.StatusCacheTTL, 2*cfg.StatusCacheTTL),
		gens:     map[string]uint64{},
		metrics:  newMetrics(reg),
		registry: reg,
		mux:      http.NewServeMux(),
	}

	s.mux.Handle("POST /records", s.instrument("push", s.authenticated(s.handlePush)))
	s.mux.Handle("GET /records/status", s.instrument("status", s.authenticated(s.handleStatus)))
	s.mux.Handle("GET /records/next", s.instrument("next", s.authenticated(s.handleNext)))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay: %w", err)
	case <-ctx.Done():
	}

	slog.Info("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

type userHandler func(w http.ResponseWriter, r *http.Request, user string)

// authenticated resolves the token to a user and applies the user's rate
// limit.
func (s *Server) authenticated(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Token ")
		user, known := s.cfg.Tokens[strings.TrimSpace(token)]
		if !ok || !known {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		if !s.allow(user) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) allow(user string) bool {
	if s.cfg.RateLimit <= 0 {
		return true
	}
	l, _ := s.limiters.LoadOrStore(user, rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst))
	return l.(*rate.Limiter).Allow()
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(s.metrics.duration.WithLabelValues(route))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, user string) {
	var recs []record.Record[record.Encrypted]
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&recs); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "malformed records: "+err.Error())
		return
	}

	res, err := s.push(r.Context(), user, recs)
	if err != nil {
		slog.Error("push failed", "user", user, "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	slog.Debug("push processed", "user", user, "accepted", res.Accepted, "rejected", len(res.Rejected))
	writeJSON(w, http.StatusOK, res)
}

// push applies recs one by one. A storage failure stops processing and is
// returned; everything else becomes a rejection of that record only.
func (s *Server) push(ctx context.Context, user string, recs []record.Record[record.Encrypted]) (record.PushResult, error) {
	res := record.PushResult{Rejected: []record.Rejection{}}
	defer s.invalidateStatus(user)

	for _, rec := range recs {
		if err := s.validate(rec); err != nil {
			res.Rejected = append(res.Rejected, s.reject(rec, err))
			continue
		}

		_, err := s.storage.Append(ctx, user, rec)
		if errors.Is(err, record.ErrStorageUnavailable) || errors.Is(err, context.Canceled) {
			return res, err
		}
		if err != nil {
			res.Rejected = append(res.Rejected, s.reject(rec, err))
			continue
		}
		res.Accepted++
		s.metrics.accepted.Inc()
	}
	return res, nil
}

var errInvalidRecord = errors.New("invalid record")

func (s *Server) validate(rec record.Record[record.Encrypted]) error {
	switch {
	case !rec.Tag.Valid():
		return fmt.Errorf("%w: invalid tag %q", errInvalidRecord, rec.Tag)
	case rec.Version == "":
		return fmt.Errorf("%w: missing version", errInvalidRecord)
	case rec.Data.Scheme == "":
		return fmt.Errorf("%w: missing scheme", errInvalidRecord)
	case s.cfg.MaxRecordSize > 0 && rec.Data.Size() > s.cfg.MaxRecordSize:
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", record.ErrRecordTooLarge, rec.Data.Size(), s.cfg.MaxRecordSize)
	}
	return nil
}

func (s *Server) reject(rec record.Record[record.Encrypted], err error) record.Rejection {
	code := record.CodeOf(err)
	s.metrics.rejected.WithLabelValues(string(code)).Inc()
	return record.Rejection{ID: rec.ID, Code: code, Message: err.Error()}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, user string) {
	if cached, ok := s.status.Get(user); ok {
		s.metrics.statusLookups.WithLabelValues("hit").Inc()
		writeJSON(w, http.StatusOK, cached)
		return
	}
	s.metrics.statusLookups.WithLabelValues("miss").Inc()

	gen := s.generation(user)
	status, err := s.storage.Status(r.Context(), user)
	if err != nil {
		slog.Error("status failed", "user", user, "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.cacheStatus(user, gen, status)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) generation(user string) uint64 {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.gens[user]
}

// cacheStatus stores a snapshot read at generation gen, unless a push has
// finished since.
func (s *Server) cacheStatus(user string, gen uint64, status record.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.gens[user] == gen {
		s.status.SetDefault(user, status)
	}
}

func (s *Server) invalidateStatus(user string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.gens[user]++
	s.status.Delete(user)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, user string) {
	q := r.URL.Query()

	host, err := record.ParseHostID(q.Get("host"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid host")
		return
	}
	tag := record.Tag(q.Get("tag"))
	if !tag.Valid() {
		writeError(w, http.StatusBadRequest, "invalid tag")
		return
	}

	var start uint64
	if v := q.Get("start"); v != "" {
		start, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start")
			return
		}
	}

	count := s.cfg.PageSize
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		if n > 0 && n < count {
			count = n
		}
	}

	recs, err := s.storage.Range(r.Context(), user, host, tag, record.Idx(start), count)
	if err != nil {
		slog.Error("next failed", "user", user, "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}
