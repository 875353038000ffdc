package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sealroom/internal/crypto"
	"sealroom/internal/domain"
	"sealroom/internal/logging"
	"sealroom/internal/metrics"
	"sealroom/internal/services/group"
)

const maxBodyBytes = 8 << 20

type channel struct {
	msgs []domain.Delivered
	keys map[string]uint64
}

// Server is an in-memory relay.
type Server struct {
	mu         sync.RWMutex
	devices    map[domain.Fingerprint]domain.PublicKey
	packages   map[domain.Fingerprint][]domain.KeyPackage
	channels   map[string]*channel
	handshakes map[domain.GroupID][]domain.MLSMessage
	stored     int

	log     *slog.Logger
	metrics *metrics.Metrics
	gather  prometheus.Gatherer
	now     func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the access and event logger.
func WithServerLogger(l *slog.Logger) ServerOption { return func(s *Server) { s.log = l } }

// WithServerMetrics records relay metrics in m and serves g on /metrics.
func WithServerMetrics(m *metrics.Metrics, g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.metrics = m
		s.gather = g
	}
}

// WithServerClock overrides time.Now.
func WithServerClock(now func() time.Time) ServerOption { return func(s *Server) { s.now = now } }

// NewServer returns an empty relay.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		devices:    make(map[domain.Fingerprint]domain.PublicKey),
		packages:   make(map[domain.Fingerprint][]domain.KeyPackage),
		channels:   make(map[string]*channel),
		handshakes: make(map[domain.GroupID][]domain.MLSMessage),
		log:        logging.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/devices/{fpr}", s.handlePutDevice).Methods(http.MethodPut)
	v1.HandleFunc("/devices/{fpr}", s.handleGetDevice).Methods(http.MethodGet)
	v1.HandleFunc("/keypackages/{fpr}", s.handlePostKeyPackage).Methods(http.MethodPost)
	v1.HandleFunc("/keypackages/{fpr}/claim", s.handleClaimKeyPackage).Methods(http.MethodPost)
	v1.HandleFunc("/channels/{id}/messages", s.handlePostMessage).Methods(http.MethodPost)
	v1.HandleFunc("/channels/{id}/messages", s.handleGetMessages).Methods(http.MethodGet)
	v1.HandleFunc("/channels/{id}/handshakes", s.handleGetHandshakes).Methods(http.MethodGet)
	if s.gather != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}
	r.Use(s.accessLog)
	return r
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", sw.status,
			"bytes", sw.bytes,
			"duration", s.now().Sub(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "malformed body")
		return false
	}
	return true
}

func (s *Server) handlePutDevice(w http.ResponseWriter, r *http.Request) {
	fpr := domain.Fingerprint(mux.Vars(r)["fpr"])
	var body deviceBody
	if !decode(w, r, &body) {
		return
	}
	if body.PublicKey.IsZero() || crypto.Fingerprint(body.PublicKey) != fpr {
		writeError(w, http.StatusBadRequest, "public key does not match fingerprint")
		return
	}
	s.mu.Lock()
	s.devices[fpr] = body.PublicKey
	s.mu.Unlock()
	s.log.Info("device published", "fingerprint", fpr.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	fpr := domain.Fingerprint(mux.Vars(r)["fpr"])
	s.mu.RLock()
	pub, ok := s.devices[fpr]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	writeJSON(w, http.StatusOK, deviceBody{Fingerprint: fpr, PublicKey: pub})
}

func (s *Server) handlePostKeyPackage(w http.ResponseWriter, r *http.Request) {
	fpr := domain.Fingerprint(mux.Vars(r)["fpr"])
	var kp domain.KeyPackage
	if !decode(w, r, &kp) {
		return
	}
	if kp.DeviceFingerprint != fpr {
		writeError(w, http.StatusBadRequest, "key package for another device")
		return
	}
	if err := group.VerifyKeyPackage(kp, s.now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	s.packages[fpr] = append(s.packages[fpr], kp)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaimKeyPackage(w http.ResponseWriter, r *http.Request) {
	fpr := domain.Fingerprint(mux.Vars(r)["fpr"])
	now := s.now()
	s.mu.Lock()
	list := s.packages[fpr]
	var claimed *domain.KeyPackage
	for len(list) > 0 {
		kp := list[0]
		list = list[1:]
		if kp.ExpiresAt.IsZero() || now.Before(kp.ExpiresAt) {
			claimed = &kp
			break
		}
	}
	if len(list) == 0 {
		delete(s.packages, fpr)
	} else {
		s.packages[fpr] = list
	}
	s.mu.Unlock()
	if claimed == nil {
		writeError(w, http.StatusNotFound, "no key package available")
		return
	}
	writeJSON(w, http.StatusOK, claimed)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	key := r.Header.Get(IdempotencyHeader)
	if key == "" {
		writeError(w, http.StatusBadRequest, IdempotencyHeader+" header required")
		return
	}
	var body postBody
	if !decode(w, r, &body) {
		return
	}
	if len(body.Blob) == 0 {
		writeError(w, http.StatusBadRequest, "empty blob")
		return
	}
	hs, isHandshake := handshakeOf(body.Blob)
	if isHandshake && string(hs.GroupID) != id {
		writeError(w, http.StatusBadRequest, "handshake for another group")
		return
	}

	s.mu.Lock()
	ch, ok := s.channels[id]
	if !ok {
		ch = &channel{keys: make(map[string]uint64)}
		s.channels[id] = ch
	}
	if seq, dup := ch.keys[key]; dup {
		s.mu.Unlock()
		s.metrics.ObserveRelayPost("duplicate")
		writeJSON(w, http.StatusConflict, seqBody{Seq: seq})
		return
	}
	seq := uint64(len(ch.msgs)) + 1
	ch.keys[key] = seq
	ch.msgs = append(ch.msgs, domain.Delivered{
		Channel:        id,
		Seq:            seq,
		Epoch:          body.Epoch,
		IdempotencyKey: key,
		Blob:           body.Blob,
		ReceivedAt:     s.now().UTC(),
	})
	if isHandshake {
		s.handshakes[hs.GroupID] = append(s.handshakes[hs.GroupID], hs)
	}
	s.stored++
	stored := s.stored
	s.mu.Unlock()

	s.metrics.ObserveRelayPost("stored")
	s.metrics.SetRelayDepth(stored)
	writeJSON(w, http.StatusCreated, seqBody{Seq: seq})
}

// handshakeOf extracts the group handshake carried by a conversation
// payload, if any. Other blobs are opaque to the relay.
func handshakeOf(blob []byte) (domain.MLSMessage, bool) {
	var pl domain.Payload
	if err := json.Unmarshal(blob, &pl); err != nil {
		return domain.MLSMessage{}, false
	}
	if pl.Mode != domain.ModeGroup || pl.Group == nil || pl.Group.Kind != domain.KindHandshake || pl.Group.GroupID == "" {
		return domain.MLSMessage{}, false
	}
	return *pl.Group, true
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		after = n
	}
	s.mu.RLock()
	out := []domain.Delivered{}
	if ch, ok := s.channels[id]; ok && after < uint64(len(ch.msgs)) {
		// sequence n lives at index n-1
		out = append(out, ch.msgs[after:]...)
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetHandshakes(w http.ResponseWriter, r *http.Request) {
	id := domain.GroupID(mux.Vars(r)["id"])
	s.mu.RLock()
	out := append([]domain.MLSMessage{}, s.handshakes[id]...)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}
