package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/events"
	"github.com/punchamoorthee/stakeops/internal/models"
	"github.com/punchamoorthee/stakeops/internal/session"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakeops_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stakeops_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
	}, []string{"method", "endpoint"})
)

// Pinger reports storage health. Nil when running memory-only.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	session  *session.Session
	storage  Pinger
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

func NewHandler(s *session.Session, storage Pinger, allowedOrigins []string, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Handler{
		session: s,
		storage: storage,
		log:     log.WithField("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r *mux.Router) {
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.instrument("/health", h.HealthCheckHandler)).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/ledger", h.instrument("/ledger", h.GetLedgerHandler)).Methods(http.MethodGet)
	v1.HandleFunc("/ledger/{user}", h.instrument("/ledger/{user}", h.GetLedgerHandler)).Methods(http.MethodGet)
	v1.HandleFunc("/pending", h.instrument("/pending", h.ListPendingHandler)).Methods(http.MethodGet)
	v1.HandleFunc("/investments", h.instrument("/investments", h.CreateInvestmentHandler)).Methods(http.MethodPost)
	v1.HandleFunc("/notifications", h.instrument("/notifications", h.ListNotificationsHandler)).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/{id}/decision", h.instrument("/notifications/{id}/decision", h.DecideHandler)).Methods(http.MethodPost)
	v1.HandleFunc("/session/logout", h.instrument("/session/logout", h.LogoutHandler)).Methods(http.MethodPost)
	v1.HandleFunc("/events", h.EventsHandler).Methods(http.MethodGet)
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "user": h.session.UserID(), "storage": "memory"}
	if h.storage != nil {
		status["storage"] = "postgres"
		if err := h.storage.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["storage"] = "unavailable"
		}
	}
	respondWithJSON(w, http.StatusOK, status)
}

func (h *Handler) GetLedgerHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.session.Summary(r.Context(), mux.Vars(r)["user"]))
}

func (h *Handler) ListPendingHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{"pending": h.session.Pending()})
}

func (h *Handler) CreateInvestmentHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateInvestmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "ValidationError")
		return
	}

	out, err := h.session.Submit(r.Context(), domain.Profile{
		UserID:  req.Seller,
		Name:    req.Name,
		Handle:  req.Handle,
		AssetID: req.AssetID,
	}, req.Amount)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, out)
}

func (h *Handler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		snap, err := h.session.Refresh(r.Context())
		if err != nil {
			h.respondWithDomainError(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, snap)
		return
	}
	respondWithJSON(w, http.StatusOK, h.session.Notifications())
}

func (h *Handler) DecideHandler(w http.ResponseWriter, r *http.Request) {
	var body models.DecisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", "ValidationError")
		return
	}

	out, err := h.session.Decide(r.Context(), mux.Vars(r)["id"], domain.Decision(body.Decision))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Logout(r.Context()); err != nil {
		h.log.WithError(err).Warn("logout left stored pending records behind")
	}
	w.WriteHeader(http.StatusNoContent)
}

// EventsHandler streams change events over a websocket until the client goes away.
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	feed := make(chan events.Event, 32)
	unsubscribe := h.session.Subscribe(func(e events.Event) {
		select {
		case feed <- e:
		default:
			// slow reader; it will re-read state on the next event
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-feed:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

func (h *Handler) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)
	code := statusFor(err)
	message := err.Error()
	if code >= http.StatusInternalServerError && !errors.Is(err, domain.ErrRemoteService) {
		message = "Internal Server Error"
	}
	h.log.WithError(err).WithFields(logrus.Fields{"path": r.URL.Path, "kind": kind}).Info("request failed")
	respondWithError(w, code, message, kind)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAlreadyPending),
		errors.Is(err, domain.ErrDecisionInFlight),
		errors.Is(err, domain.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRemoteService):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	}
}

func respondWithError(w http.ResponseWriter, code int, message, kind string) {
	respondWithJSON(w, code, map[string]string{"error": message, "kind": kind})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
