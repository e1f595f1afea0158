// Package httpapi binds the fleet registry, dialog engine, and status
// resolver to their transports: the device poll/report endpoints and the
// operator chat gateway websocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/taskwire/internal/config"
	"github.com/antoniostano/taskwire/internal/dialog"
	"github.com/antoniostano/taskwire/internal/fleet"
	"github.com/antoniostano/taskwire/internal/journal"
	"github.com/antoniostano/taskwire/internal/logging"
	"github.com/antoniostano/taskwire/internal/observability"
	"github.com/antoniostano/taskwire/internal/protocol"
	"github.com/antoniostano/taskwire/internal/resolver"
)

type Server struct {
	cfg      config.Config
	registry *fleet.Registry
	engine   *dialog.Engine
	resolv   *resolver.Resolver
	journal  journal.Store
	metrics  *observability.Metrics
	gateway  *Gateway
	log      *logging.Logger
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	registry *fleet.Registry,
	engine *dialog.Engine,
	resolv *resolver.Resolver,
	store journal.Store,
	metrics *observability.Metrics,
	gateway *Gateway,
	log *logging.Logger,
) *Server {
	if log == nil {
		log = logging.L()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		resolv:   resolv,
		journal:  store,
		metrics:  metrics,
		gateway:  gateway,
		log:      log.WithComponent("httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Non-browser clients often omit Origin. Allow them;
				// browsers must match the host.
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/get", s.handlePoll)
	r.Post("/report", s.handleReport)
	r.Get("/v1/operator/ws", s.handleOperatorWS)
	r.Get("/v1/devices/{device}/tasks", s.handleRecentTasks)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"journal_mode": s.journalMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"journal_mode": s.journalMode(),
	})
}

// pollRequest and reportRequest use the wire field names the polling
// clients already speak.
type pollRequest struct {
	User   string `json:"user"`
	Device string `json:"device"`
}

type pollResponse struct {
	Tasks []fleet.Task `json:"tasks"`
}

type reportRequest struct {
	User    string `json:"user"`
	Device  string `json:"device"`
	Task    string `json:"task"`
	Status  string `json:"status"`
	Payload string `json:"payload"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Device) == "" || strings.TrimSpace(req.User) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "device and user are required")
		return
	}

	admitted, err := s.registry.RegisterOrGetDevice(req.Device)
	if err != nil {
		s.log.Err(err).Str("device", req.Device).Msg("device admission failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "registry unavailable")
		return
	}
	if !admitted {
		// A closed fleet gives the stranger nothing to distinguish from
		// an empty queue.
		s.metrics.Polls.WithLabelValues("denied").Inc()
		respondJSON(w, http.StatusOK, pollResponse{Tasks: []fleet.Task{}})
		return
	}

	if err := s.registry.GetOrCreateSession(req.Device, req.User); err != nil {
		s.log.Err(err).Str("device", req.Device).Str("session", req.User).Msg("session admission failed")
		s.metrics.Polls.WithLabelValues("empty").Inc()
		respondJSON(w, http.StatusOK, pollResponse{Tasks: []fleet.Task{}})
		return
	}
	s.syncRegistryGauges()

	tasks, err := s.registry.Drain(req.Device, req.User)
	if err != nil {
		s.log.Err(err).Str("device", req.Device).Str("session", req.User).Msg("drain failed")
		s.metrics.Polls.WithLabelValues("empty").Inc()
		respondJSON(w, http.StatusOK, pollResponse{Tasks: []fleet.Task{}})
		return
	}

	outcome := "empty"
	if len(tasks) > 0 {
		outcome = "drained"
	}
	s.metrics.Polls.WithLabelValues(outcome).Inc()
	if tasks == nil {
		tasks = []fleet.Task{}
	}
	respondJSON(w, http.StatusOK, pollResponse{Tasks: tasks})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "task id is required")
		return
	}

	kind, err := s.resolv.HandleReport(r.Context(), resolver.Report{
		DeviceID:  req.Device,
		SessionID: req.User,
		TaskID:    req.Task,
		Status:    req.Status,
		Payload:   req.Payload,
	})
	if err != nil {
		label := "unknown"
		if kind != "" {
			label = kind.String()
		}
		s.metrics.Reports.WithLabelValues(label, "error").Inc()
		s.log.Err(err).Str("task", req.Task).Msg("report handling failed")
		if errors.Is(err, fleet.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "report handling failed")
		return
	}

	s.metrics.Reports.WithLabelValues(kind.String(), "ok").Inc()
	if s.journal != nil {
		rec := journal.ReportRecord{
			TaskID:     req.Task,
			DeviceID:   req.Device,
			SessionID:  req.User,
			Kind:       kind.String(),
			Status:     req.Status,
			ReportedAt: time.Now().UTC(),
		}
		if err := s.journal.RecordReport(r.Context(), rec); err != nil {
			s.log.Warn().Err(err).Str("task", req.Task).Msg("journal write failed")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOperatorWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.gateway.add(conn)
	defer s.gateway.remove(conn)

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.ParseOperatorMessage(data)
		if err != nil {
			s.metrics.OperatorTurns.WithLabelValues("invalid").Inc()
			_ = s.gateway.send(conn, protocol.Reply{Type: protocol.TypeReply, Text: "Invalid message."})
			continue
		}

		reply := s.engine.HandleTurn(msg.OperatorID, msg.Text)
		if reply == nil {
			s.metrics.OperatorTurns.WithLabelValues("dropped").Inc()
			continue
		}
		s.metrics.OperatorTurns.WithLabelValues("replied").Inc()
		if err := s.gateway.send(conn, protocol.NewReply(reply)); err != nil {
			return
		}
	}
}

// handleRecentTasks serves the journal's audit trail for one device.
func (s *Server) handleRecentTasks(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotFound, "journal_disabled", "no journal configured")
		return
	}
	deviceID := chi.URLParam(r, "device")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := s.journal.RecentTasks(r.Context(), deviceID, limit)
	if err != nil {
		s.log.Err(err).Str("device", deviceID).Msg("journal read failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "journal unavailable")
		return
	}

	type taskEntry struct {
		TaskID    string    `json:"task_id"`
		SessionID string    `json:"session_id"`
		Kind      string    `json:"kind"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]taskEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, taskEntry{
			TaskID:    rec.TaskID,
			SessionID: rec.SessionID,
			Kind:      rec.Kind,
			CreatedAt: rec.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"device": deviceID, "tasks": out})
}

func (s *Server) syncRegistryGauges() {
	devices, sessions := s.registry.Counts()
	s.metrics.KnownDevices.Set(float64(devices))
	s.metrics.KnownSessions.Set(float64(sessions))
}

func (s *Server) journalMode() string {
	switch s.journal.(type) {
	case nil:
		return "disabled"
	case *journal.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
