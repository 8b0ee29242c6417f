package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ChatForge/chatforge-gateway/internal/config"
	"github.com/ChatForge/chatforge-gateway/internal/events"
	"github.com/ChatForge/chatforge-gateway/internal/jwt"
	"github.com/ChatForge/chatforge-gateway/internal/metrics"
	"github.com/ChatForge/chatforge-gateway/internal/plugins"
	"github.com/ChatForge/chatforge-gateway/internal/syncbridge"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Server struct {
	cfg     *config.Config
	log     *zap.Logger
	core    *events.Core
	mgr     *plugins.Manager
	bridge  *syncbridge.Bridge
	metrics *metrics.Collector
	r       *chi.Mux
	jwt     *jwt.Validator
}

func New(cfg *config.Config, log *zap.Logger, core *events.Core, mgr *plugins.Manager, bridge *syncbridge.Bridge, mc *metrics.Collector) *Server {
	v, _ := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))
	s := &Server{cfg: cfg, log: log, core: core, mgr: mgr, bridge: bridge, metrics: mc, r: r, jwt: v}
	s.routes()
	return s
}

func (s *Server) Router() http.Handler      { return s.r }
func (s *Server) Reload(cfg *config.Config) { s.cfg = cfg }

type pluginDTO struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	Status         string    `json:"status"`
	LoadTime       time.Time `json:"load_time"`
	LastActiveTime time.Time `json:"last_active_time,omitempty"`
	Error          string    `json:"error,omitempty"`
}

func toDTO(rec *plugins.Record) pluginDTO {
	dto := pluginDTO{
		ID:             rec.Manifest.ID,
		Name:           rec.Manifest.Name,
		Version:        rec.Manifest.Version,
		Status:         string(rec.Status),
		LoadTime:       rec.LoadTime,
		LastActiveTime: rec.LastActiveTime,
	}
	if rec.Err != nil {
		dto.Error = rec.Err.Error()
	}
	return dto
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	// stream realtime: el hub del bridge empuja cada evento entregable
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.r.Get("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		s.bridge.AttachClient(conn)

		// lector mínimo para detectar el cierre del cliente
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		go func() {
			defer func() {
				s.bridge.DetachClient(conn)
				_ = conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	s.r.Get("/v1/stats", s.auth(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(s.core.Stats())
	}))

	s.r.Post("/v1/stats/reset", s.auth(func(w http.ResponseWriter, r *http.Request) {
		s.core.ResetStats()
		w.WriteHeader(http.StatusNoContent)
	}))

	s.r.Get("/v1/history", s.auth(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		typ := r.URL.Query().Get("type")
		_ = json.NewEncoder(w).Encode(s.core.History(limit, typ))
	}))

	s.r.Delete("/v1/history", s.auth(func(w http.ResponseWriter, r *http.Request) {
		s.core.ClearHistory()
		w.WriteHeader(http.StatusNoContent)
	}))

	s.r.Post("/v1/publish", s.auth(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type     string            `json:"type"`
			Data     map[string]any    `json:"data"`
			Source   string            `json:"source"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Source == "" {
			req.Source = "admin-api"
		}
		ev := s.core.Publish(req.Type, req.Data, req.Source, req.Metadata)
		_ = json.NewEncoder(w).Encode(ev)
	}))

	s.r.Get("/v1/plugins", s.auth(func(w http.ResponseWriter, r *http.Request) {
		list := s.mgr.List()
		out := make([]pluginDTO, 0, len(list))
		for _, rec := range list {
			out = append(out, toDTO(rec))
		}
		_ = json.NewEncoder(w).Encode(out)
	}))

	s.r.Post("/v1/plugins", s.auth(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		rec, err := s.mgr.Install(req.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(toDTO(rec))
	}))

	s.r.Post("/v1/plugins/{id}/enable", s.auth(s.lifecycleOp(s.mgr.Enable)))
	s.r.Post("/v1/plugins/{id}/disable", s.auth(s.lifecycleOp(s.mgr.Disable)))

	s.r.Post("/v1/plugins/{id}/reload", s.auth(func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.mgr.Reload(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		_ = json.NewEncoder(w).Encode(toDTO(rec))
	}))

	s.r.Delete("/v1/plugins/{id}", s.auth(func(w http.ResponseWriter, r *http.Request) {
		if !s.mgr.Uninstall(chi.URLParam(r, "id")) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func (s *Server) lifecycleOp(op func(id string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, known := s.mgr.Get(id); !known {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": op(id)})
	}
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.jwt == nil || len(s.cfg.Auth.JWTPublicKeys) == 0 {
			// sin claves configuradas el API queda abierto (dev)
			next(w, r)
			return
		}
		tok := r.Header.Get("Authorization")
		if tok == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if len(tok) > 7 && tok[:7] == "Bearer " {
			tok = tok[7:]
		}
		if _, err := s.jwt.Verify(tok); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
