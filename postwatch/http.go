package postwatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/fakezero/kit"
)

// Handler returns the HTTP command surface:
//
//	GET  /health
//	GET  /state                 persisted flag
//	POST /state                 {"enabled": bool}
//	POST /pages/{id}/rescan     {"new_detections": n}
//	GET  /stats?recent=n
//	POST /ledger/reset
//	GET  /metrics               Prometheus
//	     /mcp                   MCP streamable HTTP
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := kit.WithRequestID(req.Context(), middleware.GetReqID(req.Context()))
			next.ServeHTTP(w, req.WithContext(kit.WithTransport(ctx, kit.TransportHTTP)))
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		enabled, err := s.Enabled(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
	})

	r.Post("/state", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, errors.New("body must be {\"enabled\": bool}"))
			return
		}
		if err := s.SetEnabled(r.Context(), *req.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
	})

	r.Post("/pages/{id}/rescan", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.ForceRescan(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, ErrUnknownPage):
			writeError(w, http.StatusNotFound, err)
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusOK, res)
		}
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Stats(r.Context(), queryInt(r, "recent", 10))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	r.Post("/ledger/reset", func(w http.ResponseWriter, r *http.Request) {
		if err := s.ResetLedger(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	})

	r.Handle("/metrics", s.metrics.Handler())

	srv := mcp.NewServer(&mcp.Implementation{Name: "fakezero", Version: "0.1.0"}, nil)
	s.RegisterMCP(srv)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
