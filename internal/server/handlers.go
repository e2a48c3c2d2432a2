package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/audit"
	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/response"
	"github.com/raaihank/nmt-proxy/internal/translate"
	"github.com/raaihank/nmt-proxy/internal/websocket"
)

const auditTimeout = 5 * time.Second

// handleTranslate decodes a batch and runs it in the given mode
func (s *Server) handleTranslate(mode langpair.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := getRequestID(r.Context())
		log := s.logger.WithRequestID(requestID)

		var items []translate.Item
		body, err := s.readBody(w, r)
		if err == nil {
			items, err = translate.ParseBatch(body)
		}

		var env *response.Envelope
		if err != nil {
			log.Info("Invalid translation request", zap.String("mode", string(mode)), zap.Error(err))
			env = response.New(response.InvalidAPIRequest, []interface{}{}).WithWhy(err.Error())
		} else {
			log.Info("Translation request received", zap.String("mode", string(mode)), zap.Int("items", len(items)))
			env = s.deps.Pipeline.Run(r.Context(), mode, items)
		}

		s.writeEnvelope(w, r, env)
		s.publish(requestID, mode, items, env, time.Since(start), websocket.ClientIP(r, s.config.Server.TrustProxyHeaders))
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := r.Body
	if limit := s.config.Server.MaxBodyBytes; limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	defer body.Close()
	return io.ReadAll(body)
}

// writeEnvelope always answers 200; the outcome lives in the envelope status
func (s *Server) writeEnvelope(w http.ResponseWriter, r *http.Request, env *response.Envelope) {
	if err := response.WriteJSON(w, http.StatusOK, env); err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to write response", zap.Error(err))
	}
}

// publish records the request in the audit store and broadcasts it to
// dashboard clients. Neither can fail the request.
func (s *Server) publish(requestID string, mode langpair.Mode, items []translate.Item, env *response.Envelope, duration time.Duration, clientIP string) {
	ids := modelIDs(items)
	durationMS := float64(duration.Nanoseconds()) / 1e6

	if s.deps.Audit != nil {
		rec := &audit.Record{
			RequestID:  requestID,
			Mode:       string(mode),
			ModelIDs:   make(pq.Int64Array, len(ids)),
			ItemCount:  len(items),
			StatusKind: string(env.Status.Kind),
			Why:        env.Status.Why,
			DurationMS: durationMS,
		}
		for i, id := range ids {
			rec.ModelIDs[i] = int64(id)
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
			defer cancel()
			if err := s.deps.Audit.Record(ctx, rec); err != nil {
				s.logger.WithRequestID(requestID).Warn("Failed to audit request", zap.Error(err))
			}
		}()
	}

	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeTranslation,
			Timestamp: time.Now(),
			RequestID: requestID,
			Data: websocket.TranslationEvent{
				RequestID:  requestID,
				Mode:       string(mode),
				ModelIDs:   ids,
				Items:      len(items),
				StatusKind: string(env.Status.Kind),
				ClientIP:   clientIP,
				DurationMS: durationMS,
			},
		})
	}
}

// modelIDs returns the distinct, valid ids of a batch in ascending order
func modelIDs(items []translate.Item) []int {
	seen := make(map[int]bool, len(items))
	ids := make([]int, 0, len(items))
	for _, it := range items {
		if it.ID == nil || seen[*it.ID] {
			continue
		}
		seen[*it.ID] = true
		ids = append(ids, *it.ID)
	}
	sort.Ints(ids)
	return ids
}

// ModelInfo is one row of the models listing
type ModelInfo struct {
	ID         int       `json:"id"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	Mode       string    `json:"mode"`
	Pair       string    `json:"pair"`
	Revision   uint64    `json:"revision"`
	LoadedAt   time.Time `json:"loaded_at"`
}

// handleModels lists the models of the current registry snapshot
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Catalog.Models()
	models := make([]ModelInfo, 0, len(entries))
	for _, e := range entries {
		models = append(models, ModelInfo{
			ID:         e.Descriptor.ID,
			SourceLang: e.Descriptor.SourceLang,
			TargetLang: e.Descriptor.TargetLang,
			Mode:       string(e.Descriptor.Mode),
			Pair:       e.Descriptor.String(),
			Revision:   e.Revision,
			LoadedAt:   e.LoadedAt,
		})
	}
	s.writeEnvelope(w, r, response.OK(models))
}

// handleRecentRequests lists audited requests, newest first
func (s *Server) handleRecentRequests(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.deps.Audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to list audited requests", zap.Error(err))
		s.writeEnvelope(w, r, response.New(response.SystemErr, []interface{}{}).WithWhy(err.Error()))
		return
	}
	if records == nil {
		records = []*audit.Record{}
	}
	s.writeEnvelope(w, r, response.OK(records))
}

// handleRequestStats summarises audited requests by status kind
func (s *Server) handleRequestStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Audit.Stats(r.Context())
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to get audit stats", zap.Error(err))
		s.writeEnvelope(w, r, response.New(response.SystemErr, nil).WithWhy(err.Error()))
		return
	}
	s.writeEnvelope(w, r, response.OK(stats))
}

// handleHealth reports healthy once at least one model is loaded
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := len(s.deps.Catalog.Models())

	status, code := "healthy", http.StatusOK
	if loaded == 0 {
		status, code = "unavailable", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"models":    loaded,
		"revision":  s.deps.Catalog.Revision(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo describes the running service
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":               "nmt-proxy",
		"version":            Version,
		"api_prefix":         s.config.Server.APIPrefix,
		"models":             len(s.deps.Catalog.Models()),
		"registry_revision":  s.deps.Catalog.Revision(),
		"registry_loaded_at": s.deps.Catalog.LoadedAt(),
		"uptime_seconds":     int64(time.Since(s.startedAt).Seconds()),
		"cache_enabled":      s.deps.Cache != nil,
		"audit_enabled":      s.deps.Audit != nil,
		"rate_limit_enabled": s.deps.Limiter.Enabled(),
		"websocket_enabled":  s.deps.Hub != nil && s.config.WebSocket.Enabled,
	}
	if s.deps.Hub != nil {
		info["websocket"] = s.deps.Hub.GetStats()
	}
	if s.deps.Cache != nil {
		// hit counters stay valid when Redis INFO fails
		stats, err := s.deps.Cache.GetStats(r.Context())
		if err != nil {
			s.logger.Warn("Failed to get cache statistics", zap.Error(err))
		}
		if stats != nil {
			info["cache"] = stats
		}
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
