package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/nutrirag/internal/interview"
	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/internal/retrieval"
	"github.com/hyperjump/nutrirag/internal/storage"
	"github.com/hyperjump/nutrirag/internal/vector"
	"go.uber.org/zap"
)

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var input models.ItemInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("add item request", zap.String("item_type", input.ItemType), zap.Int("content_len", len(input.Content)))
	id, err := s.engine.AddItem(r.Context(), input.Content, input.Metadata, input.ItemType)
	if err != nil {
		s.logger.Error("add item failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "added"})
}

func (s *Server) handleBulkAdd(w http.ResponseWriter, r *http.Request) {
	var input models.BulkItemInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("bulk add request", zap.Int("items", len(input.Contents)))
	ids, err := s.engine.BulkAdd(r.Context(), input)
	if err != nil {
		s.logger.Error("bulk add failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"ids": ids, "count": len(ids)})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.engine.GetItem(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete item request", zap.String("id", id))
	if err := s.engine.DeleteItem(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type deleteWhereRequest struct {
	Filter map[string]interface{} `json:"filter"`
}

func (s *Server) handleDeleteWhere(w http.ResponseWriter, r *http.Request) {
	var req deleteWhereRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Filter) == 0 {
		s.respondError(w, http.StatusBadRequest, "filter is required")
		return
	}
	ids, err := s.engine.DeleteWhere(r.Context(), req.Filter)
	if err != nil {
		s.logger.Error("delete by filter failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"ids": ids, "count": len(ids)})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var query models.RetrievalQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("retrieval request", zap.String("query", query.Query), zap.Int("top_k", query.TopK))
	response, err := s.engine.Retrieve(r.Context(), query)
	if err != nil {
		s.logger.Error("retrieval failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if s.recommender == nil {
		s.respondError(w, http.StatusNotImplemented, "recommendations not enabled")
		return
	}
	var profile models.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.recommender.Run(r.Context(), profile)
	if err != nil {
		s.logger.Error("recommendation failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearCaches(r.Context()); err != nil {
		s.logger.Error("clear caches failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Index            *retrieval.Stats `json:"index"`
	DiskUsage        *storage.Usage   `json:"disk_usage,omitempty"`
	WatchDirectories []string         `json:"watch_directories,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	resp := StatusResponse{Index: stats}
	if s.cacheDir != "" {
		usage, err := storage.DirUsage(s.cacheDir)
		if err != nil {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		} else {
			resp.DiskUsage = usage
		}
	}
	if s.watch != nil {
		resp.WatchDirectories = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, retrieval.ErrEmptyContent),
		errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, retrieval.ErrArgumentMismatch),
		errors.Is(err, vector.ErrUnsupportedFilter),
		errors.Is(err, interview.ErrInvalidProfile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	s.respondError(w, statusFor(err), err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
