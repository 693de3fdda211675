package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ha1tch/otkg/pkg/cache"
	"github.com/ha1tch/otkg/pkg/config"
	"github.com/ha1tch/otkg/pkg/graph"
	"github.com/ha1tch/otkg/pkg/models"
	"github.com/ha1tch/otkg/pkg/storage"
)

const (
	maxPerPage      = 100
	defaultMaxDepth = 6
	maxPathDepth    = 12
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": config.Version,
	})
}

// handleVersion returns server version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": config.Version,
	})
}

// handleListNodes lists one page of a label's nodes
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if s.serveCached(w, r) {
		return
	}
	label := chi.URLParam(r, "label")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > maxPerPage {
		perPage = s.config.DefaultPageSize
		if perPage < 1 {
			perPage = 10
		}
	}

	params := models.PaginationParams{Page: page, PerPage: perPage}
	nodes, total, err := s.reader.ListNodes(r.Context(), label, params)
	if err != nil {
		s.logger.Error().Err(err).Str("label", label).Msg("Failed to list nodes")
		s.writeError(w, http.StatusInternalServerError, "Failed to list nodes")
		return
	}

	response := models.PagedResponse{Data: nodes}
	response.Pagination.Page = page
	response.Pagination.PerPage = perPage
	response.Pagination.TotalItems = total
	response.Pagination.TotalPages = (total + perPage - 1) / perPage

	s.respond(w, r, response)
}

// handleGetNode retrieves a single node
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	if s.serveCached(w, r) {
		return
	}
	label := chi.URLParam(r, "label")
	id := chi.URLParam(r, "id")

	node, err := s.reader.GetNode(r.Context(), label, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("%s node %s not found", label, id))
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get node")
		s.writeError(w, http.StatusInternalServerError, "Failed to get node")
		return
	}

	s.respond(w, r, node)
}

// handleNeighbors lists the relationships touching a node
func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	if s.serveCached(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	direction := r.URL.Query().Get("direction")
	if direction == "" {
		direction = storage.DirectionBoth
	}

	neighbors, err := s.reader.Neighbors(r.Context(), id, direction)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidDirection) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get neighbors")
		s.writeError(w, http.StatusInternalServerError, "Failed to get neighbors")
		return
	}

	s.respond(w, r, map[string]interface{}{
		"node":      id,
		"direction": direction,
		"neighbors": neighbors,
	})
}

// handleGraphPath finds a shortest directed path between two nodes
func (s *Server) handleGraphPath(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		s.writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	maxDepth := defaultMaxDepth
	if v := r.URL.Query().Get("max_depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 1 || d > maxPathDepth {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("max_depth must be between 1 and %d", maxPathDepth))
			return
		}
		maxDepth = d
	}

	if s.serveCached(w, r) {
		return
	}

	idx, err := s.graphIndex(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load graph index")
		s.writeError(w, http.StatusInternalServerError, "Failed to load graph")
		return
	}

	path, err := idx.FindPath(from, to, maxDepth)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) || errors.Is(err, graph.ErrNoPath) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respond(w, r, models.PathInfo{
		From:   from,
		To:     to,
		Path:   path,
		Length: len(path) - 1,
	})
}

// handleGraphStats returns node and relationship counts
func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	if s.serveCached(w, r) {
		return
	}

	stats, err := s.reader.Stats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get stats")
		s.writeError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}

	s.respond(w, r, stats)
}

// Helper functions

// serveCached picks up a newer build, then writes a cached response body
// when there is one
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request) bool {
	s.refresh(r.Context())
	if s.cache == nil {
		return false
	}
	body, err := s.cache.Get(r.Context(), cache.APIKey(r.URL.RequestURI()))
	if err != nil {
		return false
	}
	w.Header().Set("X-Cache", "HIT")
	s.writeBody(w, http.StatusOK, body)
	return true
}

// respond writes a 200 response and caches its body
func (s *Server) respond(w http.ResponseWriter, r *http.Request, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
		s.writeError(w, http.StatusInternalServerError, "Failed to encode response")
		return
	}

	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.cache.Set(ctx, cache.APIKey(r.URL.RequestURI()), body, s.config.CacheTTLDuration()); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	w.Header().Set("X-Cache", "MISS")
	s.writeBody(w, http.StatusOK, body)
}

func (s *Server) writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
	w.Write([]byte("\n"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	writeErrorJSON(w, status, message)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	var resp models.ErrorResponse
	resp.Error.Message = message
	resp.Error.Status = status

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
