// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/ipa/internal/storage"
)

// ============================================================================
// ARTICLE TYPES
// ============================================================================

// ArticleRequest is the POST /articles and PUT /articles/{name} body.
type ArticleRequest struct {
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content"`
}

// ArticleResult answers a write or delete.
type ArticleResult struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ArticleBody answers GET /articles/{name}.
type ArticleBody struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// ============================================================================
// ARTICLE HANDLERS
// ============================================================================

// handleListArticles handles GET /articles.
func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List()
	if err != nil {
		s.logger.Error("API_LIST_FAILED", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list articles")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// handleGetArticle handles GET /articles/{name}.
func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	content, err := s.store.Get(name)
	if err != nil {
		s.writeStoreError(w, err, name, "Failed to read article")
		return
	}
	normalized, _ := storage.NormalizeName(name)
	writeJSON(w, http.StatusOK, ArticleBody{Filename: normalized, Content: content})
}

// handleCreateArticle handles POST /articles.
func (s *Server) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	var req ArticleRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Filename) == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "Filename and content are required")
		return
	}
	s.putArticle(w, req.Filename, req.Content, "Failed to create article")
}

// handleUpdateArticle handles PUT /articles/{name}.
func (s *Server) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	var req ArticleRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "Content is required")
		return
	}
	s.putArticle(w, r.PathValue("name"), req.Content, "Failed to update article")
}

// handleDeleteArticle handles DELETE /articles/{name}.
func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := s.store.Delete(name)
	switch {
	case err == nil:
		normalized, _ := storage.NormalizeName(name)
		s.logger.Info("API_ARTICLE_DELETED", zap.String("name", normalized))
		writeJSON(w, http.StatusOK, ArticleResult{Success: true, Filename: normalized, Message: "Article deleted successfully"})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ArticleResult{Success: false, Error: "Article not found"})
	default:
		s.writeStoreError(w, err, name, "Failed to delete article")
	}
}

func (s *Server) putArticle(w http.ResponseWriter, name, content, failure string) {
	normalized, err := s.store.Put(name, content)
	if err != nil {
		s.writeStoreError(w, err, name, failure)
		return
	}
	s.logger.Info("API_ARTICLE_SAVED", zap.String("name", normalized), zap.Int("bytes", len(content)))
	writeJSON(w, http.StatusOK, ArticleResult{Success: true, Filename: normalized, Message: "Article saved successfully"})
}

// decodeBody decodes a size-limited JSON body, answering 400/413 itself.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		s.logger.Debug("API_INVALID_BODY", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return false
	}
	return true
}

// writeStoreError maps store failures to status codes. Details stay in
// the log.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, name, failure string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Article not found")
	case errors.Is(err, storage.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Invalid article name")
	default:
		s.logger.Error("API_STORE_FAILED", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, failure)
	}
}
