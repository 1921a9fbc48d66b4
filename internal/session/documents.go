// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/jeranaias/ipa/internal/protocol"
	"github.com/jeranaias/ipa/internal/storage"
)

// =============================================================================
// DIRECT DOCUMENT OPERATIONS
// =============================================================================
//
// These run on the caller's goroutine and are allowed in any state except
// TERMINATED, including while a turn is in flight.

// ListDocuments emits articles_list, or an error event.
func (c *Coordinator) ListDocuments(s *Session, id string) error {
	if s.State() == StateTerminated {
		return ErrSessionTerminated
	}
	c.listDocuments(s, id)
	return nil
}

// ReadDocument emits article_content, or an error event.
func (c *Coordinator) ReadDocument(s *Session, id, name string) error {
	if s.State() == StateTerminated {
		return ErrSessionTerminated
	}

	content, err := c.store.Get(name)
	if err != nil {
		msg := msgGetFailed
		if errors.Is(err, storage.ErrNotFound) {
			msg = msgNotFound
		} else {
			c.logger.Error("DOCUMENT_READ_FAILED", zap.String("session", s.ID), zap.String("name", name), zap.Error(err))
		}
		c.emit(s, protocol.EventError, id, protocol.Error{Message: msg, Details: name})
		return nil
	}

	normalized, _ := storage.NormalizeName(name)
	c.emit(s, protocol.EventArticleContent, id, protocol.ArticleContent{
		Filename:  normalized,
		Content:   content,
		Timestamp: c.now(),
	})
	return nil
}

// DeleteDocument emits article_deleted. A missing document is reported with
// success=false rather than as an error event.
func (c *Coordinator) DeleteDocument(s *Session, id, name string) error {
	if s.State() == StateTerminated {
		return ErrSessionTerminated
	}
	c.deleteDocument(s, id, name)
	return nil
}

// SaveDocument writes a document and emits article_saved, or an error event.
func (c *Coordinator) SaveDocument(s *Session, id, name, content string) error {
	if s.State() == StateTerminated {
		return ErrSessionTerminated
	}
	c.saveDocument(s, id, name, content)
	return nil
}

// =============================================================================
// SHARED IMPLEMENTATION
// =============================================================================

func (c *Coordinator) saveDocument(s *Session, id, name, content string) {
	normalized, err := c.store.Put(name, content)
	if err != nil {
		// The ai_response already sent for this turn stands.
		c.logger.Error("DOCUMENT_SAVE_FAILED", zap.String("session", s.ID), zap.String("name", name), zap.Error(err))
		c.emit(s, protocol.EventError, id, protocol.Error{Message: msgSaveFailed, Details: err.Error()})
		return
	}
	c.logger.Info("DOCUMENT_SAVED", zap.String("session", s.ID), zap.String("name", normalized), zap.Int("bytes", len(content)))
	c.emit(s, protocol.EventArticleSaved, id, protocol.ArticleSaved{
		Filename:  normalized,
		Message:   msgSaved,
		Timestamp: c.now(),
	})
}

func (c *Coordinator) deleteDocument(s *Session, id, name string) {
	err := c.store.Delete(name)
	normalized, nerr := storage.NormalizeName(name)
	if nerr != nil {
		normalized = name
	}

	switch {
	case err == nil:
		c.logger.Info("DOCUMENT_DELETED", zap.String("session", s.ID), zap.String("name", normalized))
		c.emit(s, protocol.EventArticleDeleted, id, protocol.ArticleDeleted{
			Filename:  normalized,
			Success:   true,
			Message:   msgDeleted,
			Timestamp: c.now(),
		})
	case errors.Is(err, storage.ErrNotFound):
		c.emit(s, protocol.EventArticleDeleted, id, protocol.ArticleDeleted{
			Filename:  normalized,
			Success:   false,
			Message:   msgNotFound,
			Timestamp: c.now(),
		})
	default:
		c.logger.Error("DOCUMENT_DELETE_FAILED", zap.String("session", s.ID), zap.String("name", name), zap.Error(err))
		c.emit(s, protocol.EventError, id, protocol.Error{Message: msgDeleteFailed, Details: err.Error()})
	}
}

func (c *Coordinator) listDocuments(s *Session, id string) {
	names, err := c.store.List()
	if err != nil {
		c.logger.Error("DOCUMENT_LIST_FAILED", zap.String("session", s.ID), zap.Error(err))
		c.emit(s, protocol.EventError, id, protocol.Error{Message: msgListFailed, Details: err.Error()})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.emit(s, protocol.EventArticlesList, id, protocol.ArticlesList{
		Articles:  names,
		Timestamp: c.now(),
	})
}
