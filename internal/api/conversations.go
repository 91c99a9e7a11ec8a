package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"chatdesk/internal/metrics"
	"chatdesk/internal/storage"
)

type conversationRequest struct {
	CustomerName   string  `json:"customerName" validate:"required"`
	CustomerPhone  string  `json:"customerPhone" validate:"required"`
	CustomerAvatar *string `json:"customerAvatar"`
	LastMessage    *string `json:"lastMessage"`
	Status         string  `json:"status" validate:"omitempty,oneof=active pending resolved"`
}

type conversationPatchRequest struct {
	CustomerName   *string `json:"customerName" validate:"omitnil,min=1"`
	CustomerPhone  *string `json:"customerPhone" validate:"omitnil,min=1"`
	CustomerAvatar *string `json:"customerAvatar"`
	Status         *string `json:"status" validate:"omitnil,oneof=active pending resolved"`
	IsActive       *bool   `json:"isActive"`
}

type messageRequest struct {
	Content     string          `json:"content" validate:"required"`
	IsBot       *bool           `json:"isBot"`
	IsUser      *bool           `json:"isUser"`
	MessageType string          `json:"messageType" validate:"omitempty,oneof=text image file template"`
	Metadata    json.RawMessage `json:"metadata"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.writeFailure(w, r, "Failed to fetch conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Failed to fetch conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if !decodeAndValidate(w, r, &req, "Invalid conversation data") {
		return
	}
	c, err := s.store.CreateConversation(r.Context(), storage.ConversationInput{
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		CustomerAvatar: req.CustomerAvatar,
		LastMessage:    req.LastMessage,
		Status:         req.Status,
	})
	if err != nil {
		s.writeFailure(w, r, "Failed to create conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationPatchRequest
	if !decodeAndValidate(w, r, &req, "Invalid conversation data") {
		return
	}
	c, err := s.store.UpdateConversation(r.Context(), chi.URLParam(r, "id"), storage.ConversationPatch{
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		CustomerAvatar: req.CustomerAvatar,
		Status:         req.Status,
		IsActive:       req.IsActive,
	})
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Failed to update conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, "Failed to fetch messages", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeAndValidate(w, r, &req, "Invalid message data") {
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		s.writeFailure(w, r, "Failed to create message", err)
		return
	}

	msg, err := s.store.CreateMessage(r.Context(), storage.MessageInput{
		ConversationID: &id,
		Content:        req.Content,
		IsBot:          req.IsBot,
		IsUser:         req.IsUser,
		MessageType:    req.MessageType,
		Metadata:       []byte(req.Metadata),
	})
	if err != nil {
		s.writeFailure(w, r, "Failed to create message", err)
		return
	}
	s.metrics.MessagesCreated.WithLabelValues(metrics.Sender(msg.IsBot)).Inc()

	if s.replies != nil {
		if err := s.replies.EnqueueReply(r.Context(), msg); err != nil {
			s.logger.Warn().
				Err(err).
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("conversation_id", id).
				Msg("failed to enqueue auto-reply")
		}
	}
	writeJSON(w, http.StatusCreated, msg)
}
