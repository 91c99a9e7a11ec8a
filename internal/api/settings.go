package api

import (
	"errors"
	"net/http"
	"time"

	"chatdesk/internal/storage"
)

type botConfigRequest struct {
	Name           string `json:"name"`
	WelcomeMessage string `json:"welcomeMessage" validate:"required"`
	IsActive       *bool  `json:"isActive"`
	AutoRespond    *bool  `json:"autoRespond"`
	ResponseDelay  *int   `json:"responseDelay" validate:"omitnil,min=0"`
}

type analyticsRequest struct {
	Date             *time.Time `json:"date"`
	TotalMessages    int        `json:"totalMessages" validate:"min=0"`
	ActiveUsers      int        `json:"activeUsers" validate:"min=0"`
	BotResponses     int        `json:"botResponses" validate:"min=0"`
	ResponseRate     int        `json:"responseRate" validate:"min=0,max=100"`
	AvgResponseTime  int        `json:"avgResponseTime" validate:"min=0"`
	UserSatisfaction int        `json:"userSatisfaction" validate:"min=0,max=50"`
}

func (s *Server) handleGetBotConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetBotConfig(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Failed to fetch bot configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateBotConfig(w http.ResponseWriter, r *http.Request) {
	var req botConfigRequest
	if !decodeAndValidate(w, r, &req, "Invalid bot configuration") {
		return
	}
	cfg, err := s.store.UpdateBotConfig(r.Context(), storage.BotConfigInput{
		Name:           req.Name,
		WelcomeMessage: req.WelcomeMessage,
		IsActive:       req.IsActive,
		AutoRespond:    req.AutoRespond,
		ResponseDelay:  req.ResponseDelay,
	})
	if err != nil {
		s.writeFailure(w, r, "Failed to update bot configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleGetAnalytics answers with the most recent snapshot, or null.
func (s *Server) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAnalytics(r.Context())
	if err != nil {
		s.writeFailure(w, r, "Failed to fetch analytics", err)
		return
	}
	if len(list) == 0 {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, list[0])
}

func (s *Server) handleCreateAnalytics(w http.ResponseWriter, r *http.Request) {
	var req analyticsRequest
	if !decodeAndValidate(w, r, &req, "Invalid analytics data") {
		return
	}
	a, err := s.store.CreateAnalyticsEntry(r.Context(), storage.AnalyticsInput{
		Date:             req.Date,
		TotalMessages:    req.TotalMessages,
		ActiveUsers:      req.ActiveUsers,
		BotResponses:     req.BotResponses,
		ResponseRate:     req.ResponseRate,
		AvgResponseTime:  req.AvgResponseTime,
		UserSatisfaction: req.UserSatisfaction,
	})
	if err != nil {
		s.writeFailure(w, r, "Failed to create analytics entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}
