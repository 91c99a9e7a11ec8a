package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatdesk/internal/storage"
	"chatdesk/internal/templating"
)

type templateRequest struct {
	Name     string   `json:"name" validate:"required"`
	Content  string   `json:"content" validate:"required"`
	Keywords []string `json:"keywords" validate:"omitempty,dive,required"`
	Category *string  `json:"category"`
	IsActive *bool    `json:"isActive"`
}

type templatePatchRequest struct {
	Name     *string   `json:"name" validate:"omitnil,min=1"`
	Content  *string   `json:"content" validate:"omitnil,min=1"`
	Keywords *[]string `json:"keywords"`
	Category *string   `json:"category"`
	IsActive *bool     `json:"isActive"`
}

type previewRequest struct {
	Content  string            `json:"content" validate:"required"`
	Bindings map[string]string `json:"bindings"`
}

type previewResponse struct {
	Preview   string   `json:"preview"`
	Variables []string `json:"variables"`
	Unknown   []string `json:"unknown"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListMessageTemplates(r.Context())
	if err != nil {
		s.writeFailure(w, r, "Failed to fetch message templates", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetMessageTemplate(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Template not found")
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Failed to fetch template", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !decodeAndValidate(w, r, &req, "Invalid template data") {
		return
	}
	t, err := s.store.CreateMessageTemplate(r.Context(), storage.TemplateInput{
		Name:     req.Name,
		Content:  req.Content,
		Keywords: req.Keywords,
		Category: req.Category,
		IsActive: req.IsActive,
	})
	if err != nil {
		s.writeFailure(w, r, "Failed to create template", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templatePatchRequest
	if !decodeAndValidate(w, r, &req, "Invalid template data") {
		return
	}
	t, err := s.store.UpdateMessageTemplate(r.Context(), chi.URLParam(r, "id"), storage.TemplatePatch{
		Name:     req.Name,
		Content:  req.Content,
		Keywords: req.Keywords,
		Category: req.Category,
		IsActive: req.IsActive,
	})
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Template not found")
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Failed to update template", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	removed, err := s.store.DeleteMessageTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, r, "Failed to delete template", err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Template not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTemplateVariables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, templating.Variables())
}

func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeAndValidate(w, r, &req, "Invalid template data") {
		return
	}
	a := templating.Analyze(req.Content)
	writeJSON(w, http.StatusOK, previewResponse{
		Preview:   templating.Preview(req.Content, req.Bindings),
		Variables: a.Placeholders,
		Unknown:   a.Unknown,
	})
}
