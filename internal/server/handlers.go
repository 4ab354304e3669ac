package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/carousel-generator/internal/generator"
	"github.com/jonathan/carousel-generator/internal/jobs"
	"github.com/jonathan/carousel-generator/internal/pipeline"
	"github.com/jonathan/carousel-generator/internal/storage"
	"github.com/jonathan/carousel-generator/internal/types"
)

const (
	maxBodyBytes    = 25 << 20
	defaultJobLimit = 20
	maxJobLimit     = 100
)

// GenerateRequest is the optional body of POST /generate.
type GenerateRequest struct {
	MaxPosts int `json:"max_posts,omitempty" validate:"min=0,max=100"`
}

// TextRequest is the body of POST /generate_from_text. References are
// base64 images, optionally as data URIs.
type TextRequest struct {
	Text             string `json:"text" validate:"required,max=20000"`
	StyleReference   string `json:"style_reference,omitempty"`
	PersonaReference string `json:"persona_reference,omitempty"`
}

// StartResponse acknowledges an accepted trigger.
type StartResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ConflictResponse is returned while another job is running.
type ConflictResponse struct {
	Error string `json:"error"`
	JobID string `json:"job_id"`
}

// StatusResponse represents the response for /status/{job_id}
type StatusResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	PostID   string `json:"post_id,omitempty"`
	Error    string `json:"error,omitempty"`
	Progress string `json:"progress,omitempty"`
}

// StyleRequest is the body of POST /update-style.
type StyleRequest struct {
	Style string `json:"style" validate:"required"`
}

// PostResponse is a saved post with image URLs under /files/.
type PostResponse struct {
	Meta   storage.PostMetadata `json:"meta"`
	Body   string               `json:"body"`
	Images []string             `json:"images"`
}

func statusOf(rec *jobs.Record) StatusResponse {
	return StatusResponse{
		JobID:    rec.JobID,
		Status:   rec.Status,
		PostID:   rec.PostID,
		Error:    rec.Error,
		Progress: rec.Progress,
	}
}

// handleGenerate starts a sheet-mode batch.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := s.decodeOptional(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	s.start(w, r, jobs.Trigger{InputMode: types.InputModeSheet}, func(base generator.Request) generator.Request {
		base.MaxPosts = req.MaxPosts
		return base
	})
}

// handleGenerateFromText starts a single-post batch from submitted text.
func (s *Server) handleGenerateFromText(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, &ErrValidation{Field: "text", Message: "required"})
		return
	}
	style, err := decodeReference(types.ReferenceStyle, req.StyleReference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	persona, err := decodeReference(types.ReferencePersona, req.PersonaReference)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.start(w, r, jobs.Trigger{InputMode: types.InputModeText, Text: req.Text}, func(base generator.Request) generator.Request {
		base.Text = req.Text
		base.StyleReference = style
		base.PersonaReference = persona
		return base
	})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, trigger jobs.Trigger, build func(generator.Request) generator.Request) {
	run := func(ctx context.Context, jobID string, progress pipeline.ProgressCallback) (*pipeline.BatchSummary, error) {
		return s.runner.Run(ctx, build(generator.Request{
			JobID:     jobID,
			InputMode: trigger.InputMode,
			Progress:  progress,
		}))
	}

	jobID, err := s.tracker.Start(r.Context(), trigger, run)
	if err != nil {
		var running *jobs.AlreadyRunningError
		if errors.As(err, &running) {
			s.jsonResponse(w, http.StatusConflict, ConflictResponse{
				Error: "Generation already in progress",
				JobID: running.JobID,
			})
			return
		}
		s.writeError(w, err)
		return
	}

	s.logger.Info().Str("job_id", jobID).Str("input_mode", trigger.InputMode).Msg("job accepted")
	s.jsonResponse(w, http.StatusAccepted, StartResponse{JobID: jobID, Status: jobs.StatusRunning})
}

// handleStatus returns the status of a job
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracker.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, statusOf(rec))
}

// handleStatusStream streams status changes until the job finishes or the
// client disconnects.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("job_id")
	rec, err := s.tracker.Get(ctx, jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	stream, err := openEventStream(w, s.streamInterval)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var last StatusResponse
	for {
		current := statusOf(rec)
		if rec.Terminal() {
			_ = stream.complete(current)
			return
		}
		if current != last {
			if err := stream.status(current); err != nil {
				return
			}
			last = current
		} else if err := stream.heartbeat(time.Now()); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if rec, err = s.tracker.Get(ctx, jobID); err != nil {
			_ = stream.fail(err.Error())
			return
		}
	}
}

// handleListJobs lists recent jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = min(n, maxJobLimit)
	}

	records, err := s.tracker.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response := map[string]any{"jobs": records}
	if active, ok := s.tracker.Active(); ok {
		response["active_job_id"] = active
	}
	s.jsonResponse(w, http.StatusOK, response)
}

// handleGetStyle returns the prompt style suffix.
func (s *Server) handleGetStyle(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"style": s.runner.Style().Get()})
}

// handleUpdateStyle replaces the prompt style suffix for subsequent posts.
func (s *Server) handleUpdateStyle(w http.ResponseWriter, r *http.Request) {
	var req StyleRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	style := strings.TrimSpace(req.Style)
	if style == "" {
		s.errorResponse(w, http.StatusBadRequest, "Style cannot be empty")
		return
	}

	s.runner.Style().Set(style)
	s.logger.Info().Str("style", style).Msg("style updated")
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "success",
		"style":   style,
		"message": "Style updated. It applies to the next post generated.",
	})
}

// handleListPosts lists saved posts, newest first.
func (s *Server) handleListPosts(w http.ResponseWriter, _ *http.Request) {
	if s.posts == nil {
		s.errorResponse(w, http.StatusNotFound, "post gallery is not configured")
		return
	}
	posts, err := s.posts.ListPosts()
	if err != nil {
		s.writeError(w, err)
		return
	}
	for i := range posts {
		if posts[i].Thumbnail != "" {
			posts[i].Thumbnail = fileURL(posts[i].Thumbnail)
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"posts": posts, "count": len(posts)})
}

// handleGetPost returns one saved post.
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	if s.posts == nil {
		s.errorResponse(w, http.StatusNotFound, "post gallery is not configured")
		return
	}
	detail, err := s.posts.LoadPost(r.PathValue("post_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	images := []string{}
	for _, slide := range detail.Meta.Slides {
		if slide.File != "" {
			images = append(images, fileURL(slide.File))
		}
	}
	s.jsonResponse(w, http.StatusOK, PostResponse{Meta: detail.Meta, Body: detail.Body, Images: images})
}

// handlePostArtifacts returns the stored step outputs for a post.
func (s *Server) handlePostArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		s.errorResponse(w, http.StatusNotFound, "artifact store is not configured")
		return
	}
	rows, err := s.artifacts.ListArtifacts(r.Context(), r.PathValue("post_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(rows) == 0 {
		s.errorResponse(w, http.StatusNotFound, "no artifacts for post")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"artifacts": rows})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{"status": "ok"}
	status := http.StatusOK
	if s.database != nil {
		if err := s.database.Ping(r.Context()); err != nil {
			response["status"] = "degraded"
			response["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response["database"] = "ok"
		}
	}
	if active, ok := s.tracker.Active(); ok {
		response["active_job_id"] = active
	}
	s.jsonResponse(w, status, response)
}

// decode reads a required JSON body and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// decodeOptional is decode for bodies that may be empty.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// decodeReference parses a base64 image or data URI. Empty input yields nil.
func decodeReference(kind, raw string) (*types.Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	field := kind + "_reference"

	mimeType := ""
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, &ErrValidation{Field: field, Message: "data URI must be base64 encoded"}
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		raw = payload
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, &ErrValidation{Field: field, Message: "invalid base64"}
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, &ErrValidation{Field: field, Message: "must be an image"}
	}
	return &types.Reference{Kind: kind, MIMEType: mimeType, Data: data}, nil
}

func fileURL(key string) string {
	return path.Join("/files", key)
}
