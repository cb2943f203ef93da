package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/services"
)

// multipartOverhead is allowed on top of the upload limit for the
// multipart framing of the request body.
const multipartOverhead = 64 << 10

const jsonBodyLimit = 1 << 20

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, jsonBodyLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", common.ErrorValidation, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", common.ErrorValidation, r.PathValue("id"))
	}
	return id, nil
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			WriteProblem(w, http.StatusServiceUnavailable, "not ready", "dependencies not reachable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth ---

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteProblem(w, http.StatusBadRequest, "bad request", "invalid form", nil)
		return
	}

	tok, err := s.Users.Login(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in services.NewUser
	if err := decodeJSONStrict(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.Users.Signup(r.Context(), in)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			WriteProblem(w, http.StatusUnauthorized, "unauthorized", "Username or email already registered", nil)
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, principalFrom(r.Context()))
}

// --- Classification ---

type classifyResponse struct {
	Message string `json:"message"`
	TaskID  int64  `json:"task_id"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := principalFrom(ctx)
	key := apiKeyFrom(ctx)

	if err := s.Limiter.Check(ctx, s.clientIP(r), key.ID); err != nil {
		s.writeError(w, r, err)
		return
	}

	upload, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	task, err := s.Admission.Submit(ctx, principal, key, upload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		Message: fmt.Sprintf("Request queued with id %d! Check your tasks for the result.", task.ID),
		TaskID:  task.ID,
	})
}

// readUpload reads the "file" part. At most one byte past the limit is
// read, which is enough for admission to reject the upload.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (services.Upload, error) {
	limit := s.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return services.Upload{}, fmt.Errorf("%w: multipart body with a file field is required", common.ErrorValidation)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return services.Upload{}, fmt.Errorf("%w: file field is required", common.ErrorValidation)
		}
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return services.Upload{}, common.ErrPayloadTooLarge
			}
			return services.Upload{}, fmt.Errorf("%w: %v", common.ErrorValidation, err)
		}
		if part.FormName() != "file" {
			continue
		}

		content, err := io.ReadAll(io.LimitReader(part, limit+1))
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return services.Upload{}, common.ErrPayloadTooLarge
			}
			return services.Upload{}, fmt.Errorf("%w: %v", common.ErrorValidation, err)
		}
		return services.Upload{Filename: part.FileName(), Content: content}, nil
	}
}

// --- Own API keys ---

func (s *Server) handleIssueOwnKey(w http.ResponseWriter, r *http.Request) {
	issued, err := s.APIKeys.Issue(r.Context(), services.NewAPIKey{OwnerID: principalFrom(r.Context()).ID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

func (s *Server) handleListOwnKeys(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active_only")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	keys, err := s.APIKeys.ListOwned(r.Context(), principalFrom(r.Context()).ID, activeOnly != nil && *activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(keys))
}

func (s *Server) handleDeleteOwnKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.APIKeys.DeleteOwned(r.Context(), principalFrom(r.Context()).ID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Own tasks ---

func (s *Server) handleListOwnTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := taskFilterFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.Tasks.ListOwned(r.Context(), principalFrom(r.Context()).ID, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleGetOwnTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.Tasks.GetOwned(r.Context(), principalFrom(r.Context()).ID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- query parsing ---

func queryInt64(r *http.Request, name string) (*int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", common.ErrorValidation, name)
	}
	return &n, nil
}

func queryBool(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a boolean", common.ErrorValidation, name)
	}
	return &b, nil
}

// queryTime accepts RFC 3339 timestamps and plain dates.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be a date", common.ErrorValidation, name)
}

func pageFrom(r *http.Request) (models.Page, error) {
	var p models.Page
	for name, dst := range map[string]*int{"skip": &p.Skip, "limit": &p.Limit} {
		n, err := queryInt64(r, name)
		if err != nil {
			return p, err
		}
		if n != nil {
			if *n < 0 {
				return p, fmt.Errorf("%w: %s must not be negative", common.ErrorValidation, name)
			}
			*dst = int(*n)
		}
	}
	return p, nil
}

func taskFilterFrom(r *http.Request) (models.TaskFilter, error) {
	var (
		f   models.TaskFilter
		err error
	)
	if f.Page, err = pageFrom(r); err != nil {
		return f, err
	}
	if f.APIKeyID, err = queryInt64(r, "api_key_id"); err != nil {
		return f, err
	}
	if f.OwnerID, err = queryInt64(r, "user_id"); err != nil {
		return f, err
	}
	if v := strings.TrimSpace(r.URL.Query().Get("state")); v != "" {
		st := models.TaskState(v)
		f.State = &st
	}
	if f.From, err = queryTime(r, "start_date"); err != nil {
		return f, err
	}
	if f.To, err = queryTime(r, "end_date"); err != nil {
		return f, err
	}
	return f, nil
}

// nonNil keeps empty listings rendered as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
