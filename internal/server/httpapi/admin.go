package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/services"
)

// --- Users ---

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	var (
		f   models.UserFilter
		err error
	)
	if f.Page, err = pageFrom(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.IsActive, err = queryBool(r, "is_active"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if v := r.URL.Query().Get("role"); v != "" {
		role := models.Role(v)
		f.Role = &role
	}

	list, err := s.Users.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var in services.NewUser
	if err := decodeJSONStrict(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Users.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Users.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var upd models.UserUpdate
	if err := decodeJSONStrict(r, &upd); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.Users.Update(r.Context(), id, upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Users.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- API keys ---

func (s *Server) handleAdminListKeys(w http.ResponseWriter, r *http.Request) {
	var (
		f   models.APIKeyFilter
		err error
	)
	if f.Page, err = pageFrom(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.IsActive, err = queryBool(r, "is_active"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.OwnerID, err = queryInt64(r, "owner_id"); err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.APIKeys.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleAdminIssueKey(w http.ResponseWriter, r *http.Request) {
	var in services.NewAPIKey
	if err := decodeJSONStrict(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	issued, err := s.APIKeys.Issue(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

func (s *Server) handleAdminGetKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := s.APIKeys.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *Server) handleAdminUpdateKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var upd models.APIKeyUpdate
	if err := decodeJSONStrict(r, &upd); err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := s.APIKeys.Update(r.Context(), id, upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *Server) handleAdminDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.APIKeys.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Tasks ---

func (s *Server) handleAdminListTasks(w http.ResponseWriter, r *http.Request) {
	f, err := taskFilterFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.Tasks.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleAdminGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.Tasks.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleAdminUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var upd models.TaskUpdate
	if err := decodeJSONStrict(r, &upd); err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.Tasks.Update(r.Context(), id, upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleAdminDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Tasks.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
