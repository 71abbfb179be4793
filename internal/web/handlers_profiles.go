package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/homeinventory/internal/importer"
	"github.com/JonMunkholm/homeinventory/internal/logging"
	"github.com/JonMunkholm/homeinventory/internal/mapping"
)

// saveProfileRequest names a profile and takes its mapping either from a
// live session or from explicit headers and fields.
type saveProfileRequest struct {
	Name      string                   `json:"name"`
	SessionID uuid.UUID                `json:"sessionId"`
	Headers   []string                 `json:"headers"`
	Fields    map[string]mapping.Field `json:"fields"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.backend.ListProfiles(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, profiles)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var req saveProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, badRequest("profile body: %v", err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, r, badRequest("profile name is required"))
		return
	}

	var profile mapping.Profile
	if req.SessionID != uuid.Nil {
		sess, err := s.imports.Get(req.SessionID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		result, ok := sess.Mapping()
		if !ok {
			respondError(w, r, importer.ErrNoTable)
			return
		}
		profile = mapping.NewProfile(req.Name, result)
	} else {
		if len(req.Headers) == 0 {
			respondError(w, r, badRequest("headers or sessionId is required"))
			return
		}
		profile = mapping.Profile{Name: req.Name, Headers: req.Headers, Fields: make(map[string]mapping.Field, len(req.Fields))}
		for header, field := range req.Fields {
			if !field.Valid() {
				respondError(w, r, badRequest("unknown field %q for header %q", field, header))
				return
			}
			profile.Fields[mapping.Normalize(header)] = field
		}
	}

	saved, err := s.backend.SaveProfile(r.Context(), profile)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("mapping profile saved",
		"profile_id", saved.ID.String(),
		"name", saved.Name,
		"fields", len(saved.Fields),
	)
	writeJSON(w, r, http.StatusCreated, saved)
}

// handleMatchProfiles lists saved profiles fitting ?headers=a,b,c.
func (s *Server) handleMatchProfiles(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("headers")
	if strings.TrimSpace(raw) == "" {
		respondError(w, r, badRequest("headers is required"))
		return
	}
	headers := strings.Split(raw, ",")

	profiles, err := s.backend.ListProfiles(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	matches := mapping.MatchProfiles(profiles, headers)
	if matches == nil {
		matches = []mapping.ProfileMatch{}
	}
	writeJSON(w, r, http.StatusOK, matches)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "profileID"))
	if err != nil {
		respondError(w, r, badRequest("profile id must be a UUID"))
		return
	}
	if err := s.backend.DeleteProfile(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Database string                 `json:"database"`
	Sessions int                    `json:"sessions"`
	Imports  importer.LimiterStatus `json:"imports"`
}

// handleHealth reports 503 when the database does not answer within two
// seconds.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Sessions: s.imports.Len(),
		Imports:  s.imports.LimiterStatus(),
	}
	status := http.StatusOK
	if err := s.backend.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		resp.Status = "unavailable"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}
