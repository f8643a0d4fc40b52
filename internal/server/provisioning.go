package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/provisioning"
	"github.com/monorkin/device-fleet-manager/internal/registry"
)

type generateTokenRequest struct {
	Organization   string `json:"organization"`
	ConfigProfile  string `json:"config_profile"`
	MaxUses        int    `json:"max_uses"`
	ExpiresInHours int    `json:"expires_in_hours"`
}

type generateTokenResponse struct {
	Token           string    `json:"token"`
	ProvisioningURL string    `json:"provisioning_url"`
	ExpiresAt       time.Time `json:"expires_at"`
	MaxUses         int       `json:"max_uses"`
}

func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var body generateTokenRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	token, err := s.fleet.Provisioning.IssueToken(r.Context(), provisioning.IssueRequest{
		Organization: body.Organization,
		Profile:      body.ConfigProfile,
		MaxUses:      body.MaxUses,
		ExpiresIn:    time.Duration(body.ExpiresInHours) * time.Hour,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, generateTokenResponse{
		Token:           token.Token,
		ProvisioningURL: s.provisioningURL(r, token.Token),
		ExpiresAt:       token.ExpiresAt,
		MaxUses:         token.MaxUses,
	})
}

type enrollRequest struct {
	Token string `json:"token"`
	registry.Report
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var body enrollRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	enrollment, err := s.fleet.Provisioning.Redeem(r.Context(), body.Token, body.Report)
	if err != nil {
		// A bad provisioning token is a credential failure on this route.
		if fault.KindOf(err) == fault.Unauthorized {
			s.writeErrorStatus(w, r, err, http.StatusUnauthorized)
			return
		}
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, enrollment)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SerialNumber string `json:"serial_number"`
		Success      bool   `json:"success"`
		ErrorMessage string `json:"error_message"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	device, err := s.fleet.Provisioning.Complete(r.Context(), principalFrom(r.Context()), body.SerialNumber, body.Success, body.ErrorMessage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleTokenLookup(w http.ResponseWriter, r *http.Request) {
	view, err := s.fleet.Provisioning.Lookup(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The enrollment page only needs to know whether and where to enroll.
	writeJSON(w, http.StatusOK, map[string]any{
		"organization":   view.Organization,
		"config_profile": view.ConfigProfile,
		"state":          view.State,
		"expires_at":     view.ExpiresAt,
		"remaining_uses": view.RemainingUses,
	})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	views, err := s.fleet.Provisioning.ListTokens(r.Context(), r.URL.Query().Get("organization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleDeactivateToken(w http.ResponseWriter, r *http.Request) {
	view, err := s.fleet.Provisioning.Deactivate(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

type createProfileRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Settings    models.ProfileSettings `json:"settings"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var body createProfileRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	profile, err := s.fleet.Provisioning.CreateProfile(r.Context(), body.Name, body.Description, body.Settings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.fleet.Provisioning.Profiles(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profiles)
}
