package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type bssidRequest struct {
	MacAddressRadio string `json:"mac_address_radio"`
	Sector          string `json:"sector"`
	Floor           string `json:"floor"`
}

func (s *Server) handleListBssids(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.fleet.Catalog.Bssids(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mappings)
}

func (s *Server) handleCreateBssid(w http.ResponseWriter, r *http.Request) {
	var body bssidRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	mapping, err := s.fleet.Catalog.AddBssid(r.Context(), body.MacAddressRadio, body.Sector, body.Floor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapping)
}

func (s *Server) handleUpdateBssid(w http.ResponseWriter, r *http.Request) {
	var body bssidRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	mapping, err := s.fleet.Catalog.UpdateBssid(r.Context(), chi.URLParam(r, "mac"), body.Sector, body.Floor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) handleDeleteBssid(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")
	if err := s.fleet.Catalog.RemoveBssid(r.Context(), mac); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "BSSID " + mac + " deleted"})
}

type unitRequest struct {
	Name         string `json:"name"`
	IPRangeStart string `json:"ip_range_start"`
	IPRangeEnd   string `json:"ip_range_end"`
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := s.fleet.Catalog.Units(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

func (s *Server) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	var body unitRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	unit, err := s.fleet.Catalog.AddUnit(r.Context(), body.Name, body.IPRangeStart, body.IPRangeEnd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

func (s *Server) handleUpdateUnit(w http.ResponseWriter, r *http.Request) {
	var body unitRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	name := chi.URLParam(r, "name")
	if body.Name == "" {
		body.Name = name
	}

	unit, err := s.fleet.Catalog.UpdateUnit(r.Context(), name, body.Name, body.IPRangeStart, body.IPRangeEnd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (s *Server) handleDeleteUnit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.fleet.Catalog.RemoveUnit(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "unit " + name + " deleted"})
}
