package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/monorkin/device-fleet-manager/internal/commands"
	"github.com/monorkin/device-fleet-manager/internal/fault"
	"github.com/monorkin/device-fleet-manager/internal/registry"
)

func (s *Server) handleDeviceReport(w http.ResponseWriter, r *http.Request) {
	var report registry.Report
	if err := decodeJSON(r, &report); err != nil {
		s.writeError(w, r, err)
		return
	}

	device, err := s.fleet.Registry.UpsertFromReport(r.Context(), principalFrom(r.Context()), report)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "device data saved",
		"serial_number": device.SerialNumber,
		"sector":        device.Sector,
		"floor":         device.Floor,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SerialNumber string `json:"serial_number"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.fleet.Registry.Heartbeat(r.Context(), principalFrom(r.Context()), body.SerialNumber); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageBody{Message: "heartbeat recorded"})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.fleet.Registry.List(r.Context(), principalFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.fleet.Registry.Get(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "serial"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if err := s.fleet.Registry.Delete(r.Context(), principalFrom(r.Context()), serial); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageBody{Message: "device " + serial + " deleted"})
}

func (s *Server) handleLocationHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fault.Validationf("limit must be a number"))
			return
		}
		limit = n
	}

	history, err := s.fleet.Registry.LocationHistory(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "serial"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handlePollCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.fleet.Queue.Poll(r.Context(), principalFrom(r.Context()), r.URL.Query().Get("serial_number"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	status, err := commands.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cmds, err := s.fleet.Queue.List(r.Context(), principalFrom(r.Context()), r.URL.Query().Get("serial_number"), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var req commands.Request
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.fleet.Queue.Dispatch(r.Context(), principalFrom(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	var report commands.ResultReport
	if err := decodeJSON(r, &report); err != nil {
		s.writeError(w, r, err)
		return
	}

	cmd, err := s.fleet.Queue.ReportResult(r.Context(), principalFrom(r.Context()), report)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cmd)
}
