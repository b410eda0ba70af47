package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tado-community/tadoxd/internal/coordinator"
	"github.com/tado-community/tadoxd/internal/rate"
	"github.com/tado-community/tadoxd/internal/tadox"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeAPIError maps vendor errors onto HTTP statuses. Rate limiting
// becomes 503 with a Retry-After hint.
func (s *Server) writeAPIError(w http.ResponseWriter, err error) {
	var rlErr rate.RateLimitError
	if errors.As(err, &rlErr) {
		if !rlErr.RetryAt.IsZero() {
			seconds := int(time.Until(rlErr.RetryAt).Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	var statusErr tadox.HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status == http.StatusNotFound {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.source.Stale(staleIntervals) {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"reason": "snapshot stale",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) snapshot(w http.ResponseWriter) (*coordinator.Snapshot, bool) {
	snap := s.source.Snapshot()
	if snap == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no data yet")
		return nil, false
	}
	return snap, true
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Rooms)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Devices)
}

type homeResponse struct {
	Presence      *tadox.HomeState     `json:"presence,omitempty"`
	Weather       *tadox.Weather       `json:"weather,omitempty"`
	MobileDevices []tadox.MobileDevice `json:"mobileDevices,omitempty"`
	Quota         rate.Usage           `json:"quota"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, homeResponse{
		Presence:      snap.HomeState,
		Weather:       snap.Weather,
		MobileDevices: snap.MobileDevices,
		Quota:         snap.Quota,
		UpdatedAt:     snap.UpdatedAt,
	})
}

type temperatureRequest struct {
	Temperature     float64 `json:"temperature"`
	Termination     string  `json:"termination,omitempty"`
	DurationSeconds int     `json:"durationSeconds,omitempty"`
}

func (s *Server) handleRoomTemperature(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	var req temperatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := tadox.ValidateTemperature(req.Temperature); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Termination != "" && !validTermination(req.Termination) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid termination %q", req.Termination))
		return
	}

	control := tadox.ManualControl{
		TemperatureCelsius: req.Temperature,
		Termination:        req.Termination,
		Duration:           time.Duration(req.DurationSeconds) * time.Second,
	}
	if err := s.commands.SetRoomTemperature(r.Context(), roomID, control); err != nil {
		s.writeAPIError(w, err)
		return
	}
	s.source.RequestRefresh()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleRoomOverlayDelete(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid room id")
		return
	}
	if err := s.commands.ResumeSchedule(r.Context(), roomID); err != nil {
		s.writeAPIError(w, err)
		return
	}
	s.source.RequestRefresh()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleQuickAction(w http.ResponseWriter, r *http.Request) {
	var err error
	switch action := r.PathValue("action"); action {
	case "boost":
		err = s.commands.Boost(r.Context())
	case "alloff":
		err = s.commands.AllOff(r.Context())
	case "resume":
		err = s.commands.ResumeAll(r.Context())
	default:
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown quick action %q", action))
		return
	}
	if err != nil {
		s.writeAPIError(w, err)
		return
	}
	s.source.RequestRefresh()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type presenceRequest struct {
	Presence string `json:"presence"`
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	switch strings.ToLower(req.Presence) {
	case "home":
		err = s.commands.SetPresence(r.Context(), tadox.PresenceHome)
	case "away":
		err = s.commands.SetPresence(r.Context(), tadox.PresenceAway)
	case "auto":
		err = s.commands.SetPresenceAuto(r.Context())
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid presence %q", req.Presence))
		return
	}
	if err != nil {
		s.writeAPIError(w, err)
		return
	}
	s.source.RequestRefresh()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleBoilerTemperature(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")

	var req temperatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := tadox.ValidateBoilerTemperature(req.Temperature); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.commands.SetBoilerTemperature(r.Context(), serial, req.Temperature); err != nil {
		s.writeAPIError(w, err)
		return
	}
	s.source.RequestRefresh()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func validTermination(termination string) bool {
	switch termination {
	case tadox.TerminationManual, tadox.TerminationTimer, tadox.TerminationNextTimeBlock:
		return true
	}
	return false
}
