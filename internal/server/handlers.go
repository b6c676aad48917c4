package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/UnknownOlympus/meydan/internal/locator"
	"github.com/UnknownOlympus/meydan/internal/models"
	"github.com/UnknownOlympus/meydan/internal/repository"
	"github.com/UnknownOlympus/meydan/internal/service"
	"github.com/UnknownOlympus/meydan/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

type createSessionRequest struct {
	UserID   string              `json:"user_id"`
	Location *models.Coordinates `json:"location,omitempty"`
	Address  string              `json:"address,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

type categoryRequest struct {
	Category string `json:"category"`
}

type distanceRequest struct {
	MaxDistanceKm float64 `json:"max_distance_km"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// eventView is the wire form of an annotated event. Unknown distances and
// positions are omitted since JSON has no NaN.
type eventView struct {
	ID               string              `json:"id"`
	Title            string              `json:"title"`
	Category         string              `json:"category"`
	Description      string              `json:"description,omitempty"`
	LocationName     string              `json:"location_name,omitempty"`
	Coordinates      *models.Coordinates `json:"coordinates,omitempty"`
	ParticipantCount int                 `json:"participant_count"`
	MaxParticipants  int                 `json:"max_participants"`
	IsFull           bool                `json:"is_full"`
	IsJoined         bool                `json:"is_joined"`
	StartsAt         time.Time           `json:"starts_at"`
	DistanceKm       *float64            `json:"distance_km,omitempty"`
	DistanceLabel    string              `json:"distance_label"`
}

type snapshotView struct {
	State        string                `json:"state"`
	Settings     models.FilterSettings `json:"settings"`
	Reference    *models.Coordinates   `json:"reference,omitempty"`
	FallbackUsed bool                  `json:"fallback_used"`
	Events       []eventView           `json:"events"`
}

func newEventView(event models.AnnotatedEvent) eventView {
	view := eventView{
		ID:               event.ID,
		Title:            event.Title,
		Category:         event.Category,
		Description:      event.Description,
		LocationName:     event.LocationName,
		ParticipantCount: event.ParticipantCount,
		MaxParticipants:  event.MaxParticipants,
		IsFull:           event.IsFull(),
		IsJoined:         event.IsJoined,
		StartsAt:         event.StartsAt,
		DistanceLabel:    event.DistanceLabel,
	}
	if event.Coordinates.Valid() {
		view.Coordinates = &event.Coordinates
	}
	if !math.IsNaN(event.DistanceKm) && !math.IsInf(event.DistanceKm, 0) {
		view.DistanceKm = &event.DistanceKm
	}

	return view
}

func newSnapshotView(snapshot service.Snapshot) snapshotView {
	view := snapshotView{
		State:        snapshot.State.String(),
		Settings:     snapshot.Settings,
		FallbackUsed: snapshot.FallbackUsed,
		Events:       lo.Map(snapshot.DisplayList, func(e models.AnnotatedEvent, _ int) eventView { return newEventView(e) }),
	}
	if snapshot.State != service.StateUninitialized {
		view.Reference = &snapshot.Reference
	}

	return view
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		s.respondWithError(w, r, http.StatusBadRequest, "Missing user_id", nil)
		return
	}

	sess, err := s.hub.Create(r.Context(), req.UserID, s.locatorFor(req))
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to create session", err)
		return
	}

	s.respondWithJSON(w, r, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		State:     sess.Controller.State().String(),
	})
}

// locatorFor picks the location source for a new session. Clients that send
// neither a position nor an address are treated as having denied access.
func (s *Server) locatorFor(req createSessionRequest) locator.Locator {
	switch {
	case req.Location != nil:
		return locator.Static(*req.Location)
	case req.Address != "" && s.provider != nil:
		return locator.Geocoded{Provider: s.provider, Address: req.Address}
	default:
		return locator.Denied{}
	}
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Delete(chi.URLParam(r, "id")); err != nil {
		s.respondWithHubError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	s.respondWithJSON(w, r, http.StatusOK, newSnapshotView(sess.Controller.Snapshot()))
}

func (s *Server) setCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	sess, ok := s.decodeForSession(w, r, &req)
	if !ok {
		return
	}

	sess.Controller.SetCategory(strings.TrimSpace(req.Category))
	s.respondWithSettings(w, r, sess)
}

func (s *Server) setDistance(w http.ResponseWriter, r *http.Request) {
	var req distanceRequest
	sess, ok := s.decodeForSession(w, r, &req)
	if !ok {
		return
	}

	sess.Controller.SetDistanceThreshold(req.MaxDistanceKm)
	s.respondWithSettings(w, r, sess)
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	sess, ok := s.decodeForSession(w, r, &req)
	if !ok {
		return
	}

	mode, err := models.ParseFilterMode(req.Mode)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	sess.Controller.SetMode(mode)
	s.respondWithSettings(w, r, sess)
}

func (s *Server) setLocation(w http.ResponseWriter, r *http.Request) {
	var req models.Coordinates
	sess, ok := s.decodeForSession(w, r, &req)
	if !ok {
		return
	}

	if !req.Valid() {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid coordinates", nil)
		return
	}

	sess.Controller.SetReference(req)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) joinEvent(w http.ResponseWriter, r *http.Request) {
	err := s.hub.Join(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "eventID"))
	if err != nil {
		s.respondWithHubError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) leaveEvent(w http.ResponseWriter, r *http.Request) {
	err := s.hub.Leave(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "eventID"))
	if err != nil {
		s.respondWithHubError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.hub.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithHubError(w, r, err)
		return nil, false
	}

	return sess, true
}

func (s *Server) decodeForSession(w http.ResponseWriter, r *http.Request, dst any) (*session.Session, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return nil, false
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}

	return sess, true
}

// respondWithSettings acknowledges a settings change. The recompute is
// debounced, so the new list arrives later through the stream or events endpoint.
func (s *Server) respondWithSettings(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.respondWithJSON(w, r, http.StatusAccepted, sess.Controller.Settings())
}

func (s *Server) respondWithHubError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		s.respondWithError(w, r, http.StatusNotFound, "Session not found", nil)
	case errors.Is(err, repository.ErrAlreadyJoined):
		s.respondWithError(w, r, http.StatusConflict, "Already joined", nil)
	case errors.Is(err, repository.ErrNotJoined):
		s.respondWithError(w, r, http.StatusConflict, "Not a participant", nil)
	case errors.Is(err, repository.ErrEventFull):
		s.respondWithError(w, r, http.StatusConflict, "Event is full", nil)
	default:
		s.respondWithError(w, r, http.StatusInternalServerError, "Internal error", err)
	}
}

func (s *Server) respondWithJSON(w http.ResponseWriter, r *http.Request, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err = w.Write(response); err != nil {
		s.log.ErrorContext(r.Context(), "failed to write reply", "error", err)
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, code int, message string, err error) {
	if err != nil && code >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "Request failed", "message", message, "error", err, "path", r.URL.Path)
	}

	s.respondWithJSON(w, r, code, map[string]string{"error": message})
}
