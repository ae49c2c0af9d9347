package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/models"
)

type instagramRequest struct {
	URL        string                     `json:"instagramUrl"`
	DatePosted *time.Time                 `json:"datePosted"`
	Locations  []models.LocationCandidate `json:"locations"`
}

func (h *Handler) ListUserLocations(w http.ResponseWriter, r *http.Request) {
	saved, err := h.locations.GetUserLocations(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// SaveLocation creates a location owned by the caller. A createdBy in the
// body is ignored.
func (h *Handler) SaveLocation(w http.ResponseWriter, r *http.Request) {
	var in models.LocationInput
	if err := decode(r, "save_location", &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	in.CreatedBy = userID(r)

	saved, err := h.locations.SaveLocation(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.locations.GetLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) UpdateWithOptimisticLock(w http.ResponseWriter, r *http.Request) {
	var patch models.LocationPatch
	if err := decode(r, "update_with_optimistic_lock", &patch); err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.locations.UpdateWithOptimisticLock(r.Context(), chi.URLParam(r, "id"), userID(r), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var patch models.LocationPatch
	if err := decode(r, "update_location", &patch); err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.locations.UpdateLocation(r.Context(), chi.URLParam(r, "id"), userID(r), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.locations.DeleteLocation(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteUserLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.locations.DeleteUserLocation(r.Context(), userID(r), chi.URLParam(r, "locationId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SearchLocations(w http.ResponseWriter, r *http.Request) {
	const op = "search_locations"
	query := r.URL.Query()

	q := models.SearchQuery{
		Text:     query.Get("q"),
		Category: query.Get("category"),
	}
	if query.Has("lat") || query.Has("lng") {
		lat, lng, err := parsePoint(op, query.Get("lat"), query.Get("lng"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		q.Center = &models.Coordinates{Latitude: &lat, Longitude: &lng}

		radius, err := parseFloat(op, "radius", query.Get("radius"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		q.RadiusKm = radius
	}

	matches, err := h.locations.SearchLocations(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *Handler) NearbyAlerts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	lat, lng, err := parsePoint("nearby_notifications", query.Get("lat"), query.Get("lng"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	nearby, err := h.locations.NearbyNotifications(r.Context(), userID(r), lat, lng)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nearby)
}

func (h *Handler) SaveInstagramLocations(w http.ResponseWriter, r *http.Request) {
	var req instagramRequest
	if err := decode(r, "save_instagram_locations", &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	saved, err := h.locations.SaveInstagramLocations(r.Context(), userID(r), req.URL, req.DatePosted, req.Locations)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func parsePoint(op, lat, lng string) (float64, float64, error) {
	latitude, err := parseFloat(op, "lat", lat)
	if err != nil {
		return 0, 0, err
	}
	longitude, err := parseFloat(op, "lng", lng)
	if err != nil {
		return 0, 0, err
	}
	return latitude, longitude, nil
}

func parseFloat(op, name, raw string) (float64, error) {
	if raw == "" {
		return 0, apperr.Validation(op, "Missing required fields: %s", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperr.Validation(op, "%s must be a number", name)
	}
	return v, nil
}
