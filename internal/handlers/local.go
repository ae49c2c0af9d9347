package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/locsync/internal/models"
)

// Handlers under /local edit the relational copy. Nothing here touches the
// document store directly; the rows are queued for the next push.

func (h *Handler) CreateLocalLocation(w http.ResponseWriter, r *http.Request) {
	var in models.LocationInput
	if err := decode(r, "create_local_location", &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	in.CreatedBy = userID(r)

	loc, err := h.local.CreateLocation(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (h *Handler) UpdateLocalLocation(w http.ResponseWriter, r *http.Request) {
	var patch models.LocationPatch
	if err := decode(r, "update_local_location", &patch); err != nil {
		h.writeError(w, r, err)
		return
	}

	loc, err := h.local.UpdateLocation(r.Context(), chi.URLParam(r, "id"), userID(r), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) DeleteLocalLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.local.DeleteLocation(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListLocalUserLocations(w http.ResponseWriter, r *http.Request) {
	h.listLocalUserLocations(w, r, false)
}

func (h *Handler) ListLocalFavorites(w http.ResponseWriter, r *http.Request) {
	h.listLocalUserLocations(w, r, true)
}

func (h *Handler) listLocalUserLocations(w http.ResponseWriter, r *http.Request, favoritesOnly bool) {
	uls, err := h.local.ListUserLocations(r.Context(), userID(r), favoritesOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uls)
}

// SaveLocalUserLocation creates or rewrites the caller's reference.
func (h *Handler) SaveLocalUserLocation(w http.ResponseWriter, r *http.Request) {
	var settings models.UserLocationSettings
	if err := decode(r, "save_local_user_location", &settings); err != nil {
		h.writeError(w, r, err)
		return
	}

	ul, err := h.local.SaveUserLocation(r.Context(), userID(r), chi.URLParam(r, "locationId"), settings)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ul)
}

func (h *Handler) DeleteLocalUserLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.local.DeleteUserLocation(r.Context(), userID(r), chi.URLParam(r, "locationId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
