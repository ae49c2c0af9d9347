package handlers

import "net/http"

func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.Push(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.Pull(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sync.SyncWithConflictResolution(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) FullSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.SyncWithRetry(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
