// Package handlers exposes the location and sync core over HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/prudhvinik1/locsync/internal/services"
	"github.com/sirupsen/logrus"
)

type Authenticator interface {
	Register(ctx context.Context, req services.RegisterRequest) (*models.Account, error)
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResponse, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*services.TokenClaims, error)
}

type Syncer interface {
	Push(ctx context.Context, userID string) (*models.PushResult, error)
	Pull(ctx context.Context, userID string) (*models.PullResult, error)
	SyncWithConflictResolution(ctx context.Context) (models.SyncStats, error)
	SyncWithRetry(ctx context.Context, userID string) (*models.FullSyncResult, error)
}

// LocalEditor edits the relational copy. services.LocalService implements it.
type LocalEditor interface {
	CreateLocation(ctx context.Context, in models.LocationInput) (*models.Location, error)
	UpdateLocation(ctx context.Context, id, userID string, patch models.LocationPatch) (*models.Location, error)
	DeleteLocation(ctx context.Context, id, userID string) error
	SaveUserLocation(ctx context.Context, userID, locationID string, settings models.UserLocationSettings) (*models.UserLocation, error)
	ListUserLocations(ctx context.Context, userID string, favoritesOnly bool) ([]*models.UserLocation, error)
	DeleteUserLocation(ctx context.Context, userID, locationID string) error
}

type Handler struct {
	auth      Authenticator
	locations *services.LocationService
	local     LocalEditor
	sync      Syncer
	logger    *logrus.Logger
}

func NewHandler(auth Authenticator, locations *services.LocationService, local LocalEditor, sync Syncer, logger *logrus.Logger) *Handler {
	return &Handler{
		auth:      auth,
		locations: locations,
		local:     local,
		sync:      sync,
		logger:    logger,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(h.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Post("/auth/logout", h.Logout)

			r.Route("/locations", func(r chi.Router) {
				r.Get("/", h.ListUserLocations)
				r.Post("/", h.SaveLocation)
				r.Get("/search", h.SearchLocations)
				r.Get("/nearby-alerts", h.NearbyAlerts)
				r.Post("/instagram", h.SaveInstagramLocations)
				r.Get("/{id}", h.GetLocation)
				r.Put("/{id}", h.UpdateWithOptimisticLock)
				r.Patch("/{id}", h.UpdateLocation)
				r.Delete("/{id}", h.DeleteLocation)
			})
			r.Delete("/user-locations/{locationId}", h.DeleteUserLocation)

			r.Route("/local", func(r chi.Router) {
				r.Post("/locations", h.CreateLocalLocation)
				r.Patch("/locations/{id}", h.UpdateLocalLocation)
				r.Delete("/locations/{id}", h.DeleteLocalLocation)
				r.Get("/user-locations", h.ListLocalUserLocations)
				r.Get("/user-locations/favorites", h.ListLocalFavorites)
				r.Put("/user-locations/{locationId}", h.SaveLocalUserLocation)
				r.Delete("/user-locations/{locationId}", h.DeleteLocalUserLocation)
			})

			r.Route("/sync", func(r chi.Router) {
				r.Post("/push", h.Push)
				r.Post("/pull", h.Pull)
				r.Post("/resolve", h.Resolve)
				r.Post("/full", h.FullSync)
			})
		})
	})

	return router
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}
