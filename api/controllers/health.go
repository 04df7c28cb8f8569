package controllers

import (
	"net/http"

	"github.com/velora-commerce/storefront-backend/api/responses"
	"github.com/velora-commerce/storefront-backend/pkg/config"
	"github.com/velora-commerce/storefront-backend/pkg/db"
	pkgerrors "github.com/velora-commerce/storefront-backend/pkg/errors"
	"github.com/velora-commerce/storefront-backend/pkg/logger"
	pkgredis "github.com/velora-commerce/storefront-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storefront-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady checks the database and cache before reporting ready.
func HealthReady(cfg *config.Config, database *db.Client, cache pkgredis.Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storefront-Env", cfg.App.Env)

		if database != nil {
			if err := database.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
				return
			}
		}
		if cache != nil {
			if err := cache.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cache unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
