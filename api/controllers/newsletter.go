package controllers

import (
	"net/http"

	"github.com/velora-commerce/storefront-backend/api/responses"
	"github.com/velora-commerce/storefront-backend/api/validators"
	newslettersvc "github.com/velora-commerce/storefront-backend/internal/newsletter"
	pkgerrors "github.com/velora-commerce/storefront-backend/pkg/errors"
	"github.com/velora-commerce/storefront-backend/pkg/logger"
)

type newsletterRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func NewsletterSubscribe(svc newslettersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "newsletter service unavailable"))
			return
		}

		var payload newsletterRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Subscribe(r.Context(), payload.Email); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]string{"status": "subscribed"})
	}
}

func NewsletterUnsubscribe(svc newslettersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "newsletter service unavailable"))
			return
		}

		var payload newsletterRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Unsubscribe(r.Context(), payload.Email); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "unsubscribed"})
	}
}
