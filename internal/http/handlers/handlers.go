// Package handlers provides the HTTP API handlers for recarr. Every
// operation under /api/v1 acts on behalf of the authenticated user; the
// auth middleware puts the user into the request context.
package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recarr/internal/http/middleware"
	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recerr"
)

// currentUser returns the authenticated user or a 401 error.
func currentUser(ctx context.Context) (*models.User, error) {
	user := middleware.UserFrom(ctx)
	if user == nil {
		return nil, huma.Error401Unauthorized("authentication required")
	}
	return user, nil
}

// apiError maps a classified error onto an HTTP status. A tenant
// mismatch surfaces as not-found; unclassified failures surface with an
// opaque message so internals never leak.
func apiError(err error, msg string) error {
	switch recerr.KindOf(err) {
	case recerr.KindNotFound:
		return huma.Error404NotFound(err.Error())
	case recerr.KindQuotaExceeded:
		return huma.Error429TooManyRequests(err.Error())
	case recerr.KindAdmission:
		return huma.Error409Conflict(err.Error())
	case recerr.KindAuthExpired:
		return huma.Error502BadGateway(err.Error())
	case recerr.KindTransient:
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error500InternalServerError(msg)
	}
}

// daysToDuration converts a retention window in days to a duration.
func daysToDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// parseULID parses a path id, mapping failures to 400.
func parseULID(raw string) (models.ULID, error) {
	id, err := models.ParseULID(raw)
	if err != nil {
		return models.ULID{}, huma.Error400BadRequest("invalid ID format", err)
	}
	return id, nil
}
