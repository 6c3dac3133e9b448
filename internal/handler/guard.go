package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pm-embed/internal/auth"
)

const adminKeyHeader = "x-admin-key"

// allowed maps gate failures to status codes and reports whether the
// request may proceed.
func allowed(c *gin.Context, err error, missing string) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, auth.ErrNotConfigured):
		writeError(c, http.StatusInternalServerError, missing)
	default:
		writeError(c, http.StatusUnauthorized, "Unauthorized")
	}
	return false
}

func requireAdmin(c *gin.Context, gate *auth.Gate) bool {
	return allowed(c, gate.AuthorizeAdmin(c.GetHeader(adminKeyHeader)), "Missing ADMIN_API_KEY")
}
