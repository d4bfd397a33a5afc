package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/magent/internal/middleware"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
	"github.com/xxxsen/magent/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserIDKey)
}

func getCompanyID(c *gin.Context) string {
	return c.GetString(middleware.ContextCompanyIDKey)
}

const extractionFallbackNotice = "the document could not be processed, please upload a text-based copy"

// statusOf maps an error to its HTTP status and the message shown to the
// caller. Provider and internal messages are never exposed, and extraction
// failures show their notice while the reason stays in the logs.
func statusOf(err error) (int, string) {
	var extraction *appErr.ExtractionError
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &extraction):
		if extraction.Notice == "" {
			return http.StatusBadRequest, extractionFallbackNotice
		}
		return http.StatusBadRequest, extraction.Notice
	case errors.Is(err, appErr.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, appErr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, appErr.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, appErr.ErrConflict):
		return http.StatusConflict, "conflict"
	case appErr.IsModelProvider(err):
		return http.StatusInternalServerError, "model provider unavailable"
	case appErr.IsEmbeddingProvider(err):
		return http.StatusInternalServerError, "embedding provider unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	status, msg := reportError(c, err)
	response.Error(c, status, msg)
}

func reportError(c *gin.Context, err error) (int, string) {
	status, msg := statusOf(err)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Int("status", status),
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.Error(err))
	}
	return status, msg
}

// resolveTenant checks body supplied ids against the token claims. Claims
// win; a mismatch is forbidden.
func resolveTenant(c *gin.Context, userID, companyID string) (string, string, error) {
	claimUser, claimCompany := getUserID(c), getCompanyID(c)
	if userID != "" && claimUser != "" && userID != claimUser {
		return "", "", appErr.ErrForbidden
	}
	if companyID != "" && claimCompany != "" && companyID != claimCompany {
		return "", "", appErr.ErrForbidden
	}
	if claimUser != "" {
		userID = claimUser
	}
	if claimCompany != "" {
		companyID = claimCompany
	}
	return userID, companyID, nil
}
