package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/views"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// respondError maps the error taxonomy onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var (
		validationErr *apperrors.ValidationError
		authErr       *apperrors.AuthError
		orphanErr     *apperrors.OrphanedIdentityError
		retrievalErr  *apperrors.RetrievalError
		mutationErr   *apperrors.MutationError
	)
	code := apperrors.CodeOf(err)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, errorPayload{Error: "invalid_input", Code: code, Field: validationErr.Field, Message: validationErr.Reason})
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Code: code, Message: authErr.Message})
	case errors.Is(err, apperrors.ErrForbidden), errors.Is(err, views.ErrNotAdmissible), errors.Is(err, views.ErrNoTransition):
		c.JSON(http.StatusForbidden, errorPayload{Error: "forbidden", Message: err.Error()})
	case errors.Is(err, views.ErrMissingOperator), errors.Is(err, views.ErrUnknownView):
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, errorPayload{Error: "not_found"})
	case errors.Is(err, apperrors.ErrConfirmationRequired):
		c.JSON(http.StatusPreconditionRequired, errorPayload{Error: "confirmation_required", Message: "repeat the request with confirm=true"})
	case errors.As(err, &orphanErr):
		h.logger.Error("orphaned identity requires manual cleanup", zap.String("identity_id", orphanErr.IdentityID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "orphaned_identity", Code: code})
	case errors.As(err, &retrievalErr):
		c.JSON(http.StatusBadGateway, errorPayload{Error: "retrieval_failed", Code: code})
	case errors.As(err, &mutationErr):
		c.JSON(http.StatusBadGateway, errorPayload{Error: "mutation_failed", Code: code})
	default:
		h.logger.Error("unhandled request error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "internal_error"})
	}
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request"})
}
