package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/identity"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// failFromService maps a service error onto the response envelope. Unknown
// errors are attached to the context for the request logger and reported as
// internal.
func failFromService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrQuizNotFound), errors.Is(err, service.ErrSubmissionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrQuizInactive):
		response.Fail(c, http.StatusConflict, response.ErrQuizInactive)
	case errors.Is(err, service.ErrSubmissionInProgress):
		response.Fail(c, http.StatusConflict, response.ErrSubmissionInProgress)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
	case errors.Is(err, service.ErrAnswersMismatch):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrAnswersMismatch)
	case errors.Is(err, service.ErrUnknownQuestion), errors.Is(err, service.ErrInvalidQuestion):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"questions": err.Error()})
	default:
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// principal fetches the verified principal or writes a 401.
func principal(c *gin.Context) (identity.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
	}
	return p, ok
}

// paramID parses a uuid path parameter or writes a 400.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
