package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"github.com/jmerrifield20/photogallery/internal/photos"
	"go.uber.org/zap"
)

// msgInvalidLogin is the single message for every failed password login.
const msgInvalidLogin = "invalid email or password"

// clientErrors are domain errors whose text is safe to show, checked in order.
var clientErrors = []struct {
	target error
	status int
}{
	{accounts.ErrMissingStudentID, http.StatusBadRequest},
	{accounts.ErrMissingField, http.StatusBadRequest},
	{accounts.ErrValidation, http.StatusBadRequest},
	{accounts.ErrUnknownMethod, http.StatusBadRequest},
	{accounts.ErrDuplicateEmail, http.StatusBadRequest},
	{accounts.ErrAlreadyLinked, http.StatusBadRequest},
	{accounts.ErrAlreadyHasPassword, http.StatusBadRequest},
	{accounts.ErrLastAuthMethod, http.StatusBadRequest},
	{accounts.ErrInvalidOrExpiredToken, http.StatusBadRequest},
	{accounts.ErrAccountNotFound, http.StatusNotFound},
	{accounts.ErrMethodNotLinked, http.StatusNotFound},
	{photos.ErrTooLarge, http.StatusRequestEntityTooLarge},
	{photos.ErrUnsupportedType, http.StatusUnsupportedMediaType},
	{photos.ErrMissingTitle, http.StatusBadRequest},
	{photos.ErrEmptyFile, http.StatusBadRequest},
}

// errorStatus maps a domain error to an HTTP status and client message.
// ok is false for errors with no client-facing meaning.
func errorStatus(err error) (status int, msg string, ok bool) {
	switch {
	case errors.Is(err, accounts.ErrInvalidCredentials),
		errors.Is(err, accounts.ErrNoLocalMethod):
		return http.StatusBadRequest, msgInvalidLogin, true
	case errors.Is(err, photos.ErrNotFound):
		return http.StatusNotFound, "photo not found", true
	case errors.Is(err, photos.ErrForbidden):
		return http.StatusForbidden, "only the owner or an admin may do that", true
	case errors.Is(err, photos.ErrUploadNotAllowed):
		return http.StatusForbidden, "only photographers and admins may upload photos", true
	}

	for _, ce := range clientErrors {
		if errors.Is(err, ce.target) {
			return ce.status, fromSentinel(err, ce.target), true
		}
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, "request body too large", true
	}
	return http.StatusInternalServerError, "internal server error", false
}

// fromSentinel drops the operation prefixes wrapped around target, keeping
// target's text and any detail appended after it.
func fromSentinel(err, target error) string {
	msg, want := err.Error(), target.Error()
	if i := strings.Index(msg, want); i >= 0 {
		return msg[i:]
	}
	return want
}

// respondError writes the mapped error. Unmapped errors are logged with
// the operation name and answered with a generic 500.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, msg, ok := errorStatus(err)
	if !ok {
		logger.Error(op,
			zap.Error(err),
			zap.String("request_id", RequestIDFromCtx(c)),
		)
	}
	c.JSON(status, gin.H{"message": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"message": msg})
}
