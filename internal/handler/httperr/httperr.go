// Package httperr maps domain errors onto HTTP responses.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zhouzirui/calma/backend/internal/model/chat"
	"github.com/zhouzirui/calma/backend/internal/model/risk"
	chatservice "github.com/zhouzirui/calma/backend/internal/service/chat"
	"github.com/zhouzirui/calma/backend/pkg/utils"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, chatservice.ErrIdentityRequired):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatservice.ErrNoTurns),
		errors.Is(err, chatservice.ErrUserTextRequired),
		errors.Is(err, chat.ErrInvalidTurn),
		errors.Is(err, chat.ErrUserRequired),
		errors.Is(err, risk.ErrInvalidAlert):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as {"error": msg}. Internal errors are not echoed.
func Respond(w http.ResponseWriter, err error) {
	status := Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	utils.RespondError(w, status, msg)
}

// Validation turns validator errors into one readable message.
func Validation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
