package service

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/InsulaLabs/skiff/eval"
	"github.com/InsulaLabs/skiff/lang"
	"github.com/InsulaLabs/skiff/models"
	"github.com/InsulaLabs/skiff/sexpr"
	"github.com/InsulaLabs/skiff/store"
)

/*
	Everything the core can report about a user's program maps onto the
	wire taxonomy here. Program faults are 422s: the request itself was
	well formed, the program wasn't. Unknown errors deliberately leave
	the service as a bare "internal error" so store and evaluator
	internals never reach clients.
*/

func classifyError(err error) (int, models.ErrorResponse) {

	var parseErr *sexpr.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusUnprocessableEntity, models.ErrorResponse{
			ErrorType: models.ErrorTypeSyntax,
			Message:   parseErr.Error(),
		}
	}

	var syntaxErr *lang.SyntaxError
	if errors.As(err, &syntaxErr) {
		return http.StatusUnprocessableEntity, models.ErrorResponse{
			ErrorType: models.ErrorTypeSyntax,
			Message:   syntaxErr.Error(),
		}
	}

	var unboundErr *eval.UnboundVariableError
	if errors.As(err, &unboundErr) {
		return http.StatusUnprocessableEntity, models.ErrorResponse{
			ErrorType: models.ErrorTypeUnbound,
			Message:   unboundErr.Error(),
		}
	}

	var applicationErr *eval.ApplicationError
	if errors.As(err, &applicationErr) {
		return http.StatusUnprocessableEntity, models.ErrorResponse{
			ErrorType: models.ErrorTypeApplication,
			Message:   applicationErr.Error(),
		}
	}

	var arithmeticErr *eval.ArithmeticError
	if errors.As(err, &arithmeticErr) {
		return http.StatusUnprocessableEntity, models.ErrorResponse{
			ErrorType: models.ErrorTypeArithmetic,
			Message:   arithmeticErr.Error(),
		}
	}

	var notFoundErr *store.ErrSnippetNotFound
	if errors.As(err, &notFoundErr) {
		return http.StatusNotFound, models.ErrorResponse{
			ErrorType: models.ErrorTypeNotFound,
			Message:   notFoundErr.Error(),
		}
	}

	return http.StatusInternalServerError, models.ErrorResponse{
		ErrorType: models.ErrorTypeInternal,
		Message:   "internal error",
	}
}

func writeError(w http.ResponseWriter, status int, errorType string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		ErrorType: errorType,
		Message:   message,
	})
}

func (s *Service) respondError(w http.ResponseWriter, err error) {
	status, rsp := classifyError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Internal error serving request", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		s.logger.Error("Could not encode error response", "error", err)
	}
}
