package httpx

import (
	"errors"
	"net/http"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

type errorPayload struct {
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Fields    []orders.FieldError `json:"fields,omitempty"`
	Shortages []orders.Shortage   `json:"shortages,omitempty"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

var kindStatus = map[orders.Kind]int{
	orders.KindValidation:  http.StatusUnprocessableEntity,
	orders.KindInventory:   http.StatusConflict,
	orders.KindState:       http.StatusConflict,
	orders.KindConflict:    http.StatusConflict,
	orders.KindNotFound:    http.StatusNotFound,
	orders.KindConcurrency: http.StatusServiceUnavailable,
	orders.KindSystem:      http.StatusInternalServerError,
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := orders.AsError(err)
	if !ok {
		e = &orders.Error{Kind: orders.KindSystem, Code: orders.CodeSystemError, Message: "internal error", Err: err}
	}
	status, ok := kindStatus[e.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := errorPayload{Code: e.Code, Message: e.Message, Fields: e.Fields, Shortages: e.Shortages}
	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{"component": "http", "path": r.URL.Path, "code": e.Code}).WithError(err).Error("request failed")
		if e.Kind == orders.KindSystem {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, errorBody{Error: body})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorPayload{Code: "BAD_REQUEST", Message: msg}})
}

// requestError turns ozzo field errors into a validation error.
func requestError(err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return orders.NewValidation([]orders.FieldError{{Field: "body", Code: orders.CodeValidationFailed, Message: err.Error()}})
	}
	names := make([]string, 0, len(verrs))
	for name := range verrs {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]orders.FieldError, 0, len(names))
	for _, name := range names {
		fields = append(fields, orders.FieldError{Field: name, Code: orders.CodeValidationFailed, Message: verrs[name].Error()})
	}
	return orders.NewValidation(fields)
}
