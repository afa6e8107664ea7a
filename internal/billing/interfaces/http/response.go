package billinghttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	billing "pharmacy-billing/internal/billing/domain"
)

type errorBody struct {
	Error string `json:"error"`
}

// StatusFor maps a wire error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case billing.CodeBadRequest:
		return http.StatusBadRequest
	case billing.CodeSubscriptionNotFound, billing.CodeCycleNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := billing.ErrorCode(err)
	writeJSON(w, StatusFor(code), errorBody{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}
