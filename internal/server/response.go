package server

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/recoguard/recoguard/internal/pkg/errors"
	"github.com/recoguard/recoguard/internal/pkg/logger"
)

const maxBodyBytes = 1 << 20

// ResponseMeta contains metadata for API responses.
type ResponseMeta struct {
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WrappedResponse wraps API responses with data and metadata.
type WrappedResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// writeJSON writes v inside the data/meta envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	id, _ := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(WrappedResponse{
		Data: v,
		Meta: ResponseMeta{
			RequestID: id,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// decodeJSON reads a bounded JSON body into v and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.InvalidInputError("request body too large or unreadable")
	}
	if len(body) == 0 {
		return errors.InvalidInputError("request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(errors.CodeInvalidInput, "malformed JSON body", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.ValidationError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
	}
	return errors.ValidationError(strings.Join(msgs, "; "))
}

// parseWindow reads a positive duration query parameter.
func parseWindow(r *http.Request, key string, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.ValidationError(fmt.Sprintf("%s must be a positive duration such as 30m or 24h", key)).
			WithDetail(key, raw)
	}
	return d, nil
}
