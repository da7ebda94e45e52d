package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/crypto/envelope"
	"github.com/chatsvc/internal/logger"
)

// successEnvelope is the wire shape of every successful response before
// encryption.
type successEnvelope struct {
	StatusCode int    `json:"status_code"`
	Data       any    `json:"data"`
	Message    string `json:"message,omitempty"`
	Metadata   any    `json:"metadata,omitempty"`
	TimeStamp  string `json:"time_stamp"`
}

// errorEnvelope is the wire shape of every failed response before
// encryption. Its field casing differs from successEnvelope on purpose;
// clients match on it.
type errorEnvelope struct {
	StatusCode int      `json:"statusCode"`
	Errors     []string `json:"errors"`
	Path       string   `json:"path"`
	Method     string   `json:"method"`
	TimeStamp  string   `json:"time_stamp"`
}

// Responder formats every HTTP response and seals it in the transport
// envelope. Handlers never write bodies themselves.
type Responder struct {
	codec *envelope.Codec
}

func NewResponder(codec *envelope.Codec) *Responder {
	return &Responder{codec: codec}
}

// WriteData sends an encrypted success envelope.
func (rs *Responder) WriteData(w http.ResponseWriter, r *http.Request, status int, data any) {
	rs.write(w, r, status, successEnvelope{
		StatusCode: status,
		Data:       data,
		TimeStamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteMessage sends an encrypted success envelope with a human-readable
// message alongside the data.
func (rs *Responder) WriteMessage(w http.ResponseWriter, r *http.Request, status int, data any, message string) {
	rs.write(w, r, status, successEnvelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		TimeStamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteError sends an encrypted error envelope. Unclassified errors are
// logged and masked as 500.
func (rs *Responder) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("http %s %s: %v", r.Method, r.URL.Path, err)
	}
	rs.write(w, r, status, errorEnvelope{
		StatusCode: status,
		Errors:     []string{apperr.MessageOf(err)},
		Path:       r.URL.Path,
		Method:     r.Method,
		TimeStamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func (rs *Responder) write(w http.ResponseWriter, r *http.Request, status int, body any) {
	opaque, err := rs.codec.Encrypt(body)
	if err != nil {
		logger.Errorf("encrypt response %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(opaque); err != nil {
		logger.Errorf("write response %s %s: %v", r.Method, r.URL.Path, err)
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.BadRequest("invalid body", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
