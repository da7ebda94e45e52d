package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/crypto/envelope"
	"github.com/chatsvc/internal/logger"
)

const maxBodySize = 1 << 20

// DecryptEnvelope unwraps the encrypted transport envelope on incoming
// requests. A JSON body carrying a "data" member is replaced with the
// decrypted payload; a "data" query parameter is expanded into individual
// parameters. A tampered body rejects the request, a tampered query
// parameter is logged and dropped so the request proceeds without it.
func DecryptEnvelope(codec *envelope.Codec, errs ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opaque := r.URL.Query().Get("data"); opaque != "" {
				params := map[string]string{}
				if err := codec.Decrypt(opaque, &params); err != nil {
					logger.Errorf("envelope query %s %s: %v", r.Method, r.URL.Path, err)
				} else {
					q := r.URL.Query()
					q.Del("data")
					for k, v := range params {
						q.Set(k, v)
					}
					r.URL.RawQuery = q.Encode()
				}
			}

			if r.Body != nil && r.Body != http.NoBody {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
				if err != nil {
					errs.WriteError(w, r, apperr.BadRequest("could not read request body", err))
					return
				}
				if len(bytes.TrimSpace(body)) > 0 {
					var wire struct {
						Data *string `json:"data"`
					}
					if err := json.Unmarshal(body, &wire); err != nil {
						errs.WriteError(w, r, apperr.BadRequest("malformed request body", err))
						return
					}
					if wire.Data == nil {
						errs.WriteError(w, r, apperr.Decryption(nil))
						return
					}
					var plain json.RawMessage
					if err := codec.Decrypt(*wire.Data, &plain); err != nil {
						errs.WriteError(w, r, apperr.Decryption(err))
						return
					}
					body = plain
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				r.ContentLength = int64(len(body))
			}
			next.ServeHTTP(w, r)
		})
	}
}
