package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatsvc/internal/apperr"
	"github.com/chatsvc/internal/crypto/envelope"
	"github.com/chatsvc/internal/logger"
	"github.com/chatsvc/internal/model"
)

const remoteTimeout = 10 * time.Second

// RemoteVerifier validates tokens against the identity provider. The token
// is passed through unchanged and the provider answers with the principal
// inside an encrypted transport envelope.
type RemoteVerifier struct {
	baseURL string
	client  *http.Client
	codec   *envelope.Codec
}

func NewRemoteVerifier(baseURL string, codec *envelope.Codec) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: remoteTimeout},
		codec:   codec,
	}
}

type remotePrincipal struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
	Status    string `json:"status"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*model.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/validate", nil)
	if err != nil {
		return nil, fmt.Errorf("auth.RemoteVerifier: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, apperr.Unauthorized("could not validate credentials", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Unauthorized("could not validate credentials", err)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Infof("auth validate rejected: status=%d", resp.StatusCode)
		return nil, apperr.Unauthorized("invalid or expired token", nil)
	}

	var wire struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || wire.Data == "" {
		return nil, apperr.Unauthorized("malformed identity response", err)
	}
	var principal remotePrincipal
	if err := v.codec.Decrypt(wire.Data, &principal); err != nil {
		return nil, apperr.Unauthorized("malformed identity response", err)
	}
	if principal.ID == "" || principal.Email == "" {
		return nil, apperr.Unauthorized("incomplete principal", nil)
	}
	return &model.User{
		ID:        principal.ID,
		FirstName: principal.FirstName,
		LastName:  principal.LastName,
		Email:     principal.Email,
		AvatarURL: principal.AvatarURL,
		Status:    model.UserStatus(principal.Status),
	}, nil
}
