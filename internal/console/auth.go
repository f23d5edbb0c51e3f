package console

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/zhouzirui/ulink/backend/internal/kvstore"
	"github.com/zhouzirui/ulink/backend/internal/model/user"
)

const (
	tokenNamespace = "ulink.auth.token"
	userNamespace  = "ulink.auth.user"
)

// ErrNotAuthenticated is returned when no credentials are stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// Credentials is the signed-in console user.
type Credentials struct {
	Token string
	User  user.Profile
}

// SaveCredentials stores the bearer token and profile returned at login.
func SaveCredentials(ctx context.Context, blobs kvstore.Store, creds Credentials) error {
	if err := blobs.Put(ctx, tokenNamespace, []byte(creds.Token)); err != nil {
		return errors.Wrap(err, "save token")
	}
	data, err := json.Marshal(creds.User)
	if err != nil {
		return errors.Wrap(err, "encode profile")
	}
	return errors.Wrap(blobs.Put(ctx, userNamespace, data), "save profile")
}

// LoadCredentials returns the stored credentials or ErrNotAuthenticated.
func LoadCredentials(ctx context.Context, blobs kvstore.Store) (Credentials, error) {
	token, err := blobs.Get(ctx, tokenNamespace)
	if errors.Is(err, kvstore.ErrNotFound) || (err == nil && len(token) == 0) {
		return Credentials{}, ErrNotAuthenticated
	}
	if err != nil {
		return Credentials{}, errors.Wrap(err, "load token")
	}

	creds := Credentials{Token: string(token)}
	data, err := blobs.Get(ctx, userNamespace)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return Credentials{}, errors.Wrap(err, "load profile")
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &creds.User); err != nil {
			return Credentials{}, errors.Wrap(err, "decode profile")
		}
	}
	return creds, nil
}

// ClearCredentials signs out and drops every per-user namespace, including
// the session cache and assistant labels.
func ClearCredentials(ctx context.Context, blobs kvstore.Store) error {
	for _, key := range []string{tokenNamespace, userNamespace, CacheNamespace, LabelsNamespace} {
		if err := blobs.Delete(ctx, key); err != nil {
			return errors.Wrapf(err, "clear %s", key)
		}
	}
	return nil
}
