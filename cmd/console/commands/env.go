package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/ulink/backend/internal/client"
	"github.com/zhouzirui/ulink/backend/internal/console"
	"github.com/zhouzirui/ulink/backend/internal/kvstore"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
	"github.com/zhouzirui/ulink/backend/internal/webhook"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ulink", "console.db")
	}
	return filepath.Join(home, ".ulink", "console.db")
}

// env is everything a command needs, opened from the persistent flags.
type env struct {
	blobs      *kvstore.SQLiteStore
	client     *client.Client
	registry   *assistant.MemoryStore
	creds      console.Credentials
	labels     assistant.Labels
	manager    *console.Manager
	dispatcher *console.Dispatcher
}

// openEnv opens the cache and registry. With requireAuth it also loads the
// stored token and fails when the user has not logged in.
func openEnv(cmd *cobra.Command, requireAuth bool) (*env, error) {
	ctx := cmd.Context()
	flags := cmd.Flags()
	serverURL, _ := flags.GetString("server")
	cachePath, _ := flags.GetString("cache")
	registryFile, _ := flags.GetString("assistants")

	items := assistant.Seed()
	if registryFile != "" {
		loaded, err := assistant.LoadFile(registryFile)
		if err != nil {
			return nil, err
		}
		items = loaded
	}
	registry := assistant.NewMemoryStore(assistant.Enabled(items))

	api, err := client.New(serverURL, nil)
	if err != nil {
		return nil, err
	}

	blobs, err := kvstore.NewSQLite(cachePath)
	if err != nil {
		return nil, err
	}
	e := &env{blobs: blobs, client: api, registry: registry}

	if err := e.init(ctx, requireAuth); err != nil {
		_ = blobs.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) init(ctx context.Context, requireAuth bool) error {
	creds, err := console.LoadCredentials(ctx, e.blobs)
	switch {
	case err == nil:
		e.creds = creds
		e.client.SetToken(creds.Token)
	case errors.Is(err, console.ErrNotAuthenticated):
		if requireAuth {
			return errors.New("not logged in, run `ulink-console login` first")
		}
	default:
		return err
	}

	if e.labels, err = console.LoadLabels(ctx, e.blobs); err != nil {
		return err
	}

	cache := console.NewCache(e.blobs, console.CacheNamespace)
	e.manager, err = console.NewManager(console.Config{
		Assistants: e.registry,
		Cache:      cache,
		Backend:    e.client,
	})
	if err != nil {
		return err
	}
	if err := e.manager.Load(ctx); err != nil {
		return err
	}
	e.dispatcher = console.NewDispatcher(e.manager, webhook.NewClient(nil))
	return nil
}

func (e *env) Close() {
	_ = e.blobs.Close()
}

func (e *env) userID() string {
	return e.creds.User.ID
}

// name is the display name for key, honoring local overrides.
func (e *env) name(key string) string {
	return e.labels.Name(key, e.registry.List())
}

// withEnv runs fn with an opened env and closes it afterwards.
func withEnv(requireAuth bool, fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd, requireAuth)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd, e, args)
	}
}
