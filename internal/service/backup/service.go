// Package backup exports every stored session to an NDJSON file and then
// removes the exported sessions from the database.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ulink/backend/internal/store"
)

// Result summarises one export run.
type Result struct {
	File     string    `json:"file"`
	Exported int       `json:"exported"`
	Deleted  int64     `json:"deleted"`
	At       time.Time `json:"at"`
}

// Service runs exports. Runs are serialized.
type Service struct {
	mu   sync.Mutex
	repo store.Repository
	dir  string
	now  func() time.Time
}

// NewService writes backups under dir.
func NewService(repo store.Repository, dir string) *Service {
	if dir == "" {
		dir = "backups"
	}
	return &Service{repo: repo, dir: dir, now: func() time.Time { return time.Now().UTC() }}
}

// ExportAll writes all sessions, one JSON record per line, and deletes them
// once the file is safely on disk. An empty database writes no file.
func (s *Service) ExportAll(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	sessions, err := s.repo.ListAllSessions(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "list sessions")
	}
	if len(sessions) == 0 {
		return Result{At: at}, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Result{}, errors.Wrap(err, "create backup directory")
	}
	name := filepath.Join(s.dir, fmt.Sprintf("chats-%s.ndjson", at.Format("20060102T150405Z")))
	tmp := name + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return Result{}, errors.Wrap(err, "create backup file")
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	ids := make([]string, 0, len(sessions))
	for _, session := range sessions {
		if err := enc.Encode(session.Record()); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return Result{}, errors.Wrap(err, "encode session")
		}
		ids = append(ids, session.ID)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Result{}, errors.Wrap(err, "flush backup")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Result{}, errors.Wrap(err, "sync backup")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Result{}, errors.Wrap(err, "close backup")
	}
	if err := os.Rename(tmp, name); err != nil {
		return Result{}, errors.Wrap(err, "finalize backup")
	}

	deleted, err := s.repo.DeleteSessions(ctx, ids)
	if err != nil {
		return Result{}, errors.Wrap(err, "delete exported sessions")
	}

	res := Result{File: name, Exported: len(ids), Deleted: deleted, At: at}
	log.Info().Str("file", name).Int("exported", res.Exported).Int64("deleted", deleted).Msg("chat backup written")
	return res, nil
}
