package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/CZERTAINLY/Recon/internal/metrics"
)

// Cleanup removes the working folder of the active session. It is safe to
// call more than once, the session is consumed by the first call.
type Cleanup struct {
	baseDir string
	store   SessionStore
}

func NewCleanup(baseDir string, store SessionStore) *Cleanup {
	return &Cleanup{baseDir: baseDir, store: store}
}

// Do removes the folder of the active session, if any. Removal is confined
// to the base directory.
func (c *Cleanup) Do(ctx context.Context) error {
	session, ok := c.store.Take()
	if !ok {
		slog.DebugContext(ctx, "cleanup: no active session")
		return nil
	}
	metrics.SessionActive.Set(0)

	root, err := os.OpenRoot(c.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening base dir: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	if _, err := root.Stat(session.Folder); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.DebugContext(ctx, "cleanup: folder already absent", "folder", session.Dir(c.baseDir))
			return nil
		}
		return fmt.Errorf("checking %s: %w", session.Folder, err)
	}

	slog.InfoContext(ctx, "cleaning up", "domain", session.Domain, "folder", session.Dir(c.baseDir))
	if err := root.RemoveAll(session.Folder); err != nil {
		return fmt.Errorf("removing %s: %w", session.Folder, err)
	}
	return nil
}
