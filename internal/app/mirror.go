package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/fsutil"
)

// mirrorFunc returns the remote-layer initializer: it copies every project
// file into the store's remote layer. Returns nil when no project root is
// configured, in which case the remote layer starts empty and is populated
// by fetches only. The compiler runs this at most once, behind the store's
// gate.
func (a *App) mirrorFunc() func(context.Context) error {
	if a.cfg.ProjectRoot == "" {
		return nil
	}

	root := a.cfg.ProjectRoot
	return func(ctx context.Context) error {
		logger := ctxlog.FromContext(ctx)
		logger.Info("Mirroring project into the file store.", "project_root", root)

		files, err := fsutil.ListFiles(root, a.cfg.PackagesRoot)
		if err != nil {
			return fmt.Errorf("failed to enumerate project files under %s: %w", root, err)
		}
		for _, rel := range files {
			content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return fmt.Errorf("failed to read project file %s: %w", rel, err)
			}
			a.store.WriteRemote(rel, content)
		}

		logger.Info("Project mirror complete.", "files", len(files))
		return nil
	}
}
