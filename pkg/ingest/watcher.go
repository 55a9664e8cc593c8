// Package ingest watches a local drop directory and publishes files that
// land in it: the file goes to object storage and a draft library record
// is registered for an admin to review. The drop directory has one
// subdirectory per library kind (documents, training_materials,
// marketing_assets).
package ingest

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spectraline/partner-portal/pkg/observability"
	"github.com/spectraline/partner-portal/pkg/portal"
)

// Uploader stores a file in object storage
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// Registrar records the uploaded file as a draft library item
type Registrar interface {
	Create(ctx context.Context, kind portal.LibraryKind, scope portal.Scope, item *portal.Item) error
}

// Watcher publishes files dropped into the watch directory
type Watcher struct {
	dir    string
	files  Uploader
	items  Registrar
	logger *observability.Logger

	// settle is how long a file must stay unchanged before it is picked
	// up, so half-written copies are not published.
	settle time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates the drop-directory watcher. The kind subdirectories
// are created if missing so the watch points exist.
func NewWatcher(dir string, files Uploader, items Registrar, logger *observability.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		dir:     dir,
		files:   files,
		items:   items,
		logger:  logger,
		settle:  2 * time.Second,
		watcher: fsw,
		done:    make(chan struct{}),
	}

	for kind := range kindDirs {
		sub := filepath.Join(dir, string(kind))
		if err := os.MkdirAll(sub, 0755); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to create %s: %w", sub, err)
		}
		if err := fsw.Add(sub); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", sub, err)
		}
	}
	return w, nil
}

var kindDirs = map[portal.LibraryKind]struct{}{
	portal.KindDocuments:         {},
	portal.KindTrainingMaterials: {},
	portal.KindMarketingAssets:   {},
}

// Start processes events until the context is canceled. Existing files in
// the drop directories are published first.
func (w *Watcher) Start(ctx context.Context) {
	w.scanExisting(ctx)

	go func() {
		defer close(w.done)
		pending := make(map[string]time.Time)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					pending[event.Name] = time.Now()
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.WithError(err).Warn("watch error")
			case now := <-ticker.C:
				for path, touched := range pending {
					if now.Sub(touched) < w.settle {
						continue
					}
					delete(pending, path)
					w.publish(ctx, path)
				}
			}
		}
	}()
}

// Close stops the watcher and waits for the event loop to drain
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) scanExisting(ctx context.Context) {
	for kind := range kindDirs {
		sub := filepath.Join(w.dir, string(kind))
		entries, err := os.ReadDir(sub)
		if err != nil {
			w.logger.WithError(err).WithField("dir", sub).Warn("failed to scan drop directory")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			w.publish(ctx, filepath.Join(sub, entry.Name()))
		}
	}
}

// publish uploads one dropped file and registers its draft record. The
// local file is removed only after both steps succeeded, so a failed
// publish is retried on the next restart.
func (w *Watcher) publish(ctx context.Context, path string) {
	defer observability.RecoverPanic(w.logger, "publish dropped file")

	kind, ok := w.kindOf(path)
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.WithError(err).WithField("path", path).Warn("failed to read dropped file")
		return
	}

	name := filepath.Base(path)
	ext := filepath.Ext(name)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("%s/%d-%s", kind, time.Now().UnixNano(), name)
	if err := w.files.Upload(ctx, key, data, contentType); err != nil {
		w.logger.WithError(err).WithField("path", path).Error("upload failed")
		return
	}

	item := &portal.Item{
		Title:   strings.TrimSuffix(name, ext),
		Format:  strings.TrimPrefix(ext, "."),
		Status:  portal.StatusDraft,
		FileKey: key,
	}
	if err := w.items.Create(ctx, kind, portal.Scope{Admin: true, UserID: "ingest"}, item); err != nil {
		w.logger.WithError(err).WithField("path", path).Error("failed to register library item")
		return
	}

	if err := os.Remove(path); err != nil {
		w.logger.WithError(err).WithField("path", path).Warn("failed to remove published file")
	}

	w.logger.WithFields(map[string]interface{}{
		"kind":  string(kind),
		"title": item.Title,
		"key":   key,
	}).Info("published dropped file as draft")
}

// kindOf maps the file's parent directory to a library kind
func (w *Watcher) kindOf(path string) (portal.LibraryKind, bool) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 {
		return "", false
	}
	kind := portal.LibraryKind(parts[0])
	_, ok := kindDirs[kind]
	return kind, ok
}
