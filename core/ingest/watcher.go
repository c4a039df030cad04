// Package ingest watches a directory tree and feeds plain-text files
// into the job pipeline as agent-owned memories. Format-specific parsers
// and chunkers are external; this watcher only handles text it can read
// directly.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/cuemap-dev/cuemap/core/jobs"
)

// Watcher defaults.
const (
	DefaultDebounce = 2 * time.Second
	maxFileBytes    = 1 << 20

	chunkMaxRunes = 2000
)

// textExtensions the watcher will read directly.
var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".rst": {}, ".log": {}, ".csv": {},
}

// Watcher tails one directory tree for one tenant.
type Watcher struct {
	tenant   string
	root     string
	pipeline *jobs.Pipeline
	log      *slog.Logger
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher rooted at dir for the given tenant.
func New(tenant, dir string, pipeline *jobs.Pipeline, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		tenant:   tenant,
		root:     dir,
		pipeline: pipeline,
		log:      logger.With("tenant", tenant, "root", dir),
		debounce: DefaultDebounce,
		fsw:      fsw,
		pending:  make(map[string]*time.Timer),
	}
	if err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	}); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes filesystem events until ctx is done. Writes are
// debounced so editors saving in bursts ingest once.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// SyncOnce ingests every matching file under the root, without watching.
// Used by serve at startup to pick up files already present.
func (w *Watcher) SyncOnce(ctx context.Context) int {
	n := 0
	filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.ingestFile(ctx, path) {
			n++
		}
		return nil
	})
	return n
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.fsw.Add(event.Name)
			return
		}
		w.schedule(ctx, event.Name)
	case event.Op.Has(fsnotify.Write):
		w.schedule(ctx, event.Name)
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		// All of the file's memories are stale now.
		w.pipeline.TryEnqueue(jobs.Job{
			Kind:     jobs.KindVerifyFile,
			Tenant:   w.tenant,
			FilePath: w.relPath(event.Name),
		})
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	if !ingestible(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingestFile(ctx, path)
	})
}

func (w *Watcher) ingestFile(ctx context.Context, path string) bool {
	if !ingestible(path) {
		return false
	}
	raw, err := os.ReadFile(path)
	if err != nil || len(raw) == 0 || len(raw) > maxFileBytes {
		return false
	}

	rel := w.relPath(path)
	chunks := splitChunks(string(raw))
	validIDs := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		id := ChunkID(rel, i)
		validIDs = append(validIDs, id)
		err := w.pipeline.Enqueue(ctx, jobs.Job{
			Kind:     jobs.KindExtractAndIngest,
			Tenant:   w.tenant,
			MemoryID: id,
			Content:  chunk,
			FilePath: rel,
		})
		if err != nil {
			return false
		}
	}
	w.pipeline.TryEnqueue(jobs.Job{
		Kind:     jobs.KindVerifyFile,
		Tenant:   w.tenant,
		FilePath: rel,
		ValidIDs: validIDs,
	})
	return len(validIDs) > 0
}

func (w *Watcher) relPath(path string) string {
	if rel, err := filepath.Rel(w.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

// ChunkID derives the deterministic agent-owned memory ID for one chunk
// of one file, so re-ingesting converges instead of duplicating.
func ChunkID(relPath string, chunk int) string {
	u := uuid.NewSHA1(uuid.NameSpaceURL, []byte(relPath+"#"+strconv.Itoa(chunk)))
	return "file:" + u.String()
}

func ingestible(path string) bool {
	_, ok := textExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// splitChunks breaks text on blank lines, merging pieces up to the rune
// cap so one paragraph run becomes one memory.
func splitChunks(text string) []string {
	paras := strings.Split(text, "\n\n")
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	for _, p := range paras {
		if cur.Len() > 0 && len([]rune(cur.String()))+len([]rune(p)) > chunkMaxRunes {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()
	return chunks
}
