// Package loader ingests uploaded PDFs: it stores the file, extracts page
// text, chunks it and commits the finished document to the store, reporting
// progress through the job's event log.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ragstream/jobs"
	"ragstream/store"
	"ragstream/types"
)

const readyMessage = "Document ready to chat!"

// ErrNoText is reported for PDFs whose pages carry no extractable text,
// such as scans without an OCR layer.
var ErrNoText = errors.New("no extractable text (scanned or image-only PDF?)")

// ParseError reports an upload that is not a readable document.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not read %s as PDF: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Emitter is the write side of the job registry.
type Emitter interface {
	MarkRunning(id string) error
	Append(id string, ev types.Event) error
}

type Config struct {
	StorageDir   string
	ChunkSize    int
	ChunkOverlap int
}

// Upload is one file handed to the loader. Name must come from Reserve.
type Upload struct {
	Filename string // as sent by the client
	Name     string // safe stored name, becomes the document id
	Data     []byte
}

type Option func(*Loader)

func WithParser(p Parser) Option {
	return func(l *Loader) { l.parser = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

type Loader struct {
	cfg    Config
	store  store.DocumentStorer
	events Emitter
	parser Parser
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	reserved map[string]struct{}
}

func New(cfg Config, storer store.DocumentStorer, events Emitter, opts ...Option) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	l := &Loader{
		cfg:      cfg,
		store:    storer,
		events:   events,
		parser:   NewPDFParser(),
		logger:   slog.Default(),
		now:      time.Now,
		reserved: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path is where the file of document id lives.
func (l *Loader) Path(id string) string {
	return filepath.Join(l.cfg.StorageDir, filepath.Base(id))
}

// Reserve turns a client filename into a stored name that no stored file and
// no in-flight upload uses. The name is held until Ingest returns or Release
// is called.
func (l *Loader) Reserve(filename string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := uniqueName(SafeFilename(filename), func(n string) bool {
		if _, ok := l.reserved[n]; ok {
			return true
		}
		return fileExists(l.Path(n))
	})
	l.reserved[name] = struct{}{}
	return name
}

func (l *Loader) Release(name string) {
	l.mu.Lock()
	delete(l.reserved, name)
	l.mu.Unlock()
}

// errJobGone marks a failed append; the job was evicted under the worker.
var errJobGone = errors.New("job no longer accepts events")

// Ingest runs one upload job to completion and ends it with a done or an
// error event. A failed upload leaves neither a file nor a document behind.
func (l *Loader) Ingest(ctx context.Context, jobID string, up Upload) error {
	defer l.Release(up.Name)

	start := l.now()
	log := l.logger.With("job_id", jobID, "kind", jobs.KindUpload, "file", up.Name)

	if err := l.events.MarkRunning(jobID); err != nil {
		log.Error("failed to start upload", "error", err)
		return err
	}

	doc, err := l.safeIngest(ctx, jobID, up)
	switch {
	case err == nil:
	case errors.Is(err, errJobGone):
		log.Warn("upload abandoned", "error", err)
		return err
	default:
		log.Error("upload failed", "error", err, "took", l.now().Sub(start))
		if aerr := l.events.Append(jobID, types.Failure{Message: err.Error()}); aerr != nil {
			log.Error("failed to report failure", "error", aerr)
		}
		return err
	}

	done := types.Done{
		Message:  readyMessage,
		Filename: doc.ID,
		Pages:    doc.Pages,
		Chunks:   len(doc.Chunks),
	}
	if err := l.events.Append(jobID, done); err != nil {
		log.Error("failed to finish job", "error", err)
		return err
	}
	log.Info("document indexed", "pages", doc.Pages, "chunks", len(doc.Chunks), "took", l.now().Sub(start))
	return nil
}

func (l *Loader) safeIngest(ctx context.Context, jobID string, up Upload) (doc types.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upload panicked: %v", r)
		}
	}()
	return l.ingest(ctx, jobID, up)
}

func (l *Loader) progress(jobID, text string, percent int) error {
	if err := l.events.Append(jobID, types.Progress{Text: text, Percent: percent}); err != nil {
		return fmt.Errorf("%w: %w", errJobGone, err)
	}
	return nil
}

func (l *Loader) ingest(ctx context.Context, jobID string, up Upload) (types.Document, error) {
	if up.Name == "" {
		return types.Document{}, errors.New("upload has no stored name")
	}
	path := l.Path(up.Name)
	// the file is staged next to its final place and only renamed in once
	// the document is ready to commit
	partial := path + ".part"
	defer os.Remove(partial)

	if err := l.progress(jobID, "Saving file", 25); err != nil {
		return types.Document{}, err
	}
	if err := os.MkdirAll(l.cfg.StorageDir, 0o755); err != nil {
		return types.Document{}, fmt.Errorf("create storage dir: %w", err)
	}
	if err := os.WriteFile(partial, up.Data, 0o644); err != nil {
		return types.Document{}, fmt.Errorf("save file: %w", err)
	}

	if err := l.progress(jobID, "Extracting text", 50); err != nil {
		return types.Document{}, err
	}
	pages, err := l.parser.Parse(ctx, up.Data)
	if err != nil {
		if ctx.Err() != nil {
			return types.Document{}, fmt.Errorf("extract text: %w", err)
		}
		return types.Document{}, &ParseError{File: up.Name, Err: err}
	}
	if !hasText(pages) {
		return types.Document{}, &ParseError{File: up.Name, Err: ErrNoText}
	}

	if err := l.progress(jobID, fmt.Sprintf("Chunking %d pages", len(pages)), 75); err != nil {
		return types.Document{}, err
	}
	chunks := buildChunks(up.Name, pages, l.cfg.ChunkSize, l.cfg.ChunkOverlap)

	if err := l.progress(jobID, fmt.Sprintf("Indexing %d chunks", len(chunks)), 90); err != nil {
		return types.Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.Document{}, err
	}
	if err := os.Rename(partial, path); err != nil {
		return types.Document{}, fmt.Errorf("store file: %w", err)
	}
	doc := types.Document{
		ID:         up.Name,
		Title:      generateTitle(up.Name),
		Filename:   up.Filename,
		SourcePath: path,
		Pages:      len(pages),
		Chunks:     chunks,
		CreatedAt:  l.now(),
	}
	if err := l.store.SaveDocument(ctx, doc); err != nil {
		os.Remove(path)
		return types.Document{}, fmt.Errorf("index document: %w", err)
	}

	if err := l.progress(jobID, "Document indexed", 100); err != nil {
		return types.Document{}, err
	}
	return doc, nil
}

func hasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// Search looks for query inside the stored document id, page by page.
func (l *Loader) Search(ctx context.Context, id, query string) ([]types.PageHit, error) {
	doc, err := l.store.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(doc.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", doc.ID, err)
	}
	pages, err := l.parser.Parse(ctx, data)
	if err != nil {
		return nil, &ParseError{File: doc.ID, Err: err}
	}
	return FindQueryPositions(pages, query), nil
}

// File returns the stored document, checking that its file is still on disk.
func (l *Loader) File(ctx context.Context, id string) (*types.Document, error) {
	doc, err := l.store.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !fileExists(doc.SourcePath) {
		return nil, fmt.Errorf("%w: file for %s is missing", store.ErrDocumentNotFound, id)
	}
	return doc, nil
}
