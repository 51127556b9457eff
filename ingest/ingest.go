package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/stevemurr/knowledge-vault/logging"
	"github.com/stevemurr/knowledge-vault/store"
)

// DefaultInclude selects the files picked up from directories.
var DefaultInclude = []string{"**/*.{txt,md,markdown,html,htm,pdf,xlsx}"}

// Options configure an Ingester. Zero values mean the defaults.
type Options struct {
	ChunkSize int
	Overlap   int
	// Include holds doublestar patterns matched against paths relative to a
	// directory given as a source. Files named directly are always read.
	Include []string
	Logger  *slog.Logger
}

// Adder receives chunks, satisfied by *store.DocumentStore.
type Adder interface {
	Name() string
	AddItem(text string) (store.AddResult, error)
}

// Source is one file cut into chunks.
type Source struct {
	Path   string
	Chunks []string
}

type Report struct {
	Files          int `json:"files"`
	Chunks         int `json:"chunks"`
	Added          int `json:"added"`
	AlreadyPresent int `json:"already_present"`
}

type Ingester struct {
	size    int
	overlap int
	include []string
	logger  *slog.Logger
}

func New(opts Options) (*Ingester, error) {
	in := &Ingester{
		size:    opts.ChunkSize,
		overlap: opts.Overlap,
		include: opts.Include,
		logger:  opts.Logger,
	}
	if in.size == 0 {
		in.size = DefaultChunkSize
		if in.overlap == 0 {
			in.overlap = DefaultOverlap
		}
	}
	if len(in.include) == 0 {
		in.include = DefaultInclude
	}
	if in.logger == nil {
		in.logger = logging.Discard()
	}
	if err := CheckChunking(in.size, in.overlap); err != nil {
		return nil, err
	}
	if err := CheckPatterns(in.include); err != nil {
		return nil, err
	}
	return in, nil
}

// CheckPatterns reports the first malformed include pattern.
func CheckPatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: include pattern %q is malformed", store.ErrInvalidArgument, p)
		}
	}
	return nil
}

// Files expands paths into the files to read, in argument order with
// directory contents in lexical order. Hidden entries inside directories
// are skipped and every file appears once.
func (in *Ingester) Files(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: source %s does not exist", store.ErrInvalidArgument, root)
			}
			return nil, err
		}
		if !info.IsDir() {
			add(filepath.Clean(root))
			continue
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			if in.included(filepath.ToSlash(rel)) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files to ingest in %s", store.ErrInvalidArgument, strings.Join(paths, ", "))
	}
	return files, nil
}

func (in *Ingester) included(rel string) bool {
	for _, p := range in.include {
		// patterns were validated in New
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Prepare reads and chunks every file before anything is written, so a bad
// source fails the whole ingestion up front.
func (in *Ingester) Prepare(ctx context.Context, paths []string) ([]Source, error) {
	files, err := in.Files(paths)
	if err != nil {
		return nil, err
	}
	sources := make([]Source, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := Load(f)
		if err != nil {
			return nil, err
		}
		chunks, err := Split(text, in.size, in.overlap)
		if err != nil {
			return nil, fmt.Errorf("ingest: %s: %w", f, err)
		}
		in.logger.Debug("source prepared", "path", f, "chunks", len(chunks))
		sources = append(sources, Source{Path: f, Chunks: chunks})
	}
	return sources, nil
}

// Add adds every chunk in order. Chunks already present, from an earlier
// source or an earlier run, are counted but not added twice.
func (in *Ingester) Add(ctx context.Context, dst Adder, sources []Source) (Report, error) {
	var rep Report
	for _, src := range sources {
		for _, c := range src.Chunks {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			res, err := dst.AddItem(c)
			if err != nil {
				return rep, err
			}
			rep.Chunks++
			if res == store.Added {
				rep.Added++
			} else {
				rep.AlreadyPresent++
			}
		}
		rep.Files++
		in.logger.Info("source ingested", "namespace", dst.Name(), "path", src.Path, "chunks", len(src.Chunks))
	}
	return rep, nil
}

// Ingest is Prepare followed by Add.
func (in *Ingester) Ingest(ctx context.Context, dst Adder, paths []string) (Report, error) {
	sources, err := in.Prepare(ctx, paths)
	if err != nil {
		return Report{}, err
	}
	return in.Add(ctx, dst, sources)
}
