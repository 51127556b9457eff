package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stevemurr/knowledge-vault/ingest"
)

// ingestFlags are shared by the commands that read source files. Flags left
// unset fall back to the ingest section of the config.
type ingestFlags struct {
	chunkSize int
	overlap   int
	include   []string
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVar(&f.chunkSize, "chunk-size", 0, "maximum chunk length in characters (default from config)")
	fl.IntVar(&f.overlap, "overlap", 0, "characters shared by consecutive chunks (default from config)")
	fl.StringArrayVar(&f.include, "include", nil, "glob for files taken from directories, repeatable (default from config)")
}

func (a *app) ingester(cmd *cobra.Command, f *ingestFlags) (*ingest.Ingester, error) {
	opts := ingest.Options{
		ChunkSize: a.cfg.Ingest.ChunkSize,
		Overlap:   a.cfg.Ingest.Overlap,
		Include:   a.cfg.Ingest.Include,
		Logger:    a.logger,
	}
	fl := cmd.Flags()
	if fl.Changed("chunk-size") {
		opts.ChunkSize = f.chunkSize
	}
	if fl.Changed("overlap") {
		opts.Overlap = f.overlap
	}
	if fl.Changed("include") {
		opts.Include = f.include
	}
	return ingest.New(opts)
}

func printReport(w io.Writer, rep ingest.Report) {
	fmt.Fprintf(w, "ingested %d chunks from %d files (%d new, %d already present)\n",
		rep.Chunks, rep.Files, rep.Added, rep.AlreadyPresent)
}
