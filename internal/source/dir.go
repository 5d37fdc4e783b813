package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
	"github.com/tempofuse/tempofuse/pkg/types"
)

// DirSource reads collections from a directory of JSON-lines files, one
// file per collection (<dir>/<collection>.jsonl). Primarily used for
// testing and local development.
type DirSource struct {
	dir string
}

// NewDirSource creates a directory-backed document source.
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			fmt.Sprintf("collection directory %s not accessible", dir), err)
	}
	if !info.IsDir() {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			fmt.Sprintf("%s is not a directory", dir), nil)
	}
	return &DirSource{dir: dir}, nil
}

// FetchStream reads every document in the stream's collection file.
func (s *DirSource) FetchStream(ctx context.Context, kind types.StreamKind) ([]RawRecord, error) {
	collection, ok := CollectionFor(kind)
	if !ok {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeUnknownCollection,
			fmt.Sprintf("no collection for stream %q", kind), types.ErrUnknownStream)
	}

	f, err := os.Open(filepath.Join(s.dir, collection+".jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			// A missing collection is an empty stream, not a failure
			return nil, nil
		}
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			fmt.Sprintf("failed to open collection %s", collection), err)
	}
	defer f.Close()

	return readJSONLines(ctx, collection, f)
}

// Collections lists the .jsonl files present in the directory, sorted.
func (s *DirSource) Collections(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			"failed to list collection directory", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op for directory sources.
func (s *DirSource) Close() error { return nil }
