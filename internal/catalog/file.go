package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/dc-tec/snaprepo-operator/internal/snapshotrepo"
)

// FileSource reads a catalog from the local filesystem on every Load, so
// edits are picked up by the next pass.
type FileSource struct {
	Path string
}

// Load implements Source.
func (f *FileSource) Load(ctx context.Context) ([]snapshotrepo.Declaration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(f.Path, data)
}
