package port

import "context"

// FileStorage holds uploaded document files under relative paths
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	// Read returns ErrNotFound for missing files
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	// List returns every stored path, sorted
	List(ctx context.Context) ([]string, error)
}
