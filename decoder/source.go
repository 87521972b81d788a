package decoder

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/thanos-io/objstore"
)

// ModuleSource fetches the decode plugin's bytes from its pinned,
// version-locked location. Fetch is called at most once per engine.
type ModuleSource interface {
	Fetch(ctx context.Context) ([]byte, error)
	Location() string
}

// BucketSource fetches the module from an object-storage bucket.
type BucketSource struct {
	Bucket objstore.Bucket
	Key    string
}

func (s *BucketSource) Fetch(ctx context.Context) ([]byte, error) {
	rc, err := s.Bucket.Get(ctx, s.Key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *BucketSource) Location() string {
	return fmt.Sprintf("%s/%s", s.Bucket.Name(), s.Key)
}

// FileSource fetches the module from the local filesystem.
type FileSource string

func (s FileSource) Fetch(_ context.Context) ([]byte, error) {
	return os.ReadFile(string(s))
}

func (s FileSource) Location() string { return string(s) }

// StaticSource serves module bytes held in memory. Used in tests.
type StaticSource []byte

func (s StaticSource) Fetch(_ context.Context) ([]byte, error) { return s, nil }

func (s StaticSource) Location() string { return "static" }
