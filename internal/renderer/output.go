package renderer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"scenegen/internal/pkg/errors"
	"scenegen/internal/ports"
)

// findArtifact searches dir recursively for "<scene>.mp4".
func findArtifact(dir, scene string) (string, bool) {
	want := scene + ".mp4"
	var found string

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == want {
			found = path
			return fs.SkipAll
		}
		return nil
	})

	return found, found != ""
}

// storeArtifact copies src into the store under the render id's key.
func storeArtifact(ctx context.Context, store ports.StorageProvider, src, id string) (string, error) {
	const op = "renderer.store"

	f, err := os.Open(src)
	if err != nil {
		return "", errors.Wrap(err, op, "open artifact")
	}
	defer f.Close()

	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	out, err := store.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   VideoKey(id),
		ContentType: "video/mp4",
		Reader:      f,
		Size:        size,
	})
	if err != nil {
		return "", errors.Wrap(err, op, "store artifact")
	}
	return out.ObjectKey, nil
}
