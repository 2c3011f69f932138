package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"scenegen/internal/pkg/errors"
	"scenegen/internal/ports"
)

type fakeFile struct {
	id       string
	name     string
	parents  []string
	data     []byte
	modified time.Time
}

// fakeDrive answers the subset of the Drive v3 API the client uses.
type fakeDrive struct {
	mu     sync.Mutex
	files  map[string]*fakeFile
	nextID int
}

var nameQuery = regexp.MustCompile(`name = '([^']*)'`)

func (d *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/files"):
		d.create(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/files"):
		d.list(w, r)
	case r.Method == http.MethodGet && strings.Contains(path, "/files/"):
		f, ok := d.files[path[strings.LastIndex(path, "/")+1:]]
		if !ok {
			writeDriveError(w, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(f.data)
	case r.Method == http.MethodDelete && strings.Contains(path, "/files/"):
		id := path[strings.LastIndex(path, "/")+1:]
		if _, ok := d.files[id]; !ok {
			writeDriveError(w, http.StatusNotFound)
			return
		}
		delete(d.files, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeDriveError(w, http.StatusBadRequest)
	}
}

func (d *fakeDrive) create(w http.ResponseWriter, r *http.Request) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeDriveError(w, http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	var meta drive.File
	part, err := mr.NextPart()
	if err != nil || json.NewDecoder(part).Decode(&meta) != nil {
		writeDriveError(w, http.StatusBadRequest)
		return
	}
	part, err = mr.NextPart()
	if err != nil {
		writeDriveError(w, http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(part)

	d.nextID++
	f := &fakeFile{
		id:       fmt.Sprintf("file-%d", d.nextID),
		name:     meta.Name,
		parents:  meta.Parents,
		data:     data,
		modified: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	d.files[f.id] = f

	_ = json.NewEncoder(w).Encode(&drive.File{Id: f.id, Name: f.name, Size: int64(len(data))})
}

func (d *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	var want string
	if m := nameQuery.FindStringSubmatch(q); m != nil {
		want = m[1]
	}

	res := &drive.FileList{}
	for _, f := range d.files {
		if want != "" && f.name != want {
			continue
		}
		res.Files = append(res.Files, &drive.File{
			Id:           f.id,
			Name:         f.name,
			Size:         int64(len(f.data)),
			MimeType:     "video/mp4",
			ModifiedTime: f.modified.Format(time.RFC3339),
		})
	}
	_ = json.NewEncoder(w).Encode(res)
}

func writeDriveError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s"}}`, code, http.StatusText(code))
}

func newTestClient(t *testing.T) (*Client, *fakeDrive) {
	t.Helper()

	fake := &fakeDrive{files: make(map[string]*fakeFile)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	return NewClient(svc, "folder-1"), fake
}

func TestPutGetDelete(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	out, err := c.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   "abc.mp4",
		ContentType: "video/mp4",
		Reader:      strings.NewReader("movie"),
		Size:        5,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc.mp4", out.ObjectKey, "object key stays the file name")
	assert.Equal(t, int64(5), out.Size)
	require.Len(t, fake.files, 1)
	assert.Equal(t, []string{"folder-1"}, fake.files["file-1"].parents)

	rc, ct, _, err := c.GetObject(ctx, "abc.mp4")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "movie", string(data))
	assert.Equal(t, "video/mp4", ct)

	require.NoError(t, c.DeleteObject(ctx, "abc.mp4"))
	assert.Empty(t, fake.files)
}

func TestPutRefusesExistingName(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	in := ports.PutObjectInput{ObjectKey: "dup.mp4", Reader: strings.NewReader("a")}
	_, err := c.PutObject(ctx, in)
	require.NoError(t, err)

	in.Reader = strings.NewReader("b")
	_, err = c.PutObject(ctx, in)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeFailedPrecond))
}

func TestMissingObject(t *testing.T) {
	c, _ := newTestClient(t)

	_, _, _, err := c.GetObject(context.Background(), "nope.mp4")
	assert.True(t, errors.IsNotFound(err))

	assert.True(t, errors.IsNotFound(c.DeleteObject(context.Background(), "nope.mp4")))
}

func TestListObjects(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for _, key := range []string{"a.mp4", "b.mp4"} {
		_, err := c.PutObject(ctx, ports.PutObjectInput{ObjectKey: key, Reader: strings.NewReader(key)})
		require.NoError(t, err)
	}

	objs, err := c.ListObjects(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	for _, o := range objs {
		assert.Equal(t, int64(5), o.Size)
		assert.Equal(t, 2026, o.ModTime.Year())
	}
}

func TestQuery(t *testing.T) {
	c := &Client{folderID: "folder-1"}

	assert.Equal(t, "name = 'x.mp4' and 'folder-1' in parents and trashed = false", c.query("x.mp4"))
	assert.Equal(t, `name = 'it\'s.mp4' and 'folder-1' in parents and trashed = false`, c.query("it's.mp4"))

	c.folderID = ""
	assert.Equal(t, "trashed = false", c.query(""))
}
