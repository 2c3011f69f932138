// Package gdrive stores artifacts as files in a Google Drive folder.
package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"scenegen/internal/pkg/errors"
	"scenegen/internal/ports"
)

const listFields = "nextPageToken, files(id, name, size, modifiedTime, mimeType)"

// Client implements ports.StorageProvider on Drive. The object key is the
// Drive file name inside the folder; file ids are resolved on demand.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	const op = "gdrive.put"

	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.Validation("object key is required")
	}

	existing, err := c.find(ctx, in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if existing != nil {
		return ports.PutObjectOutput{}, errors.New(errors.CodeFailedPrecond, "object already exists").
			WithField("object_key", in.ObjectKey)
	}

	file := &drive.File{Name: in.ObjectKey}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}

	call := c.srv.Files.Create(file).SupportsAllDrives(true)
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return ports.PutObjectOutput{}, errors.WrapWithCode(err, errors.CodeUpstream, op, "drive upload failed")
	}

	size := in.Size
	if created.Size > 0 {
		size = created.Size
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	f, err := c.mustFind(ctx, objectKey)
	if err != nil {
		return nil, "", 0, err
	}

	resp, err := c.srv.Files.Get(f.Id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, mapErr(err, "gdrive.get", objectKey)
	}

	contentType = resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = f.MimeType
	}
	size = resp.ContentLength
	if size < 0 {
		size = f.Size
	}
	return resp.Body, contentType, size, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	f, err := c.mustFind(ctx, objectKey)
	if err != nil {
		return err
	}
	err = c.srv.Files.Delete(f.Id).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return mapErr(err, "gdrive.delete", objectKey)
}

// ListObjects pages through every non-trashed file in the folder.
func (c *Client) ListObjects(ctx context.Context) ([]ports.ObjectInfo, error) {
	var out []ports.ObjectInfo

	err := c.list(c.query("")).Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			info := ports.ObjectInfo{ObjectKey: f.Name, Size: f.Size}
			if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
				info.ModTime = t
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUpstream, "gdrive.list", "drive list failed")
	}
	return out, nil
}

func (c *Client) list(q string) *drive.FilesListCall {
	return c.srv.Files.List().
		Q(q).
		Fields(listFields).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true)
}

func (c *Client) find(ctx context.Context, name string) (*drive.File, error) {
	res, err := c.list(c.query(name)).PageSize(1).Context(ctx).Do()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUpstream, "gdrive.find", "drive lookup failed").
			WithField("object_key", name)
	}
	if len(res.Files) == 0 {
		return nil, nil
	}
	return res.Files[0], nil
}

func (c *Client) mustFind(ctx context.Context, name string) (*drive.File, error) {
	f, err := c.find(ctx, name)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.NotFound("object", name)
	}
	return f, nil
}

func (c *Client) query(name string) string {
	var parts []string
	if name != "" {
		parts = append(parts, fmt.Sprintf("name = '%s'", escape(name)))
	}
	if c.folderID != "" {
		parts = append(parts, fmt.Sprintf("'%s' in parents", escape(c.folderID)))
	}
	parts = append(parts, "trashed = false")
	return strings.Join(parts, " and ")
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func mapErr(err error, op, objectKey string) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return errors.NotFound("object", objectKey)
	}
	return errors.WrapWithCode(err, errors.CodeUpstream, op, "drive request failed").
		WithField("object_key", objectKey)
}
