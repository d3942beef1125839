// Package gdrive stores rendered frames in a Google Drive folder.
package gdrive

import (
	"context"
	"io"
	"net/http"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"pyro/internal/pkg/errors"
	"pyro/internal/ports"
)

const ProviderName = "gdrive"

// Client implements ports.StorageProvider on Drive. The object key given to
// PutObject becomes the file name; the returned key is the Drive file id,
// which Get and Delete expect.
type Client struct {
	srv      *drive.Service
	folderID string
}

var _ ports.StorageProvider = (*Client)(nil)

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return ProviderName }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object key is required")
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
		return ports.PutObjectOutput{}, driveError(err, "gdrive.PutObject", in.ObjectKey)
	}

	return ports.PutObjectOutput{ObjectKey: created.Id, Size: in.Size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	resp, err := c.srv.Files.Get(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, driveError(err, "gdrive.GetObject", objectKey)
	}
	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	err := c.srv.Files.Delete(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return driveError(err, "gdrive.DeleteObject", objectKey)
	}
	return nil
}

// GetSignedURL returns the Drive web content link. Drive links do not expire;
// ExpiresAt only reports what the caller asked for.
func (c *Client) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	f, err := c.srv.Files.Get(objectKey).
		SupportsAllDrives(true).
		Fields("webContentLink").
		Context(ctx).
		Do()
	if err != nil {
		return ports.SignedURLOutput{}, driveError(err, "gdrive.GetSignedURL", objectKey)
	}
	return ports.SignedURLOutput{URL: f.WebContentLink, ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

func driveError(err error, op, key string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return errors.NotFound("object", key)
	}
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, "drive request failed").WithField("object_key", key)
}
