// Package storage builds the frame storage provider selected by config.
package storage

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"pyro/internal/adapters/storage/gdrive"
	"pyro/internal/adapters/storage/localfs"
	"pyro/internal/pkg/errors"
	"pyro/internal/ports"
)

type Options struct {
	Provider  string
	LocalRoot string

	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string
	GDriveFolderID     string
}

// NewProvider returns the provider named by opts.Provider ("localfs" when
// empty).
func NewProvider(ctx context.Context, opts Options) (ports.StorageProvider, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", localfs.ProviderName:
		if strings.TrimSpace(opts.LocalRoot) == "" {
			return nil, errors.ValidationField("storage_local_root", "local storage root is required")
		}
		return localfs.New(opts.LocalRoot), nil

	case gdrive.ProviderName:
		return newGDriveProvider(ctx, opts)

	default:
		return nil, errors.ValidationField("storage_provider", "unknown storage provider").WithField("provider", opts.Provider)
	}
}

func newGDriveProvider(ctx context.Context, opts Options) (ports.StorageProvider, error) {
	for field, v := range map[string]string{
		"gdrive_client_id":     opts.GDriveClientID,
		"gdrive_client_secret": opts.GDriveClientSecret,
		"gdrive_refresh_token": opts.GDriveRefreshToken,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, errors.ValidationField(field, "required for gdrive storage")
		}
	}

	conf := &oauth2.Config{
		ClientID:     opts.GDriveClientID,
		ClientSecret: opts.GDriveClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: opts.GDriveRefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrap(err, "storage.NewProvider", "create drive service")
	}
	return gdrive.NewClient(srv, opts.GDriveFolderID), nil
}
