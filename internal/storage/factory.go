package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"scenegen/internal/adapters/storage/gdrive"
	"scenegen/internal/adapters/storage/localfs"
	"scenegen/internal/config"
	"scenegen/internal/pkg/errors"
)

// NewProvider builds the artifact store selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "localfs":
		if cfg.LocalRoot == "" {
			return nil, errors.MissingConfig("STORAGE_LOCAL_ROOT")
		}
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg.GDrive)

	default:
		return nil, errors.Validation(fmt.Sprintf("unknown storage provider: %s", cfg.Provider))
	}
}

func newGDriveProvider(ctx context.Context, cfg config.GDriveConfig) (Provider, error) {
	for key, val := range map[string]string{
		"GDRIVE_CLIENT_ID":     cfg.ClientID,
		"GDRIVE_CLIENT_SECRET": cfg.ClientSecret,
		"GDRIVE_REFRESH_TOKEN": cfg.RefreshToken,
	} {
		if val == "" {
			return nil, errors.MissingConfig(key)
		}
	}

	conf := OAuthConfig(cfg.ClientID, cfg.ClientSecret, "")
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "storage.gdrive", "create drive service")
	}

	return gdrive.NewClient(srv, cfg.FolderID), nil
}

// OAuthConfig is the Drive OAuth client shared by the store and the
// gdrive-auth helper.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}
