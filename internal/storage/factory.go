// internal/storage/factory.go
package storage

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
	"github.com/xkilldash9x/buglens/internal/config"
)

// New builds the storage provider selected by storage.mode. A mode whose
// endpoint is missing is a configuration defect surfaced as an upload error,
// matching what the caller would otherwise hit mid-submit.
func New(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	client := newHTTPClient(cfg.API.RequestTimeout, cfg.API.WithCredentials)

	switch cfg.Storage.Mode {
	case config.ModeProxy:
		if cfg.Storage.Proxy.UploadEndpoint == "" {
			return nil, schemas.NewError(schemas.CodeUpload, msgNotConfigured)
		}
		return NewProxyProvider(cfg.Storage.Proxy.UploadEndpoint, cfg.API.AuthHeaders, client, logger), nil

	case config.ModeLocalPublic:
		if cfg.Storage.Local.UploadEndpoint == "" {
			return nil, schemas.NewError(schemas.CodeUpload, msgNotConfigured)
		}
		return NewLocalPublicProvider(cfg.Storage.Local.UploadEndpoint, cfg.Storage.Local.PublicBaseURL, cfg.API.AuthHeaders, client, logger), nil

	case config.ModeS3Presigned:
		if cfg.Storage.S3.PresignEndpoint == "" {
			return nil, schemas.NewError(schemas.CodeUpload, msgNotConfigured)
		}
		return NewS3PresignedProvider(cfg.Storage.S3.PresignEndpoint, cfg.Storage.S3.PublicBaseURL, cfg.API.AuthHeaders, client, logger), nil

	default:
		return nil, schemas.NewError(schemas.CodeUpload, msgNotConfigured)
	}
}
