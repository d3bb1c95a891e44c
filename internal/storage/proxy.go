// internal/storage/proxy.go
package storage

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
)

// ProxyProvider uploads each asset as a raw body POST to one configured
// application endpoint which proxies it to durable storage.
type ProxyProvider struct {
	uploadEndpoint string
	authHeaders    map[string]string
	client         *http.Client
	logger         *zap.Logger
}

// NewProxyProvider creates the direct-proxy storage provider.
func NewProxyProvider(uploadEndpoint string, authHeaders map[string]string, client *http.Client, logger *zap.Logger) *ProxyProvider {
	return &ProxyProvider{
		uploadEndpoint: uploadEndpoint,
		authHeaders:    authHeaders,
		client:         client,
		logger:         logger.Named("storage_proxy"),
	}
}

// PrepareUploads synthesizes one instruction per file, all pointing at the
// configured endpoint. No network round trip is needed in this mode.
func (p *ProxyProvider) PrepareUploads(_ context.Context, files []schemas.UploadFile) ([]schemas.UploadInstruction, error) {
	instructions := make([]schemas.UploadInstruction, 0, len(files))
	for _, file := range files {
		instructions = append(instructions, schemas.UploadInstruction{
			ID:        file.ID,
			Method:    http.MethodPost,
			UploadURL: p.uploadEndpoint,
			Headers:   p.authHeaders,
			Type:      file.Type,
		})
	}
	return instructions, nil
}

// Upload POSTs the raw blob with asset-identifying headers and expects a
// JSON body carrying the public url.
func (p *ProxyProvider) Upload(
	ctx context.Context,
	instruction schemas.UploadInstruction,
	data []byte,
	mimeType string,
	onProgress ProgressFunc,
) (schemas.AssetReference, error) {
	reportStart(onProgress)

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, instruction.UploadURL, newProgressReader(data, onProgress))
	if err != nil {
		return schemas.AssetReference{}, schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("X-Buglens-Asset-ID", instruction.ID)
	req.Header.Set("X-Buglens-Asset-Type", string(instruction.Type))
	setHeaders(req, instruction.Headers)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Proxy upload transport failure.", zap.Error(err))
		return schemas.AssetReference{}, schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		p.logger.Debug("Proxy upload rejected.", zap.Int("status", resp.StatusCode))
		return schemas.AssetReference{}, schemas.WrapError(schemas.CodeUpload, msgUploadFailed,
			fmt.Errorf("upload endpoint answered status %d", resp.StatusCode))
	}

	result := decodeUploadResult(resp.Body)
	if result.URL == "" {
		return schemas.AssetReference{}, schemas.NewError(schemas.CodeUpload, msgInvalidResponse)
	}
	reportDone(onProgress)

	return schemas.AssetReference{
		ID:       instruction.ID,
		Type:     instruction.Type,
		URL:      result.URL,
		Key:      result.Key,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}
