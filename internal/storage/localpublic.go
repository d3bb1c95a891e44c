// internal/storage/localpublic.go
package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
)

// LocalPublicProvider uploads each asset as a multipart form to a single
// endpoint which stores it under a publicly served base URL.
type LocalPublicProvider struct {
	uploadEndpoint string
	publicBaseURL  string
	authHeaders    map[string]string
	client         *http.Client
	logger         *zap.Logger
}

// NewLocalPublicProvider creates the local-public storage provider.
func NewLocalPublicProvider(uploadEndpoint, publicBaseURL string, authHeaders map[string]string, client *http.Client, logger *zap.Logger) *LocalPublicProvider {
	return &LocalPublicProvider{
		uploadEndpoint: uploadEndpoint,
		publicBaseURL:  publicBaseURL,
		authHeaders:    authHeaders,
		client:         client,
		logger:         logger.Named("storage_local"),
	}
}

// PrepareUploads synthesizes one instruction per file pointing at the
// configured endpoint.
func (p *LocalPublicProvider) PrepareUploads(_ context.Context, files []schemas.UploadFile) ([]schemas.UploadInstruction, error) {
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

// Upload sends a multipart form (file, id, type). The endpoint may answer
// with a direct url, or with a key resolved against the public base URL.
func (p *LocalPublicProvider) Upload(
	ctx context.Context,
	instruction schemas.UploadInstruction,
	data []byte,
	mimeType string,
	onProgress ProgressFunc,
) (schemas.AssetReference, error) {
	reportStart(onProgress)

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("file", instruction.ID)
	if err == nil {
		_, err = part.Write(data)
	}
	if err == nil {
		err = writer.WriteField("id", instruction.ID)
	}
	if err == nil {
		err = writer.WriteField("type", string(instruction.Type))
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		return schemas.AssetReference{}, schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, instruction.UploadURL, newProgressReader(form.Bytes(), onProgress))
	if err != nil {
		return schemas.AssetReference{}, schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}
	req.ContentLength = int64(form.Len())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	setHeaders(req, instruction.Headers)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Local-public upload transport failure.", zap.Error(err))
		return schemas.AssetReference{}, schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		p.logger.Debug("Local-public upload rejected.", zap.Int("status", resp.StatusCode))
		return schemas.AssetReference{}, schemas.WrapError(schemas.CodeUpload, msgUploadFailed,
			fmt.Errorf("upload endpoint answered status %d", resp.StatusCode))
	}

	result := decodeUploadResult(resp.Body)
	reportDone(onProgress)

	url := result.URL
	if url == "" && result.Key != "" && p.publicBaseURL != "" {
		url = joinPublicURL(p.publicBaseURL, result.Key)
	}
	if url == "" {
		url = instruction.UploadURL
	}

	return schemas.AssetReference{
		ID:       instruction.ID,
		Type:     instruction.Type,
		URL:      url,
		Key:      result.Key,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}
