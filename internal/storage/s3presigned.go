// internal/storage/s3presigned.go
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
)

// S3PresignedProvider asks a presign endpoint for per-file upload
// instructions, then uploads each blob straight to object storage: either a
// direct body PUT/POST against a presigned URL, or a multipart POST carrying
// the presigned policy fields.
type S3PresignedProvider struct {
	presignEndpoint string
	publicBaseURL   string
	authHeaders     map[string]string
	client          *http.Client
	logger          *zap.Logger
}

// NewS3PresignedProvider creates the s3-presigned storage provider.
func NewS3PresignedProvider(presignEndpoint, publicBaseURL string, authHeaders map[string]string, client *http.Client, logger *zap.Logger) *S3PresignedProvider {
	return &S3PresignedProvider{
		presignEndpoint: presignEndpoint,
		publicBaseURL:   publicBaseURL,
		authHeaders:     authHeaders,
		client:          client,
		logger:          logger.Named("storage_s3"),
	}
}

// PrepareUploads posts the file manifest to the presign endpoint and
// expects one instruction back per file.
func (p *S3PresignedProvider) PrepareUploads(ctx context.Context, files []schemas.UploadFile) ([]schemas.UploadInstruction, error) {
	body, err := json.Marshal(schemas.PresignRequest{Files: files})
	if err != nil {
		return nil, schemas.WrapError(schemas.CodeUpload, msgPrepareFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.presignEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schemas.WrapError(schemas.CodeUpload, msgPrepareFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	setHeaders(req, p.authHeaders)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Presign transport failure.", zap.Error(err))
		return nil, schemas.WrapError(schemas.CodeUpload, msgPrepareFailed, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		p.logger.Debug("Presign rejected.", zap.Int("status", resp.StatusCode))
		return nil, schemas.WrapError(schemas.CodeUpload, msgPrepareFailed,
			fmt.Errorf("presign endpoint answered status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, schemas.WrapError(schemas.CodeUpload, msgInvalidResponse, err)
	}
	var presigned schemas.PresignResponse
	if err := json.Unmarshal(data, &presigned); err != nil {
		return nil, schemas.WrapError(schemas.CodeUpload, msgInvalidResponse, err)
	}
	if len(presigned.Uploads) == 0 {
		return nil, schemas.NewError(schemas.CodeUpload, "Upload service returned no upload instructions. Please try again.")
	}
	return presigned.Uploads, nil
}

// Upload performs the instruction against object storage and derives the
// public URL: the instruction's own publicUrl wins, then the configured base
// URL plus key, then the upload URL itself.
func (p *S3PresignedProvider) Upload(
	ctx context.Context,
	instruction schemas.UploadInstruction,
	data []byte,
	mimeType string,
	onProgress ProgressFunc,
) (schemas.AssetReference, error) {
	reportStart(onProgress)

	var err error
	if instruction.Method == http.MethodPost && len(instruction.Fields) > 0 {
		err = p.uploadMultipart(ctx, instruction, data, onProgress)
	} else {
		err = p.uploadDirect(ctx, instruction, data, onProgress)
	}
	if err != nil {
		return schemas.AssetReference{}, err
	}
	reportDone(onProgress)

	url := instruction.PublicURL
	if url == "" && instruction.Key != "" && p.publicBaseURL != "" {
		url = joinPublicURL(p.publicBaseURL, instruction.Key)
	}
	if url == "" {
		url = instruction.UploadURL
	}

	return schemas.AssetReference{
		ID:       instruction.ID,
		Type:     instruction.Type,
		URL:      url,
		Key:      instruction.Key,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

// uploadDirect PUTs or POSTs the blob body against the presigned URL,
// forwarding whatever headers the presigner demanded.
func (p *S3PresignedProvider) uploadDirect(ctx context.Context, instruction schemas.UploadInstruction, data []byte, onProgress ProgressFunc) error {
	method := instruction.Method
	if method == "" {
		method = http.MethodPut
	}

	req, err := http.NewRequestWithContext(ctx, method, instruction.UploadURL, newProgressReader(data, onProgress))
	if err != nil {
		return schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}
	req.ContentLength = int64(len(data))
	setHeaders(req, instruction.Headers)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Presigned upload transport failure.", zap.Error(err))
		return schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		p.logger.Debug("Presigned upload rejected.", zap.Int("status", resp.StatusCode))
		return schemas.WrapError(schemas.CodeUpload, msgUploadFailed,
			fmt.Errorf("storage answered status %d", resp.StatusCode))
	}
	return nil
}

// uploadMultipart POSTs a form carrying the presigned policy fields followed
// by the file part, the shape S3 POST policies require.
func (p *S3PresignedProvider) uploadMultipart(ctx context.Context, instruction schemas.UploadInstruction, data []byte, onProgress ProgressFunc) error {
	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	for key, value := range instruction.Fields {
		if err := writer.WriteField(key, value); err != nil {
			return schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
		}
	}
	part, err := writer.CreateFormFile("file", instruction.ID)
	if err == nil {
		_, err = part.Write(data)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		return schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, instruction.UploadURL, newProgressReader(form.Bytes(), onProgress))
	if err != nil {
		return schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}
	req.ContentLength = int64(form.Len())
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Presigned multipart upload transport failure.", zap.Error(err))
		return schemas.WrapError(schemas.CodeUpload, msgUploadFailed, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		p.logger.Debug("Presigned multipart upload rejected.", zap.Int("status", resp.StatusCode))
		return schemas.WrapError(schemas.CodeUpload, msgUploadFailed,
			fmt.Errorf("storage answered status %d", resp.StatusCode))
	}
	return nil
}
