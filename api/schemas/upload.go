// api/schemas/upload.go
package schemas

// UploadFile is one entry in the manifest sent to a storage provider when
// preparing uploads.
type UploadFile struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Type     AssetType `json:"type"`
	MimeType string    `json:"mimeType"`
	Size     int64     `json:"size"`
}

// UploadInstruction tells the orchestrator how to upload one file. Providers
// synthesize these locally (proxy, local-public) or receive them from a
// presign endpoint (s3-presigned).
type UploadInstruction struct {
	ID        string            `json:"id"`
	Method    string            `json:"method"` // "PUT" or "POST"
	UploadURL string            `json:"uploadUrl"`
	Headers   map[string]string `json:"headers,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Key       string            `json:"key,omitempty"`
	PublicURL string            `json:"publicUrl,omitempty"`
	Type      AssetType         `json:"type"`
}

// AssetReference is the server-confirmed pointer to an uploaded asset.
// Created only after a successful upload; immutable afterwards.
type AssetReference struct {
	ID       string    `json:"id"`
	Type     AssetType `json:"type"`
	URL      string    `json:"url"`
	Key      string    `json:"key,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

// PresignRequest is the body posted to an s3-presigned mode presign endpoint.
type PresignRequest struct {
	Files []UploadFile `json:"files"`
}

// PresignResponse is the presign endpoint's answer: one instruction per
// requested file.
type PresignResponse struct {
	Uploads []UploadInstruction `json:"uploads"`
}
