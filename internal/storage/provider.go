// internal/storage/provider.go
package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/buglens/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProgressFunc receives the upload fraction of a single asset in [0,1].
type ProgressFunc func(fraction float64)

// Provider is the storage capability: prepare instructions for a file
// manifest, then upload each blob and return its durable reference.
// Implementations must translate every transport failure, non-success
// status and malformed response into a typed UPLOAD_ERROR whose message is
// safe to show to the end user.
type Provider interface {
	PrepareUploads(ctx context.Context, files []schemas.UploadFile) ([]schemas.UploadInstruction, error)
	Upload(ctx context.Context, instruction schemas.UploadInstruction, data []byte, mimeType string, onProgress ProgressFunc) (schemas.AssetReference, error)
}

// User-safe messages shared by the provider implementations. Raw causes are
// wrapped underneath and never surfaced.
const (
	msgPrepareFailed   = "We couldn't prepare file uploads right now. Please try again."
	msgUploadFailed    = "We couldn't upload your screenshot/video right now. Please try again."
	msgInvalidResponse = "Upload service returned an invalid response. Please try again."
	msgNotConfigured   = "Screenshot/video upload is not configured. Please contact support."
)

const defaultUploadTimeout = 2 * time.Minute

// newHTTPClient builds the client the providers share. When withCredentials
// is set, a cookie jar lets the session's cookies ride along with uploads,
// mirroring credentialed requests in the original flow.
func newHTTPClient(timeout time.Duration, withCredentials bool) *http.Client {
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	client := &http.Client{Timeout: timeout}
	if withCredentials {
		if jar, err := cookiejar.New(nil); err == nil {
			client.Jar = jar
		}
	}
	return client
}

// progressReader reports the fraction of the payload consumed by the HTTP
// transport. Combined with the orchestrator's weighting it yields the
// monotonic aggregate progress stream.
type progressReader struct {
	r        *bytes.Reader
	total    int64
	read     int64
	onChange ProgressFunc
}

func newProgressReader(data []byte, onChange ProgressFunc) *progressReader {
	return &progressReader{r: bytes.NewReader(data), total: int64(len(data)), onChange: onChange}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 && p.onChange != nil && p.total > 0 {
		p.read += int64(n)
		p.onChange(float64(p.read) / float64(p.total))
	}
	return n, err
}

// reportStart emits the initial zero progress tick if a callback is set.
func reportStart(onProgress ProgressFunc) {
	if onProgress != nil {
		onProgress(0)
	}
}

// reportDone emits the final full progress tick if a callback is set.
func reportDone(onProgress ProgressFunc) {
	if onProgress != nil {
		onProgress(1)
	}
}

// uploadResult is the JSON body accepted from proxy and local-public upload
// endpoints.
type uploadResult struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// decodeUploadResult parses the endpoint's JSON answer; a missing or
// unparseable body is treated as empty rather than fatal, matching the
// lenient contract of the upload endpoints.
func decodeUploadResult(body io.Reader) uploadResult {
	var result uploadResult
	data, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return uploadResult{}
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return uploadResult{}
	}
	return result
}

// joinPublicURL resolves key against a public base URL.
func joinPublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}

// setHeaders applies each header map in order onto the request.
func setHeaders(req *http.Request, headerMaps ...map[string]string) {
	for _, headers := range headerMaps {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
