package catalog

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// MaxAssetSize is the largest blob accepted for a slot
const MaxAssetSize int64 = 5 << 20

// AllowedFormats lists the accepted file extensions, without the dot
var AllowedFormats = []string{"jpeg", "png", "jpg"}

// CheckUpload applies the format allow-list and the declared size limit
func CheckUpload(u MediaUpload) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(u.FileName)), ".")
	allowed := false
	for _, f := range AllowedFormats {
		if ext == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: format %q is not allowed (allowed: %s)",
			ErrAssetRejected, ext, strings.Join(AllowedFormats, ", "))
	}
	if u.Size > MaxAssetSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrAssetRejected, u.Size, MaxAssetSize)
	}
	if u.Body == nil {
		return fmt.Errorf("%w: empty body", ErrAssetRejected)
	}
	return nil
}

// sizeLimitedReader fails the read that crosses the limit, so an undeclared
// oversize body aborts its upload instead of being truncated
type sizeLimitedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *sizeLimitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return n, fmt.Errorf("%w: body exceeds the %d byte limit", ErrAssetRejected, l.limit)
	}
	return n, err
}

func (l *sizeLimitedReader) exceeded() bool {
	return l.read > l.limit
}

var contentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// ContentType returns the MIME type stored with a blob named fileName
func ContentType(fileName string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
