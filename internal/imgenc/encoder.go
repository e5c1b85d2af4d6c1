package imgenc

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrUnreadable is returned when the image source cannot be read
	ErrUnreadable = errors.New("image is not readable")
	// ErrInvalidPayload is returned for malformed data URLs or base64 payloads
	ErrInvalidPayload = errors.New("invalid image payload")
)

// EncodedImage is a base64 image payload ready to be sent to a model.
// Data never carries a data URL header.
type EncodedImage struct {
	Data     string
	MIMEType string
}

// Encode reads all of r and base64-encodes it. An empty mimeType is
// detected from the content.
func Encode(r io.Reader, mimeType string) (*EncodedImage, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrUnreadable)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	return encodeBytes(data, mimeType), nil
}

// EncodeFile reads and encodes the file at path. The media type comes from
// the extension, or from the content when the extension is unknown.
func EncodeFile(path string) (*EncodedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()

	return Encode(f, mime.TypeByExtension(strings.ToLower(filepath.Ext(path))))
}

// FromDataURL accepts either a "data:<mime>;base64,<payload>" string as
// produced by browsers or a bare base64 payload, and strips the header.
func FromDataURL(s string) (*EncodedImage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}

	mimeType := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		meta, data, ok := strings.Cut(s, ",")
		if !ok {
			return nil, fmt.Errorf("%w: missing payload separator", ErrInvalidPayload)
		}
		meta = strings.TrimPrefix(meta, "data:")
		if !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("%w: data URL is not base64", ErrInvalidPayload)
		}
		mimeType = normalizeMIMEType(strings.TrimSuffix(meta, ";base64"))
		payload = data
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if mimeType == "" {
		mimeType = detect(raw)
	}

	return &EncodedImage{Data: payload, MIMEType: mimeType}, nil
}

// Decode returns the raw image bytes
func (e *EncodedImage) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return data, nil
}

// IsImage reports whether the media type is an image type
func (e *EncodedImage) IsImage() bool {
	return strings.HasPrefix(e.MIMEType, "image/")
}

func encodeBytes(data []byte, mimeType string) *EncodedImage {
	mimeType = normalizeMIMEType(mimeType)
	if mimeType == "" {
		mimeType = detect(data)
	}
	return &EncodedImage{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mimeType,
	}
}

// normalizeMIMEType drops parameters such as charset
func normalizeMIMEType(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mediaType
	}
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func detect(data []byte) string {
	return normalizeMIMEType(mimetype.Detect(data).String())
}
