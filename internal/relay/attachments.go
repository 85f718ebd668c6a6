package relay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/telepoe/internal/backend"
)

// AttachmentKind tags the platform source of an attachment, used only for
// MIME fallbacks at the boundary.
type AttachmentKind string

const (
	KindPhoto    AttachmentKind = "photo"
	KindVideo    AttachmentKind = "video"
	KindDocument AttachmentKind = "document"
)

const fallbackFilename = "attachment.dat"

// NewFetchClient builds the HTTP client for attachment downloads. A proxy,
// when configured, is carried on this client's transport only — never set
// process-wide, so concurrent exchanges are unaffected.
func NewFetchClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
	return client, nil
}

// PrepareAttachment converts raw platform bytes into the canonical
// attachment shape: filename fallback, MIME guessed from the extension with
// kind-based defaults, and oversized images downscaled before the base64
// encode.
func PrepareAttachment(filename, mimeHint string, data []byte, kind AttachmentKind, maxDim int) (backend.Attachment, error) {
	if len(data) == 0 {
		return backend.Attachment{}, fmt.Errorf("empty attachment payload")
	}
	if filename == "" {
		filename = fallbackFilename
	}

	mimeType := mimeHint
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if mimeType == "" {
		switch kind {
		case KindPhoto:
			mimeType = "image/jpeg"
		case KindVideo:
			mimeType = "video/mp4"
		default:
			mimeType = "application/octet-stream"
		}
	}

	if maxDim > 0 && strings.HasPrefix(mimeType, "image/") {
		if scaled, ok := downscaleImage(data, maxDim); ok {
			data = scaled
			mimeType = "image/jpeg"
			if ext := filepath.Ext(filename); ext != "" && !strings.EqualFold(ext, ".jpg") && !strings.EqualFold(ext, ".jpeg") {
				filename = strings.TrimSuffix(filename, ext) + ".jpg"
			}
		}
	}

	return backend.Attachment{
		Filename: filename,
		MimeType: mimeType,
		Base64:   base64.StdEncoding.EncodeToString(data),
	}, nil
}

// downscaleImage resizes an image whose longest side exceeds maxDim,
// re-encoding as JPEG. Decode or encode failures keep the original bytes.
func downscaleImage(data []byte, maxDim int) ([]byte, bool) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		slog.Debug("attachment image decode failed, sending original", "error", err)
		return nil, false
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return nil, false
	}

	var resized image.Image
	if w >= h {
		resized = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	} else {
		resized = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		slog.Debug("attachment image encode failed, sending original", "error", err)
		return nil, false
	}
	slog.Debug("attachment image downscaled",
		"from", fmt.Sprintf("%dx%d", w, h), "max_dim", maxDim, "bytes", buf.Len())
	return buf.Bytes(), true
}
