package relay

import (
	"bytes"
	"encoding/base64"
	"image"
	"testing"

	"github.com/disintegration/imaging"
)

func TestPrepareAttachmentMimeFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		mimeHint string
		kind     AttachmentKind
		wantName string
		wantMime string
	}{
		{"hint wins", "a.bin", "application/pdf", KindDocument, "a.bin", "application/pdf"},
		{"guessed from extension", "notes.txt", "", KindDocument, "notes.txt", "text/plain; charset=utf-8"},
		{"photo default", "photo", "", KindPhoto, "photo", "image/jpeg"},
		{"video default", "clip", "", KindVideo, "clip", "video/mp4"},
		{"document default", "blob", "", KindDocument, "blob", "application/octet-stream"},
		{"empty filename fallback", "", "", KindDocument, "attachment.dat", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att, err := PrepareAttachment(tt.filename, tt.mimeHint, []byte("data"), tt.kind, 0)
			if err != nil {
				t.Fatalf("PrepareAttachment: %v", err)
			}
			if att.Filename != tt.wantName {
				t.Errorf("filename = %q, want %q", att.Filename, tt.wantName)
			}
			if att.MimeType != tt.wantMime {
				t.Errorf("mime = %q, want %q", att.MimeType, tt.wantMime)
			}
			if att.Base64 != base64.StdEncoding.EncodeToString([]byte("data")) {
				t.Error("payload not base64 encoded")
			}
		})
	}
}

func TestPrepareAttachmentEmptyPayload(t *testing.T) {
	if _, err := PrepareAttachment("a.txt", "", nil, KindDocument, 0); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestPrepareAttachmentDownscalesLargeImage(t *testing.T) {
	// 400x100 PNG, downscaled with maxDim 200 → 200x50 JPEG.
	src := imaging.New(400, 100, image.White.C)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	att, err := PrepareAttachment("big.png", "image/png", buf.Bytes(), KindPhoto, 200)
	if err != nil {
		t.Fatalf("PrepareAttachment: %v", err)
	}
	if att.MimeType != "image/jpeg" {
		t.Errorf("mime = %q, want image/jpeg after downscale", att.MimeType)
	}
	if att.Filename != "big.jpg" {
		t.Errorf("filename = %q, want big.jpg", att.Filename)
	}

	decoded, err := base64.StdEncoding.DecodeString(att.Base64)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(decoded))
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	if w := img.Bounds().Dx(); w != 200 {
		t.Errorf("width = %d, want 200", w)
	}
}

func TestPrepareAttachmentKeepsSmallImage(t *testing.T) {
	src := imaging.New(50, 50, image.White.C)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	att, err := PrepareAttachment("small.png", "image/png", buf.Bytes(), KindPhoto, 200)
	if err != nil {
		t.Fatalf("PrepareAttachment: %v", err)
	}
	if att.MimeType != "image/png" || att.Filename != "small.png" {
		t.Errorf("small image was re-encoded: %q %q", att.Filename, att.MimeType)
	}
}

func TestNewFetchClient(t *testing.T) {
	if _, err := NewFetchClient("http://127.0.0.1:8080", 0); err != nil {
		t.Fatalf("valid proxy rejected: %v", err)
	}
	if _, err := NewFetchClient("://bad", 0); err == nil {
		t.Fatal("invalid proxy accepted")
	}
	client, err := NewFetchClient("", 0)
	if err != nil {
		t.Fatalf("no proxy: %v", err)
	}
	if client.Transport != nil {
		t.Error("transport set without a proxy")
	}
}
