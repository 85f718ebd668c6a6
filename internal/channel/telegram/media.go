package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/telepoe/internal/backend"
	"github.com/nextlevelbuilder/telepoe/internal/relay"
)

// attachmentMaxBytes caps downloads at the Bot API file limit (20MB).
const attachmentMaxBytes int64 = 20 * 1024 * 1024

// resolveAttachment extracts at most one attachment from the message —
// the largest photo size, a video, or a document — downloads it, and
// converts it to the canonical shape. Returns (nil, true) when the message
// carries no attachment. A failed download or conversion notifies the chat
// and returns ok=false: the exchange must not run with the attachment
// silently missing.
func (c *Channel) resolveAttachment(ctx context.Context, message *telego.Message) (*backend.Attachment, bool) {
	var (
		fileID   string
		filename string
		mimeType string
		kind     relay.AttachmentKind
	)

	switch {
	case len(message.Photo) > 0:
		// Telegram sorts photo sizes ascending; take the largest.
		photo := message.Photo[len(message.Photo)-1]
		fileID = photo.FileID
		kind = relay.KindPhoto
	case message.Video != nil:
		fileID = message.Video.FileID
		filename = message.Video.FileName
		mimeType = message.Video.MimeType
		kind = relay.KindVideo
	case message.Document != nil:
		fileID = message.Document.FileID
		filename = message.Document.FileName
		mimeType = message.Document.MimeType
		kind = relay.KindDocument
	default:
		return nil, true
	}

	data, remotePath, err := c.downloadFile(ctx, fileID)
	if err != nil {
		slog.Warn("attachment download failed", "file_id", fileID, "error", err)
		c.Notify(ctx, message.Chat.ID, "Не удалось загрузить вложение, попробуйте ещё раз.")
		return nil, false
	}
	if filename == "" {
		filename = remotePath
	}

	att, err := relay.PrepareAttachment(filename, mimeType, data, kind, c.imageMaxDim)
	if err != nil {
		slog.Warn("attachment conversion failed", "file_id", fileID, "error", err)
		c.Notify(ctx, message.Chat.ID, "Не удалось обработать вложение.")
		return nil, false
	}
	return &att, true
}

// downloadFile fetches the file bytes through the channel's fetch client
// (which carries the configured proxy, if any). Returns the remote path's
// base name as a filename hint.
func (c *Channel) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > attachmentMaxBytes {
		return nil, "", fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, attachmentMaxBytes)
	}

	url := c.bot.FileDownloadURL(file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.fetch.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, attachmentMaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	if int64(len(data)) > attachmentMaxBytes {
		return nil, "", fmt.Errorf("file exceeds max size during download")
	}

	return data, baseName(file.FilePath), nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
