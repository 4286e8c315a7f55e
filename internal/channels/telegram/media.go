package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
)

const (
	// photoMaxBytes is the Bot API download ceiling.
	photoMaxBytes int64 = 20 * 1024 * 1024

	downloadRetries = 3

	// evidenceMaxEdge bounds the stored copy, thumbEdge the preview.
	evidenceMaxEdge = 1280
	thumbEdge       = 320
)

// photoSentinel is the turn text the consultation sees for a photo message.
// The worker records it as the answer to the current intake question.
const photoSentinel = "（用户上传了图片材料）"

// handlePhoto stores the largest rendition of an evidence photo under
// media_dir, then submits the turn with the photo sentinel appended to any
// caption.
func (c *Channel) handlePhoto(ctx context.Context, msg *telego.Message) {
	chatID := msg.Chat.ID

	photo := msg.Photo[len(msg.Photo)-1]
	stored, err := c.storeEvidence(ctx, chatID, msg.MessageID, photo.FileID)
	if err != nil {
		c.logger.Warn("telegram photo store failed", "chat_id", chatID, "error", err)
		c.sendText(ctx, chatID, "图片保存失败，请重新发送，或改用文字描述。")
		return
	}
	c.logger.Info("telegram evidence stored", "chat_id", chatID, "path", stored)

	text := photoSentinel
	if caption := strings.TrimSpace(msg.Caption); caption != "" {
		text = caption + "\n" + photoSentinel
	}
	c.consult(ctx, chatID, text)
}

// storeEvidence downloads one photo, re-encodes it, and writes a thumbnail
// next to it. It returns the path of the normalized full-size copy.
func (c *Channel) storeEvidence(ctx context.Context, chatID int64, messageID int, fileID string) (string, error) {
	raw, err := c.downloadFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	defer os.Remove(raw)

	dir := c.cfg.MediaDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "golaw-media")
	}
	base := fmt.Sprintf("evidence-%d-%d", chatID, messageID)
	return normalizeEvidence(raw, dir, base)
}

// normalizeEvidence decodes src, fits it into the evidence bounds, and saves
// a JPEG copy plus a thumbnail under dir. Re-encoding strips metadata and
// normalizes orientation before anything else reads the file.
func normalizeEvidence(src, dir, base string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, "create media dir", err)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindTool, "decode evidence image", err)
	}

	full := filepath.Join(dir, base+".jpg")
	thumb := filepath.Join(dir, base+"-thumb.jpg")

	normalized := imaging.Fit(img, evidenceMaxEdge, evidenceMaxEdge, imaging.Lanczos)
	if err := imaging.Save(normalized, full, imaging.JPEGQuality(85)); err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, "save evidence image", err)
	}
	if err := imaging.Save(imaging.Fit(normalized, thumbEdge, thumbEdge, imaging.Lanczos), thumb, imaging.JPEGQuality(75)); err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, "save evidence thumbnail", err)
	}
	return full, nil
}

// downloadFile fetches a file from the Bot API into a temp file and returns
// its path. The caller removes the file.
func (c *Channel) downloadFile(ctx context.Context, fileID string) (string, error) {
	var file *telego.File
	var err error
	for attempt := 1; attempt <= downloadRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindTool, fmt.Sprintf("get file after %d attempts", downloadRetries), err)
	}
	if file.FilePath == "" {
		return "", errdefs.Newf(errdefs.KindTool, "file %s has no download path", fileID)
	}
	if int64(file.FileSize) > photoMaxBytes {
		return "", errdefs.Newf(errdefs.KindTool, "file too large: %d bytes", file.FileSize)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.cfg.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindTool, "build download request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindTool, "download file", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errdefs.Newf(errdefs.KindTool, "download failed with status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "golaw_photo_*")
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, "create temp file", err)
	}
	defer tmp.Close()

	written, err := io.Copy(tmp, io.LimitReader(resp.Body, photoMaxBytes+1))
	if err != nil {
		os.Remove(tmp.Name())
		return "", errdefs.Wrap(errdefs.KindStorage, "save download", err)
	}
	if written > photoMaxBytes {
		os.Remove(tmp.Name())
		return "", errdefs.Newf(errdefs.KindTool, "file exceeds %d bytes during download", photoMaxBytes)
	}
	return tmp.Name(), nil
}
