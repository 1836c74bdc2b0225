package channel

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"omnigate/internal/domain"
)

// Media is an attachment resolved to bytes for upload.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
}

// MediaFetcher resolves outgoing media from an inline base64 buffer or a URL.
type MediaFetcher struct {
	Client *http.Client
}

var defaultMediaClient = &http.Client{Timeout: 60 * time.Second}

// Resolve loads the attachment of msg. The mediaBase64 metadata buffer wins
// over MediaURL. limit caps the size in bytes; zero means no cap.
func (f MediaFetcher) Resolve(ctx context.Context, msg domain.OutgoingMessage, limit int64) (Media, error) {
	c := msg.Content
	m := Media{MimeType: c.MimeType, FileName: c.FileName}

	if b64 := msg.MetaString(domain.MetaMediaBase64); b64 != "" {
		data, mimeType, err := decodeBase64(b64)
		if err != nil {
			return Media{}, &domain.ChannelError{
				Kind: domain.KindSendFailed, Reason: domain.ReasonMissingField,
				Message: "invalid mediaBase64", Err: err,
			}
		}
		m.Data = data
		if m.MimeType == "" {
			m.MimeType = mimeType
		}
	} else if c.MediaURL != "" {
		data, ct, err := f.download(ctx, c.MediaURL, limit)
		if err != nil {
			return Media{}, err
		}
		m.Data = data
		if m.MimeType == "" {
			m.MimeType = ct
		}
		if m.FileName == "" {
			m.FileName = path.Base(strings.SplitN(c.MediaURL, "?", 2)[0])
		}
	} else {
		return Media{}, domain.MissingField(c.Type, "mediaUrl or mediaBase64")
	}

	if limit > 0 && int64(len(m.Data)) > limit {
		return Media{}, &domain.ChannelError{
			Kind: domain.KindSendFailed, Reason: domain.ReasonRemoteRejected,
			Message: fmt.Sprintf("%s attachment is %d bytes, limit %d", c.Type, len(m.Data), limit),
		}
	}
	if m.MimeType == "" || m.MimeType == "application/octet-stream" {
		if detected := http.DetectContentType(m.Data); detected != "application/octet-stream" || m.MimeType == "" {
			m.MimeType = detected
		}
	}
	m.MimeType = strings.TrimSpace(strings.SplitN(m.MimeType, ";", 2)[0])
	if m.FileName == "" || m.FileName == "." || m.FileName == "/" {
		m.FileName = string(c.Type)
		if exts, _ := mime.ExtensionsByType(m.MimeType); len(exts) > 0 {
			m.FileName += exts[0]
		}
	}
	return m, nil
}

func (f MediaFetcher) download(ctx context.Context, url string, limit int64) ([]byte, string, error) {
	client := f.Client
	if client == nil {
		client = defaultMediaClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", domain.MissingField(domain.ContentDocument, "valid mediaUrl")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", &domain.ChannelError{
			Kind: domain.KindSendFailed, Reason: domain.ReasonRemoteRejected,
			Message: "download media", Retryable: true, Err: err,
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", domain.FromStatus(resp.StatusCode, "", "download media: "+resp.Status, nil)
	}

	r := io.Reader(resp.Body)
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// decodeBase64 accepts raw base64 or a data: URL.
func decodeBase64(s string) ([]byte, string, error) {
	var mimeType string
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("malformed data url")
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}
