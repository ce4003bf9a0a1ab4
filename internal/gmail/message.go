package gmail

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"
)

// HeaderValue returns the first header named name, case-insensitively.
func HeaderValue(m *gmail.Message, name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func toSummary(m *gmail.Message) MessageSummary {
	s := MessageSummary{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		From:     HeaderValue(m, "From"),
		To:       HeaderValue(m, "To"),
		Subject:  HeaderValue(m, "Subject"),
		Snippet:  m.Snippet,
		Labels:   m.LabelIds,
	}
	if m.InternalDate > 0 {
		s.Date = time.UnixMilli(m.InternalDate).UTC()
	}
	return s
}

// textBody returns the text/plain body, falling back to text/html.
func textBody(m *gmail.Message) (string, error) {
	if m.Payload == nil {
		return "", nil
	}
	for _, mimeType := range []string{"text/plain", "text/html"} {
		var data string
		walkParts(m.Payload, func(p *gmail.MessagePart) {
			if data == "" && p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
				data = p.Body.Data
			}
		})
		if data == "" {
			continue
		}
		decoded, err := base64.URLEncoding.DecodeString(data)
		if err != nil {
			// Gmail usually omits padding.
			decoded, err = base64.RawURLEncoding.DecodeString(data)
			if err != nil {
				return "", fmt.Errorf("failed to decode body of message %s: %w", m.Id, err)
			}
		}
		return string(decoded), nil
	}
	return "", nil
}

func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, sub := range part.Parts {
		walkParts(sub, fn)
	}
}
