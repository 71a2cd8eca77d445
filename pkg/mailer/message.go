package mailer

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tfplatform/eventfabric/pkg/attachments"
)

// Message is an outgoing email ready for assembly
type Message struct {
	From        string
	FromName    string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	IsHTML      bool
	Attachments []*attachments.Attachment
}

// Recipients returns the full envelope recipient set, BCC included
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

// Build assembles the RFC 5322 message and returns it with its Message-ID
func (m *Message) Build() ([]byte, string, error) {
	if len(m.To) == 0 {
		return nil, "", fmt.Errorf("message has no recipients")
	}

	messageID := fmt.Sprintf("<%s@eventfabric>", uuid.NewString())

	var b strings.Builder
	writeHeader(&b, "From", formatAddress(m.From, m.FromName))
	writeHeader(&b, "To", strings.Join(m.To, ", "))
	if len(m.Cc) > 0 {
		writeHeader(&b, "Cc", strings.Join(m.Cc, ", "))
	}
	writeHeader(&b, "Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader(&b, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&b, "Message-ID", messageID)
	writeHeader(&b, "MIME-Version", "1.0")

	if len(m.Attachments) == 0 {
		writeHeader(&b, "Content-Type", m.contentType())
		b.WriteString("\r\n")
		b.WriteString(m.Body)
		return []byte(b.String()), messageID, nil
	}

	boundary := "=_eventfabric_" + uuid.NewString()
	writeHeader(&b, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", boundary))
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "\r\n")
	writeHeader(&b, "Content-Type", m.contentType())
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	b.WriteString("\r\n")

	for _, att := range m.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		b.WriteString("--" + boundary + "\r\n")
		writeHeader(&b, "Content-Type", fmt.Sprintf("%s; name=%q", contentType, att.Filename))
		writeHeader(&b, "Content-Transfer-Encoding", "base64")
		writeHeader(&b, "Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		b.WriteString("\r\n")
		writeBase64(&b, att.Data)
	}
	b.WriteString("--" + boundary + "--\r\n")

	return []byte(b.String()), messageID, nil
}

func (m *Message) contentType() string {
	if m.IsHTML {
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func formatAddress(addr, name string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), addr)
}

// writeBase64 emits base64 data in 76-character lines
func writeBase64(b *strings.Builder, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	if encoded != "" {
		b.WriteString(encoded)
		b.WriteString("\r\n")
	}
}

// AppendFooter adds the configured footer to a rendered body. The HTML form
// slots in before the closing body tag when one exists.
func AppendFooter(body string, isHTML bool, footer string) string {
	if footer == "" {
		return body
	}
	if !isHTML {
		return body + "\n\n" + footer
	}
	lower := strings.ToLower(body)
	if i := strings.LastIndex(lower, "</body>"); i >= 0 {
		return body[:i] + footer + body[i:]
	}
	return body + footer
}
