package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/username/chatbae/internal/domain/entities"
)

// MarkdownExporter writes a titled transcript with one section per message
type MarkdownExporter struct {
	assistantName string
}

// Export renders conv as Markdown
func (e *MarkdownExporter) Export(conv entities.Conversation, userName string) ([]byte, error) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(conv.Title)))
	if conv.CreatedAt > 0 {
		sb.WriteString(fmt.Sprintf("_Started %s_\n\n", formatTimestamp(conv.CreatedAt)))
	}

	for i, msg := range conv.Messages {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		sb.WriteString(fmt.Sprintf("**%s**", escapeMarkdown(speaker(msg, userName, e.assistantName))))
		if msg.Timestamp > 0 {
			sb.WriteString(fmt.Sprintf(" · %s", formatTimestamp(msg.Timestamp)))
		}
		sb.WriteString("\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}

// FileExtension implements Exporter
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// MimeType implements Exporter
func (e *MarkdownExporter) MimeType() string { return "text/markdown; charset=utf-8" }

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"#", `\#`,
	"[", `\[`,
	"]", `\]`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04 UTC")
}
