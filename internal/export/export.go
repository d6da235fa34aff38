// Package export renders a conversation as plain text, Markdown or JSON for
// download, clipboard copy and sharing.
package export

import (
	"fmt"
	"strings"

	"github.com/username/chatbae/internal/domain/entities"
)

// DefaultAssistantName labels model messages when no name is configured
const DefaultAssistantName = "ChatBae"

// Exporter converts a conversation to a target format
type Exporter interface {
	// Export renders conv; userName labels the user's messages
	Export(conv entities.Conversation, userName string) ([]byte, error)

	// FileExtension returns the extension including the dot
	FileExtension() string

	// MimeType returns the MIME type for the exported format
	MimeType() string
}

// Format names a supported export format
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
)

// Formats lists every supported format
func Formats() []Format {
	return []Format{FormatText, FormatMarkdown, FormatJSON}
}

// ParseFormat accepts a format name, defaulting to plain text when empty
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatText, "text":
		return FormatText, nil
	case FormatMarkdown, "markdown":
		return FormatMarkdown, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", value)
	}
}

// New returns the exporter for format
func New(format Format, assistantName string) (Exporter, error) {
	if assistantName == "" {
		assistantName = DefaultAssistantName
	}
	switch format {
	case FormatText:
		return &TextExporter{assistantName: assistantName}, nil
	case FormatMarkdown:
		return &MarkdownExporter{assistantName: assistantName}, nil
	case FormatJSON:
		return &JSONExporter{assistantName: assistantName}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// FileName derives a download name from the conversation title by replacing
// spaces with underscores. Path separators are replaced too.
func FileName(title string, exporter Exporter) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = entities.DefaultTitle
	}
	name := strings.NewReplacer(" ", "_", "/", "-", "\\", "-").Replace(title)
	return name + exporter.FileExtension()
}

// Transcript is the "Name: content" rendering used for clipboard copy
func Transcript(conv entities.Conversation, userName, assistantName string) string {
	if assistantName == "" {
		assistantName = DefaultAssistantName
	}
	blocks := make([]string, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		blocks = append(blocks, speaker(msg, userName, assistantName)+": "+msg.Content)
	}
	return strings.Join(blocks, "\n\n")
}

// ShareText is the transcript prefixed with the share heading
func ShareText(conv entities.Conversation, userName, assistantName string) string {
	if assistantName == "" {
		assistantName = DefaultAssistantName
	}
	return fmt.Sprintf("A conversation with %s:\n\n%s", assistantName, Transcript(conv, userName, assistantName))
}

func speaker(msg entities.Message, userName, assistantName string) string {
	if msg.IsFromUser() {
		if userName == "" {
			return entities.DefaultProfileName
		}
		return userName
	}
	return assistantName
}

// TextExporter writes the plain transcript
type TextExporter struct {
	assistantName string
}

// Export renders the transcript as UTF-8 text
func (e *TextExporter) Export(conv entities.Conversation, userName string) ([]byte, error) {
	return []byte(Transcript(conv, userName, e.assistantName)), nil
}

// FileExtension implements Exporter
func (e *TextExporter) FileExtension() string { return ".txt" }

// MimeType implements Exporter
func (e *TextExporter) MimeType() string { return "text/plain; charset=utf-8" }
