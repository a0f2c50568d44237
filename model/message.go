package model

import "strings"

// Classification is the sniffing verdict for a candidate message file.
type Classification int

const (
	// UnknownBinary is the fallback for anything that is neither a
	// compound-file container nor text with at least one header line.
	UnknownBinary Classification = iota
	// StructuredContainer is an OLE2 compound file, i.e. a real Outlook MSG.
	StructuredContainer
	// PlainText already looks like an RFC 822 message.
	PlainText
)

func (c Classification) String() string {
	switch c {
	case StructuredContainer:
		return "structured"
	case PlainText:
		return "plaintext"
	default:
		return "unknown"
	}
}

// Entry is one candidate message file discovered in the source tree.
type Entry struct {
	// SourcePath is the absolute path of the candidate file.
	SourcePath string
	// DestDir is the resolved destination directory (display names applied).
	DestDir string
	// Folder is the archive-internal identifier of the containing folder.
	Folder string
	Size   int64
}

// Header is a single message header field. Duplicates are allowed and
// order is preserved.
type Header struct {
	Name  string
	Value string
}

// Attachment is one embedded file extracted from a structured container.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is the decoded, in-memory form of one mail message, ready for
// EML serialization. Decoders guarantee at least a Date header so the
// serialized artifact is structurally valid even for partial sources.
type Message struct {
	Headers     []Header
	Body        string
	HTMLBody    string
	Attachments []Attachment
}

// Header returns the value of the first header with the given name,
// matched case-insensitively, or "" when absent.
func (m *Message) Header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// AddHeader appends a header field, preserving insertion order.
func (m *Message) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// OutcomeTag is the per-entry conversion result recorded in the run log.
type OutcomeTag string

const (
	OutcomeConverted OutcomeTag = "CONVERTED"
	OutcomeCopied    OutcomeTag = "COPIED_UNKNOWN"
	OutcomeFailed    OutcomeTag = "FAILED"
)

// Outcome is the result of processing a single entry. Exactly one outcome
// exists per entry.
type Outcome struct {
	Tag      OutcomeTag
	Entry    Entry
	DestPath string
	// Reason holds the failure or fallback cause, empty on clean conversion.
	Reason string
}
