// Package msgfile decodes Outlook MSG files: OLE2 compound-file containers
// whose streams hold MAPI properties. Only the properties needed to rebuild
// a standard mail message are extracted.
package msgfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"

	"github.com/dhcgn/pmmail-to-eml/model"
	"github.com/dhcgn/pmmail-to-eml/names"
)

// MAPI property identifiers used to rebuild the message.
const (
	propSubject      = 0x0037
	propClientSubmit = 0x0039
	propSenderName   = 0x0C1A
	propSenderEmail  = 0x0C1F
	propDisplayCc    = 0x0E03
	propDisplayTo    = 0x0E04
	propDeliveryTime = 0x0E06
	propBody         = 0x1000
	propHTML         = 0x1013
	propMessageID    = 0x1035
	propInReplyTo    = 0x1042
	propAttachData   = 0x3701
	propAttachShort  = 0x3704
	propAttachLong   = 0x3707
	propAttachMime   = 0x370E
	propSenderSMTP   = 0x5D01
)

// MAPI property types.
const (
	typeString8  = 0x001E // 8-bit, codepage dependent
	typeUnicode  = 0x001F // UTF-16LE
	typeFiletime = 0x0040
	typeBinary   = 0x0102
	typeObject   = 0x000D // embedded object, e.g. a nested message
)

const (
	substgPrefix     = "__substg1.0_"
	attachPrefix     = "__attach_version1.0_"
	propertiesStream = "__properties_version1.0"

	// topPropertiesHeader is the fixed header size of the top-level
	// properties stream; fixed-width records follow.
	topPropertiesHeader = 32
	propertyRecordSize  = 16
)

// DecodeError reports a container that could not be decoded into a message.
// The orchestrator recovers by copying the original bytes verbatim.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "msg decode: " + e.Op
	}
	return fmt.Sprintf("msg decode: %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// attachment accumulates the streams of one __attach storage.
type attachment struct {
	shortName string
	longName  string
	mimeType  string
	data      []byte
	hasData   bool
	readErr   error
	embedded  bool
}

// Decode parses a structured container into a Message. Malformed containers
// fail with a DecodeError; unreadable individual attachments are skipped
// with a warning instead of failing the whole message.
func Decode(raw []byte, logger *slog.Logger) (*model.Message, error) {
	doc, err := mscfb.New(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Op: "open container", Err: err}
	}

	props := map[uint16]string{}
	var htmlRaw []byte
	var date time.Time

	attachments := map[string]*attachment{}
	var attachOrder []string

	for entry, err := doc.Next(); err != io.EOF; entry, err = doc.Next() {
		if err != nil {
			return nil, &DecodeError{Op: "read directory", Err: err}
		}

		switch {
		case len(entry.Path) == 0 && entry.Name == propertiesStream:
			data, readErr := readStream(entry)
			if readErr != nil {
				continue
			}
			date = deliveryDate(data)

		case len(entry.Path) == 0 && strings.HasPrefix(entry.Name, substgPrefix):
			id, typ, ok := parseStreamName(entry.Name)
			if !ok {
				continue
			}
			data, readErr := readStream(entry)
			if readErr != nil {
				// One bad property stream does not sink the message.
				continue
			}
			if id == propHTML {
				htmlRaw = data
				continue
			}
			if s := decodeString(data, typ); s != "" {
				if _, seen := props[id]; !seen {
					props[id] = s
				}
			}

		case len(entry.Path) == 1 && strings.HasPrefix(entry.Path[0], attachPrefix):
			storage := entry.Path[0]
			att, seen := attachments[storage]
			if !seen {
				att = &attachment{}
				attachments[storage] = att
				attachOrder = append(attachOrder, storage)
			}
			collectAttachmentStream(entry, att)
		}
	}

	if len(props) == 0 && htmlRaw == nil {
		return nil, &DecodeError{Op: "no message property streams"}
	}

	msg := buildMessage(props, htmlRaw, date)
	msg.Attachments = assembleAttachments(attachments, attachOrder, logger)
	return msg, nil
}

func readStream(entry *mscfb.File) ([]byte, error) {
	if entry.Size <= 0 {
		return nil, nil
	}
	return io.ReadAll(entry)
}

// parseStreamName splits a __substg1.0_XXXXYYYY stream name into property
// id (XXXX) and type (YYYY).
func parseStreamName(name string) (id uint16, typ uint16, ok bool) {
	hexPart := strings.TrimPrefix(name, substgPrefix)
	if len(hexPart) < 8 {
		return 0, 0, false
	}
	tag, err := strconv.ParseUint(hexPart[:8], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint16(tag >> 16), uint16(tag & 0xFFFF), true
}

func decodeString(data []byte, typ uint16) string {
	switch typ {
	case typeUnicode:
		return decodeUTF16LE(data)
	case typeString8, typeBinary:
		return decode8Bit(data)
	default:
		return ""
	}
}

func decodeUTF16LE(data []byte) string {
	if len(data)%2 == 1 {
		data = data[:len(data)-1]
	}
	u := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		u = append(u, binary.LittleEndian.Uint16(data[i:]))
	}
	return strings.Trim(string(utf16.Decode(u)), "\x00")
}

func decode8Bit(data []byte) string {
	data = bytes.Trim(data, "\x00")
	if decoded, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil {
		return string(decoded)
	}
	return string(data)
}

// deliveryDate scans the top-level properties stream for a delivery or
// submit FILETIME.
func deliveryDate(data []byte) time.Time {
	var submit time.Time
	for off := topPropertiesHeader; off+propertyRecordSize <= len(data); off += propertyRecordSize {
		tag := binary.LittleEndian.Uint32(data[off:])
		id := uint16(tag >> 16)
		typ := uint16(tag & 0xFFFF)
		if typ != typeFiletime {
			continue
		}
		t := filetime(binary.LittleEndian.Uint64(data[off+8:]))
		switch id {
		case propDeliveryTime:
			return t
		case propClientSubmit:
			submit = t
		}
	}
	return submit
}

// filetime converts 100ns ticks since 1601-01-01 to a time.Time.
func filetime(ticks uint64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	const epochDelta = 11644473600 // seconds between 1601 and 1970
	secs := int64(ticks/10_000_000) - epochDelta
	nanos := int64(ticks%10_000_000) * 100
	return time.Unix(secs, nanos).UTC()
}

func collectAttachmentStream(entry *mscfb.File, att *attachment) {
	id, typ, ok := parseStreamName(entry.Name)
	if !ok {
		return
	}

	if id == propAttachData {
		if typ == typeObject {
			att.embedded = true
			return
		}
		data, err := readStream(entry)
		if err != nil {
			att.readErr = err
			return
		}
		att.data = data
		att.hasData = true
		return
	}

	data, err := readStream(entry)
	if err != nil {
		return
	}
	value := decodeString(data, typ)
	switch id {
	case propAttachShort:
		att.shortName = value
	case propAttachLong:
		att.longName = value
	case propAttachMime:
		att.mimeType = value
	}
}

func assembleAttachments(attachments map[string]*attachment, order []string, logger *slog.Logger) []model.Attachment {
	var out []model.Attachment
	seen := map[string]int{}

	for _, storage := range order {
		att := attachments[storage]

		if att.embedded {
			if logger != nil {
				logger.Warn("skipping embedded message attachment", "storage", storage)
			}
			continue
		}
		if att.readErr != nil {
			if logger != nil {
				logger.Warn("skipping unreadable attachment", "storage", storage, "err", att.readErr)
			}
			continue
		}
		if !att.hasData {
			continue
		}

		name := att.longName
		if name == "" {
			name = att.shortName
		}
		if name == "" {
			name = "attachment"
		}
		name = dedupeName(names.Sanitize(name), seen)

		out = append(out, model.Attachment{
			Filename:    name,
			ContentType: att.mimeType,
			Data:        att.data,
		})
	}
	return out
}

// dedupeName disambiguates attachment names that collide after
// sanitization by appending a numeric suffix before the extension:
// report.pdf, report-1.pdf, report-2.pdf, ...
func dedupeName(name string, seen map[string]int) string {
	key := strings.ToLower(name)
	n, taken := seen[key]
	if !taken {
		seen[key] = 0
		return name
	}

	ext := ""
	stem := name
	if idx := strings.LastIndexByte(name, '.'); idx > 0 {
		stem, ext = name[:idx], name[idx:]
	}
	for i := n + 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		candKey := strings.ToLower(candidate)
		if _, exists := seen[candKey]; !exists {
			seen[key] = i
			seen[candKey] = 0
			return candidate
		}
	}
}

func buildMessage(props map[uint16]string, htmlRaw []byte, date time.Time) *model.Message {
	msg := &model.Message{}

	if from := fromHeader(props); from != "" {
		msg.AddHeader("From", from)
	}
	if to := recipientList(props[propDisplayTo]); to != "" {
		msg.AddHeader("To", to)
	}
	if cc := recipientList(props[propDisplayCc]); cc != "" {
		msg.AddHeader("Cc", cc)
	}
	if subject := props[propSubject]; subject != "" {
		msg.AddHeader("Subject", subject)
	}
	if !date.IsZero() {
		msg.AddHeader("Date", date.Format(time.RFC1123Z))
	} else {
		msg.AddHeader("Date", time.Unix(0, 0).UTC().Format(time.RFC1123Z))
	}
	if id := props[propMessageID]; id != "" {
		msg.AddHeader("Message-ID", id)
	}
	if irt := props[propInReplyTo]; irt != "" {
		msg.AddHeader("In-Reply-To", irt)
	}

	msg.Body = props[propBody]
	if len(htmlRaw) > 0 {
		msg.HTMLBody = decode8Bit(htmlRaw)
	}
	return msg
}

func fromHeader(props map[uint16]string) string {
	email := props[propSenderSMTP]
	if email == "" {
		email = props[propSenderEmail]
	}
	name := props[propSenderName]

	switch {
	case email != "" && strings.Contains(email, "@"):
		addr := mail.Address{Name: name, Address: email}
		return addr.String()
	case name != "":
		return name
	default:
		return ""
	}
}

// recipientList rewrites MAPI display lists ("a; b; c") as RFC 822 address
// list separators.
func recipientList(display string) string {
	display = strings.TrimSpace(display)
	if display == "" {
		return ""
	}
	parts := strings.Split(display, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ", ")
}
