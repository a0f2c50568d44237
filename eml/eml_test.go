package eml

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/pmmail-to-eml/classify"
	"github.com/dhcgn/pmmail-to-eml/model"
	"github.com/dhcgn/pmmail-to-eml/textmail"
)

func TestSerialize_RoundTrip(t *testing.T) {
	msg := textmail.Decode([]byte("Subject: Hi\n\nBody text"))

	out, err := Serialize(msg)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	defer mr.Close()

	if got, _ := mr.Header.Subject(); got != "Hi" {
		t.Errorf("Subject = %q, want %q", got, "Hi")
	}

	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart() error = %v", err)
	}
	body, err := io.ReadAll(part.Body)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(body)); got != "Body text" {
		t.Errorf("body = %q, want %q", got, "Body text")
	}
}

func TestSerialize_OutputClassifiesAsPlainText(t *testing.T) {
	// Generated output fed back through the classifier must land on the
	// plain-text branch again.
	inputs := []string{
		"Subject: Hi\n\nBody text",
		"just some words",
		"From: a@example.com\nSubject: x\n\nhello",
	}
	for _, in := range inputs {
		out, err := Serialize(textmail.Decode([]byte(in)))
		if err != nil {
			t.Fatalf("Serialize(%q) error = %v", in, err)
		}
		if got := classify.Detect(out); got != model.PlainText {
			t.Errorf("Detect(serialized %q) = %v, want PlainText", in, got)
		}
	}
}

func TestSerialize_WithAttachment(t *testing.T) {
	msg := &model.Message{
		Body: "see attachment",
		Attachments: []model.Attachment{
			{Filename: "report.txt", ContentType: "text/plain", Data: []byte("data data")},
		},
	}
	msg.AddHeader("Subject", "with file")
	msg.AddHeader("Date", "Thu, 01 Jan 1970 00:00:00 +0000")

	out, err := Serialize(msg)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	defer mr.Close()

	var sawBody, sawAttachment bool
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			data, _ := io.ReadAll(part.Body)
			if strings.Contains(string(data), "see attachment") {
				sawBody = true
			}
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			if name == "report.txt" {
				data, _ := io.ReadAll(part.Body)
				if string(data) == "data data" {
					sawAttachment = true
				}
			}
		}
	}
	if !sawBody {
		t.Error("inline body part missing")
	}
	if !sawAttachment {
		t.Error("attachment part missing or corrupted")
	}
}

func TestSerialize_HTMLPreferred(t *testing.T) {
	msg := &model.Message{HTMLBody: "<p>rich</p>"}
	msg.AddHeader("Date", "Thu, 01 Jan 1970 00:00:00 +0000")

	out, err := Serialize(msg)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if !bytes.Contains(out, []byte("text/html")) {
		t.Error("expected text/html content type in output")
	}
}
