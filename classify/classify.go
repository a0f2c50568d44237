// Package classify decides which decoding strategy applies to a candidate
// message file by inspecting its leading bytes only.
package classify

import (
	"bytes"
	"io"
	"os"
	"regexp"

	"github.com/dhcgn/pmmail-to-eml/model"
)

// SniffLimit is the most bytes the classifier ever inspects. Classification
// runs once per file, so the read must stay bounded regardless of file size.
const SniffLimit = 4096

// headerScanLines bounds how deep into the prefix a header line may appear.
const headerScanLines = 20

// cfbMagic is the compound file binary signature (OLE2), the container
// format of Outlook MSG files.
var cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// headerLine matches an RFC 5322 field name followed by a colon: any run of
// printable ASCII excluding colon and space.
var headerLine = regexp.MustCompile(`^[!-9;-~]+:`)

// Detect classifies the leading bytes of a candidate file. It never fails;
// ambiguous or empty input resolves to UnknownBinary and any error surfaces
// later at the decode stage. A NUL byte anywhere in the prefix marks the
// input as binary even when the rest reads as text, so such files take the
// verbatim-copy path rather than a lossy text decode.
func Detect(prefix []byte) model.Classification {
	if len(prefix) == 0 {
		return model.UnknownBinary
	}
	if bytes.HasPrefix(prefix, cfbMagic) {
		return model.StructuredContainer
	}
	if looksLikeMail(prefix) {
		return model.PlainText
	}
	return model.UnknownBinary
}

// File classifies the file at path, reading at most SniffLimit bytes.
// Unreadable files classify as UnknownBinary.
func File(path string) model.Classification {
	f, err := os.Open(path)
	if err != nil {
		return model.UnknownBinary
	}
	defer f.Close()

	buf := make([]byte, SniffLimit)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return model.UnknownBinary
	}
	return Detect(buf[:n])
}

// IsHeaderLine reports whether line starts with a syntactically valid
// "Name:" header field. No match against known header names is required.
func IsHeaderLine(line []byte) bool {
	return headerLine.Match(line)
}

func looksLikeMail(prefix []byte) bool {
	// NUL bytes never occur in header text; their presence marks the
	// proprietary binary index format.
	if bytes.IndexByte(prefix, 0) >= 0 {
		return false
	}

	lines := bytes.SplitN(prefix, []byte("\n"), headerScanLines+1)
	if len(lines) > headerScanLines {
		lines = lines[:headerScanLines]
	}
	for _, line := range lines {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if IsHeaderLine(line) {
			return true
		}
	}
	return false
}
