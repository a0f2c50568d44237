package convert

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dhcgn/pmmail-to-eml/classify"
	"github.com/dhcgn/pmmail-to-eml/model"
	"github.com/dhcgn/pmmail-to-eml/runlog"
)

var cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

func newTestConverter(t *testing.T, target string) (*Converter, *runlog.Memory) {
	t.Helper()
	sink := runlog.NewMemory()
	c, err := New(Options{Target: target}, sink, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, sink
}

func writeEntry(t *testing.T, srcDir, destDir, name string, data []byte) model.Entry {
	t.Helper()
	path := filepath.Join(srcDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return model.Entry{
		SourcePath: path,
		DestDir:    destDir,
		Folder:     filepath.Base(srcDir),
		Size:       int64(len(data)),
	}
}

func TestProcess_PlainText(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	c, sink := newTestConverter(t, dst)

	entry := writeEntry(t, src, dst, "0001.MSG", []byte("Subject: Hi\n\nBody text"))
	outcome, err := c.Process(entry)
	c.record(outcome)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if outcome.Tag != model.OutcomeConverted {
		t.Fatalf("outcome = %v, want Converted", outcome.Tag)
	}
	if filepath.Ext(outcome.DestPath) != ".eml" {
		t.Errorf("DestPath = %q, want .eml extension", outcome.DestPath)
	}

	data, err := os.ReadFile(outcome.DestPath)
	if err != nil {
		t.Fatalf("destination artifact missing: %v", err)
	}
	if classify.Detect(data) != model.PlainText {
		t.Error("converted output does not classify as plain text")
	}
	if !bytes.Contains(data, []byte("Hi")) {
		t.Error("subject missing from converted output")
	}

	lines := sink.Lines()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], string(model.OutcomeConverted)) {
		t.Errorf("run log lines = %v", lines)
	}
}

func TestProcess_UnknownBinaryCopiedVerbatim(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	c, _ := newTestConverter(t, dst)

	raw := []byte{0x01, 0x02, 0x00, 0xFF, 0x10}
	entry := writeEntry(t, src, dst, "blob.msg", raw)

	outcome, err := c.Process(entry)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Tag != model.OutcomeCopied {
		t.Fatalf("outcome = %v, want CopiedAsUnknown", outcome.Tag)
	}
	if filepath.Base(outcome.DestPath) != "blob.msg" {
		t.Errorf("copy should keep the original name, got %q", outcome.DestPath)
	}

	data, err := os.ReadFile(outcome.DestPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, raw) {
		t.Error("copied artifact is not byte-identical to the source")
	}
}

func TestProcess_MalformedContainerFallsBack(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	c, sink := newTestConverter(t, dst)

	// CFB magic followed by garbage: structured decode must fail and the
	// source must be copied verbatim.
	raw := append(append([]byte{}, cfbMagic...), bytes.Repeat([]byte{0xCC}, 128)...)
	entry := writeEntry(t, src, dst, "broken.msg", raw)

	outcome, err := c.Process(entry)
	c.record(outcome)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Tag != model.OutcomeCopied {
		t.Fatalf("outcome = %v, want CopiedAsUnknown", outcome.Tag)
	}
	if outcome.Reason == "" {
		t.Error("expected a decode failure reason")
	}

	data, err := os.ReadFile(outcome.DestPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, raw) {
		t.Error("fallback copy is not byte-identical to the source")
	}

	lines := sink.Lines()
	if len(lines) != 1 || !strings.Contains(lines[0], "msg decode") {
		t.Errorf("run log should carry the decode reason, got %v", lines)
	}
}

func TestProcess_ExactlyOneArtifactPerEntry(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	c, sink := newTestConverter(t, dst)

	entries := []model.Entry{
		writeEntry(t, src, dst, "text.msg", []byte("Subject: a\n\nb")),
		writeEntry(t, src, dst, "binary.msg", []byte{0x00, 0x01}),
		writeEntry(t, src, dst, "broken.msg", append(append([]byte{}, cfbMagic...), 0xDE, 0xAD)),
	}

	for _, entry := range entries {
		outcome, err := c.Process(entry)
		c.record(outcome)
		if err != nil {
			t.Fatalf("Process(%s) error = %v", entry.SourcePath, err)
		}
		if _, statErr := os.Stat(outcome.DestPath); statErr != nil {
			t.Errorf("missing artifact for %s: %v", entry.SourcePath, statErr)
		}
	}

	files, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != len(entries) {
		t.Errorf("destination has %d artifacts, want %d", len(files), len(entries))
	}
	if got := len(sink.Lines()); got != len(entries) {
		t.Errorf("run log has %d lines, want %d", got, len(entries))
	}
}

func TestProcess_CollidingDestinationsGetSuffix(t *testing.T) {
	dst := t.TempDir()
	c, _ := newTestConverter(t, dst)

	// Two sources whose names collide case-insensitively after conversion
	// must still yield two artifacts, never a silent overwrite.
	srcA, srcB := t.TempDir(), t.TempDir()
	first := writeEntry(t, srcA, dst, "a.msg", []byte("Subject: one\n\nfirst"))
	second := writeEntry(t, srcB, dst, "A.MSG", []byte("Subject: two\n\nsecond"))

	outA, err := c.Process(first)
	if err != nil {
		t.Fatalf("Process(first) error = %v", err)
	}
	outB, err := c.Process(second)
	if err != nil {
		t.Fatalf("Process(second) error = %v", err)
	}

	if strings.EqualFold(outA.DestPath, outB.DestPath) {
		t.Fatalf("both entries wrote %q", outA.DestPath)
	}
	if filepath.Base(outB.DestPath) != "A-1.eml" {
		t.Errorf("second artifact = %q, want numeric suffix A-1.eml", filepath.Base(outB.DestPath))
	}

	for _, out := range []model.Outcome{outA, outB} {
		data, readErr := os.ReadFile(out.DestPath)
		if readErr != nil {
			t.Fatalf("missing artifact %s: %v", out.DestPath, readErr)
		}
		if len(data) == 0 {
			t.Errorf("empty artifact %s", out.DestPath)
		}
	}

	files, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("destination has %d artifacts, want 2", len(files))
	}
}

func TestProcess_DryRunWritesNothing(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	sink := runlog.NewMemory()
	c, err := New(Options{Target: dst, DryRun: true}, sink, nil)
	if err != nil {
		t.Fatal(err)
	}

	entry := writeEntry(t, src, dst, "0001.MSG", []byte("Subject: Hi\n\nBody"))
	outcome, err := c.Process(entry)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Tag != model.OutcomeConverted {
		t.Errorf("outcome = %v, want Converted", outcome.Tag)
	}

	files, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if filepath.Ext(f.Name()) == ".eml" {
			t.Errorf("dry run wrote artifact %s", f.Name())
		}
	}
}

func TestProcess_MissingSourceFails(t *testing.T) {
	dst := t.TempDir()
	c, _ := newTestConverter(t, dst)

	outcome, err := c.Process(model.Entry{
		SourcePath: filepath.Join(dst, "nope.msg"),
		DestDir:    dst,
	})
	if err != nil {
		t.Fatalf("read failures must not abort the run, got %v", err)
	}
	if outcome.Tag != model.OutcomeFailed {
		t.Errorf("outcome = %v, want Failed", outcome.Tag)
	}
	if outcome.Reason == "" {
		t.Error("expected a failure reason")
	}
}
