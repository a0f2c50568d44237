package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dhcgn/pmmail-to-eml/model"
)

func TestLine(t *testing.T) {
	o := model.Outcome{
		Tag:   model.OutcomeCopied,
		Entry: model.Entry{SourcePath: "/src/INBOX/0001.MSG"},
	}
	if got := Line(o); got != "COPIED_UNKNOWN\t/src/INBOX/0001.MSG" {
		t.Errorf("Line() = %q", got)
	}

	o.Tag = model.OutcomeFailed
	o.Reason = "boom\nsecond line"
	got := Line(o)
	if !strings.HasPrefix(got, "FAILED\t") {
		t.Errorf("Line() = %q, want FAILED tag prefix", got)
	}
	if strings.Contains(got, "\n") {
		t.Errorf("Line() contains embedded newline: %q", got)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversion_log.txt")
	sink, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sink.Append("CONVERTED\t/src/a.msg")
		}()
	}
	wg.Wait()

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 10 {
		t.Errorf("got %d lines, want 10", len(lines))
	}
	for _, line := range lines {
		if line != "CONVERTED\t/src/a.msg" {
			t.Errorf("unexpected line %q", line)
		}
	}
}

func TestMemorySink(t *testing.T) {
	m := NewMemory()
	_ = m.Append("one")
	_ = m.Append("two")

	lines := m.Lines()
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Errorf("Lines() = %v", lines)
	}
}
