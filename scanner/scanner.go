// Package scanner discovers candidate message files in a legacy archive
// tree and resolves their destination directories.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhcgn/pmmail-to-eml/model"
	"github.com/dhcgn/pmmail-to-eml/names"
	"github.com/dhcgn/pmmail-to-eml/runner"
	"github.com/dhcgn/pmmail-to-eml/stats"
)

const (
	accountDirExt = ".ACT"
	folderDirExt  = ".FLD"
	candidateExt  = ".MSG"
)

type Options struct {
	Source string
	Target string
}

// Producer walks the source tree and feeds entries into the pipeline.
type Producer struct {
	opts   Options
	runner *runner.Runner
	logger *slog.Logger
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	if strings.TrimSpace(opts.Source) == "" {
		return nil, fmt.Errorf("source directory is empty")
	}
	if _, err := os.Stat(opts.Source); err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}

	producer := &Producer{opts: opts, runner: r, logger: logger}
	r.AddStage("scan", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseEntries()
	return p.scan(ctx)
}

func (p *Producer) scan(ctx context.Context) error {
	displayNames := p.buildNameMap()

	return filepath.WalkDir(p.opts.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if p.logger != nil {
				p.logger.Warn("skipping unreadable path", "path", path, "err", err)
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), candidateExt) {
			return nil
		}

		var size int64
		if info, infoErr := d.Info(); infoErr == nil {
			size = info.Size()
		}

		dir := filepath.Dir(path)
		entry := model.Entry{
			SourcePath: path,
			DestDir:    p.mapDestDir(dir, displayNames),
			Folder:     stem(dir),
			Size:       size,
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.runner.EntriesWriter() <- entry:
			p.runner.EmitEvent(stats.Event{Stage: stats.StageScan, Type: stats.EventTypeScanned, Source: path})
		}
		return nil
	})
}

// buildNameMap resolves a display name for every account and folder
// directory in the tree. Missing or corrupt identifier tables fall back to
// the sanitized directory name; metadata problems are never fatal.
func (p *Producer) buildNameMap() map[string]string {
	displayNames := map[string]string{}
	accountTables := map[string]map[string]string{}

	// WalkDir visits parents before children, so the owning account's
	// table is always registered before its folders.
	_ = filepath.WalkDir(p.opts.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		ext := strings.ToUpper(filepath.Ext(path))
		id := stem(path)

		switch ext {
		case accountDirExt:
			table := names.LoadTable(filepath.Join(path, names.AccountTableFile))
			accountTables[path] = table
			displayNames[path] = names.AccountName(table, id)
		case folderDirExt:
			folderTable := names.LoadTable(filepath.Join(path, names.FolderTableFile))
			accountTable := p.owningAccountTable(path, accountTables)
			displayNames[path] = names.ResolveFolder(folderTable, accountTable, id)
		}
		return nil
	})

	return displayNames
}

func (p *Producer) owningAccountTable(dir string, accountTables map[string]map[string]string) map[string]string {
	for cur := filepath.Dir(dir); len(cur) >= len(p.opts.Source); cur = filepath.Dir(cur) {
		if table, ok := accountTables[cur]; ok {
			return table
		}
		if cur == filepath.Dir(cur) {
			break
		}
	}
	return nil
}

// mapDestDir mirrors the source directory under the target root, replacing
// each resolved segment with its display name.
func (p *Producer) mapDestDir(dir string, displayNames map[string]string) string {
	rel, err := filepath.Rel(p.opts.Source, dir)
	if err != nil || rel == "." {
		return p.opts.Target
	}

	parts := strings.Split(rel, string(filepath.Separator))
	cur := p.opts.Source
	for i, part := range parts {
		cur = filepath.Join(cur, part)
		if name, ok := displayNames[cur]; ok {
			parts[i] = name
		} else {
			parts[i] = names.Sanitize(part)
		}
	}

	return filepath.Join(append([]string{p.opts.Target}, parts...)...)
}

// Count returns the number of candidate message files under source, used to
// size the progress bar before the pipeline starts.
func Count(source string) (int, error) {
	count := 0
	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), candidateExt) {
			count++
		}
		return nil
	})
	return count, err
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
