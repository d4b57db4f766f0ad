package source

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/dimfeld/perceive/internal/batch"
	"github.com/dimfeld/perceive/internal/compress"
)

// fsProcessVersion is bumped whenever the front-matter/body extraction
// algorithm below changes.
const fsProcessVersion = 1

// frontMatter is the YAML block a file may open with, fenced by "---" lines.
type frontMatter struct {
	Title       string `yaml:"title"`
	Author      string `yaml:"author"`
	Description string `yaml:"description"`
}

// FsScanner walks a directory tree, emitting every regular file that
// matches its glob set. Files and directories whose names begin with "."
// are skipped.
type FsScanner struct {
	root  string
	globs []string
}

// NewFsScanner builds a scanner rooted at root. An empty glob set matches
// every regular file.
func NewFsScanner(root string, globs []string) *FsScanner {
	return &FsScanner{root: root, globs: globs}
}

func (f *FsScanner) matches(relPath string) bool {
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if ok, _ := doublestar.Match(g, relPath); ok {
			return true
		}
	}
	return false
}

// Scan walks the tree, emitting one item descriptor (no content) per
// matching regular file.
func (f *FsScanner) Scan(ctx context.Context, sender *batch.Sender[Item]) error {
	return filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// best-effort: log the unreadable entry and continue the walk
			log.Printf("fs scan: %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != f.root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return nil
		}
		if !f.matches(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		item := NewItem(0, path)
		mtime := info.ModTime()
		item.Metadata.MTime = &mtime
		atime := mtime // os.FileInfo does not portably expose atime; mtime stands in.
		item.Metadata.ATime = &atime

		sender.Add(item)
		return nil
	})
}

// Read decodes the file as UTF-8, splits optional front matter, and fills
// in content/metadata.
func (f *FsScanner) Read(ctx context.Context, existing *Item, strategy CompareStrategy, item *Item) (ReadResult, error) {
	raw, err := os.ReadFile(item.ExternalID)
	if err != nil {
		return ReadOmit, fmt.Errorf("read %s: %w", item.ExternalID, err)
	}
	if !isValidUTF8(raw) {
		return ReadOmit, nil
	}

	body, fm, hasFrontMatter := splitFrontMatter(string(raw))
	body = strings.TrimSpace(body)
	if body == "" {
		return ReadOmit, nil
	}

	if hasFrontMatter {
		item.Metadata.Name = fm.Title
		item.Metadata.Author = fm.Author
		item.Metadata.Description = fm.Description
		compressed, err := compress.Compress(raw)
		if err != nil {
			return ReadOmit, fmt.Errorf("compress raw content for %s: %w", item.ExternalID, err)
		}
		item.RawContent = compressed
	}
	item.Content = body
	item.ProcessVersion = fsProcessVersion
	return ReadFound, nil
}

// Reprocess re-derives title/body from stored raw bytes, if present.
func (f *FsScanner) Reprocess(ctx context.Context, item *Item) (ReadResult, error) {
	if len(item.RawContent) == 0 {
		return ReadUnchanged, nil
	}
	raw, err := compress.Decompress(item.RawContent)
	if err != nil {
		return ReadOmit, fmt.Errorf("decompress raw content for %s: %w", item.ExternalID, err)
	}
	body, fm, hasFrontMatter := splitFrontMatter(string(raw))
	body = strings.TrimSpace(body)

	changed := body != item.Content
	if hasFrontMatter {
		changed = changed || fm.Title != item.Metadata.Name || fm.Author != item.Metadata.Author || fm.Description != item.Metadata.Description
		item.Metadata.Name = fm.Title
		item.Metadata.Author = fm.Author
		item.Metadata.Description = fm.Description
	}
	if !changed {
		return ReadUnchanged, nil
	}
	item.Content = body
	item.ProcessVersion = fsProcessVersion
	return ReadFound, nil
}

// LatestProcessVersion reports the current extraction pipeline version.
func (f *FsScanner) LatestProcessVersion() int { return fsProcessVersion }

// splitFrontMatter detects a leading "---\n...\n---\n" YAML block and
// returns the body with that block parsed out.
func splitFrontMatter(text string) (body string, fm frontMatter, ok bool) {
	const fence = "---"
	if !strings.HasPrefix(text, fence) {
		return text, fm, false
	}
	rest := text[len(fence):]
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")

	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return text, fm, false
	}
	yamlBlock := rest[:end]
	remainder := rest[end+1+len(fence):]
	remainder = strings.TrimPrefix(remainder, "\r\n")
	remainder = strings.TrimPrefix(remainder, "\n")

	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return text, fm, false
	}
	return remainder, fm, true
}

func isValidUTF8(b []byte) bool {
	return len(b) == 0 || strings.ToValidUTF8(string(b), "�") == string(b)
}
