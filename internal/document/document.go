// Package document extracts plain text from uploaded test reports.
package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies an extraction failure.
type Kind string

const (
	NotFound     Kind = "not_found"
	Unreadable   Kind = "unreadable"
	EmptyContent Kind = "empty_content"
)

// Error is returned by every Extractor failure.
type Error struct {
	Kind Kind
	Ref  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("document %s: %s: %v", e.Ref, e.Kind, e.Err)
	}
	return fmt.Sprintf("document %s: %s", e.Ref, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or Unreadable for errors that did not come
// from an Extractor.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Unreadable
}

// Extractor turns a report reference into plain text.
type Extractor interface {
	Extract(ctx context.Context, ref string) (string, error)
}

// FileExtractor reads reports from the local filesystem.  Relative
// references are resolved against Root when it is set.
type FileExtractor struct {
	Root     string
	MaxBytes int64
}

// NewFileExtractor returns a FileExtractor rooted at root.
func NewFileExtractor(root string) *FileExtractor {
	return &FileExtractor{Root: root, MaxBytes: 20 << 20}
}

// Extract reads the report at ref.  Supported formats are .docx, .pdf and
// plain text (.txt, .md).
func (x *FileExtractor) Extract(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &Error{Kind: NotFound, Ref: ref, Err: errors.New("empty reference")}
	}
	path := ref
	if x.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(x.Root, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &Error{Kind: NotFound, Ref: ref, Err: err}
		}
		return "", &Error{Kind: Unreadable, Ref: ref, Err: err}
	}
	if info.IsDir() {
		return "", &Error{Kind: Unreadable, Ref: ref, Err: errors.New("is a directory")}
	}
	if x.MaxBytes > 0 && info.Size() > x.MaxBytes {
		return "", &Error{Kind: Unreadable, Ref: ref, Err: fmt.Errorf("file exceeds %d bytes", x.MaxBytes)}
	}
	if err := ctx.Err(); err != nil {
		return "", &Error{Kind: Unreadable, Ref: ref, Err: err}
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := x.read(path)
		done <- result{text, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return "", &Error{Kind: Unreadable, Ref: ref, Err: ctx.Err()}
	case r = <-done:
	}
	if r.err != nil {
		return "", &Error{Kind: Unreadable, Ref: ref, Err: r.err}
	}
	text := strings.TrimSpace(r.text)
	if text == "" {
		return "", &Error{Kind: EmptyContent, Ref: ref}
	}
	return text, nil
}

func (x *FileExtractor) read(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		var limit int64
		if x.MaxBytes > 0 {
			limit = x.MaxBytes * docxExpansion
		}
		return readDocx(path, limit)
	case ".pdf":
		return readPDF(path)
	case ".txt", ".md", ".text":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported report format %q", filepath.Ext(path))
	}
}
