package document

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDocx(t *testing.T, path, body string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create(docxBody)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

const sampleDocument = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Hemoglobin:</w:t></w:r><w:r><w:tab/><w:t>10.1 g/dL (low)</w:t></w:r></w:p>
    <w:p><w:r><w:t>Ferritin: 8 ng/mL</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestExtract_Docx(t *testing.T) {
	dir := t.TempDir()
	writeDocx(t, filepath.Join(dir, "report.docx"), sampleDocument)

	x := NewFileExtractor(dir)
	text, err := x.Extract(context.Background(), "report.docx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Hemoglobin:\t10.1 g/dL (low)\nFerritin: 8 ng/mL"
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestExtract_PlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labs.txt")
	if err := os.WriteFile(path, []byte("  TSH 6.2 mIU/L  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	text, err := NewFileExtractor("").Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if text != "TSH 6.2 mIU/L" {
		t.Errorf("text = %q", text)
	}
}

func TestExtract_Failures(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "blank.txt"), []byte(" \n\t"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.docx"), []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scan.tiff"), []byte("II*"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeDocx(t, filepath.Join(dir, "empty.docx"), `<w:document xmlns:w="x"><w:body><w:p/></w:body></w:document>`)

	tests := []struct {
		ref  string
		want Kind
	}{
		{"missing.docx", NotFound},
		{"", NotFound},
		{"blank.txt", EmptyContent},
		{"empty.docx", EmptyContent},
		{"broken.docx", Unreadable},
		{"scan.tiff", Unreadable},
	}
	x := NewFileExtractor(dir)
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			_, err := x.Extract(context.Background(), tt.ref)
			var de *Error
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if de.Kind != tt.want {
				t.Errorf("kind = %s, want %s", de.Kind, tt.want)
			}
			if KindOf(err) != tt.want {
				t.Errorf("KindOf = %s", KindOf(err))
			}
		})
	}
}

func TestExtract_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeDocx(t, filepath.Join(dir, "report.docx"), sampleDocument)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileExtractor(dir).Extract(ctx, "report.docx")
	if KindOf(err) != Unreadable || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want unreadable wrapping context.Canceled", err)
	}
}

func TestExtract_DocxBodyOverLimit(t *testing.T) {
	dir := t.TempDir()
	body := `<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>` +
		strings.Repeat("a", 200<<10) + `</w:t></w:r></w:p></w:body></w:document>`
	writeDocx(t, filepath.Join(dir, "bomb.docx"), body)

	x := &FileExtractor{Root: dir, MaxBytes: 4 << 10}
	_, err := x.Extract(context.Background(), "bomb.docx")
	if KindOf(err) != Unreadable || !errors.Is(err, errDocxTooLarge) {
		t.Fatalf("err = %v, want unreadable wrapping errDocxTooLarge", err)
	}
}

func TestCapReader_UnderstatedSize(t *testing.T) {
	_, err := docxText(&capReader{r: strings.NewReader(sampleDocument), n: 64})
	if !errors.Is(err, errDocxTooLarge) {
		t.Fatalf("err = %v, want errDocxTooLarge", err)
	}
}

func TestKindOf_ForeignError(t *testing.T) {
	if KindOf(errors.New("boom")) != Unreadable {
		t.Fatal("foreign errors should classify as unreadable")
	}
}
