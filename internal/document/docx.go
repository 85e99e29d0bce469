package document

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// docxExpansion bounds the decompressed document part relative to the
// size limit on the uploaded file.
const docxExpansion = 10

var errDocxTooLarge = errors.New("docx body exceeds size limit")

// readDocx collects the text runs of the main document part.  Paragraphs and
// explicit breaks become newlines, tabs stay tabs.  A positive limit caps the
// decompressed size of the part.
func readDocx(path string, limit int64) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != docxBody {
			continue
		}
		if limit > 0 && f.UncompressedSize64 > uint64(limit) {
			return "", errDocxTooLarge
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", docxBody, err)
		}
		defer rc.Close()
		var r io.Reader = rc
		if limit > 0 {
			r = &capReader{r: rc, n: limit}
		}
		return docxText(r)
	}
	return "", errors.New("docx has no " + docxBody)
}

// capReader fails with errDocxTooLarge once more than n bytes are read, so a
// zip header that understates the size still cannot force an unbounded read.
type capReader struct {
	r io.Reader
	n int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.n <= 0 {
		return 0, errDocxTooLarge
	}
	if int64(len(p)) > c.n {
		p = p[:c.n]
	}
	n, err := c.r.Read(p)
	c.n -= int64(n)
	return n, err
}

func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, errDocxTooLarge) {
				return "", err
			}
			return "", fmt.Errorf("parse %s: %w", docxBody, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
