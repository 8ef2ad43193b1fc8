package docextract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFExtractor repairs the file with pdfcpu and decodes each page's text
// through its fonts' encodings. Scanned PDFs yield no text.
type PDFExtractor struct {
	once sync.Once
	conf *model.Configuration
}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// config is built on first use; pdfcpu's default configuration touches the
// user config directory.
func (e *PDFExtractor) config() *model.Configuration {
	e.once.Do(func() {
		e.conf = model.NewDefaultConfiguration()
		e.conf.ValidationMode = model.ValidationRelaxed
	})
	return e.conf
}

// Extract validates and rewrites the PDF in relaxed mode first, which
// repairs many slightly broken files, then reads the text of every page.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	conf := e.config()

	outDir, err := os.MkdirTemp("", "pdf-text-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	optimized := filepath.Join(outDir, "optimized.pdf")
	if err := api.OptimizeFile(path, optimized, conf); err != nil {
		return "", fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return "", fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount == 0 {
		return "", nil
	}

	f, r, err := pdf.Open(optimized)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	return readText(ctx, r)
}

// readText joins the text of every page, separated by blank lines. A page
// whose content stream cannot be parsed keeps whatever was decoded before
// the fault.
func readText(ctx context.Context, r *pdf.Reader) (string, error) {
	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := pageText(p)
		if err != nil {
			slog.Warn("PDF page only partly decoded.", "page", i, "error", err)
		}
		if text != "" {
			pages = append(pages, text)
		}
	}
	slog.Debug("PDF text extracted.", "pages", r.NumPage(), "pagesWithText", len(pages))
	return strings.Join(pages, "\n\n"), nil
}

type decoder func(raw string) string

// fontDecoder returns nil when the font's codes do not map back to text.
// Composite fonts address glyphs by id, so they need a ToUnicode map.
func fontDecoder(f pdf.Font) decoder {
	if f.V.IsNull() {
		return nil
	}
	if f.V.Key("Subtype").Name() == "Type0" {
		if f.V.Key("ToUnicode").Kind() != pdf.Stream || f.V.Key("Encoding").Name() != "Identity-H" {
			return nil
		}
	}
	return f.Encoder().Decode
}

// pageText decodes the strings shown by Tj, TJ, ' and ". Line moves and text
// object ends become newlines; large negative TJ adjustments become spaces.
func pageText(p pdf.Page) (text string, err error) {
	var (
		out      strings.Builder
		dec      decoder
		decoders = make(map[string]decoder)
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed content stream: %v", r)
		}
		text = tidyLines(out.String())
	}()

	newline := func() {
		if s := out.String(); s != "" && !strings.HasSuffix(s, "\n") {
			out.WriteByte('\n')
		}
	}
	show := func(v pdf.Value) {
		if dec != nil && v.Kind() == pdf.String {
			out.WriteString(dec(v.RawString()))
		}
	}

	do := func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}

		switch op {
		case "Tf":
			if n < 2 {
				return
			}
			name := args[0].Name()
			d, ok := decoders[name]
			if !ok {
				d = fontDecoder(p.Font(name))
				decoders[name] = d
			}
			dec = d
		case "Tj":
			if n > 0 {
				show(args[n-1])
			}
		case "'", "\"":
			newline()
			if n > 0 {
				show(args[n-1])
			}
		case "TJ":
			if n == 0 || args[n-1].Kind() != pdf.Array {
				return
			}
			items := args[n-1]
			for i := 0; i < items.Len(); i++ {
				switch item := items.Index(i); item.Kind() {
				case pdf.String:
					show(item)
				case pdf.Integer, pdf.Real:
					if item.Float64() < -200 {
						out.WriteByte(' ')
					}
				}
			}
		case "T*", "ET":
			newline()
		case "Td", "TD":
			if n >= 2 && args[1].Float64() != 0 {
				newline()
			}
		}
	}

	contents := p.V.Key("Contents")
	switch contents.Kind() {
	case pdf.Stream:
		pdf.Interpret(contents, do)
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			pdf.Interpret(contents.Index(i), do)
		}
	}
	return "", nil
}

func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}
