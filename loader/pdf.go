package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Page is the extracted text of one PDF page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

type Parser interface {
	Parse(ctx context.Context, data []byte) ([]Page, error)
}

var errNoHeader = errors.New("missing %PDF header")

// PDFParser validates PDFs with pdfcpu and extracts page text with
// ledongthuc/pdf, which decodes strings through each font's encoding and
// ToUnicode CMap.
type PDFParser struct {
	conf *model.Configuration
}

func NewPDFParser() *PDFParser {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFParser{conf: conf}
}

func (p *PDFParser) Parse(ctx context.Context, data []byte) ([]Page, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, errNoHeader
	}

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), p.conf)
	if err != nil {
		return nil, err
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, err
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return nil, err
	}

	r, err := openText(data)
	if err != nil {
		return nil, fmt.Errorf("open text layer: %w", err)
	}

	pages := make([]Page, 0, pdfCtx.PageCount)
	for nr := 1; nr <= pdfCtx.PageCount; nr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := Page{Number: nr}
		if nr <= r.NumPage() {
			if pg := r.Page(nr); !pg.V.IsNull() {
				page.Text = pageText(pg)
			}
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func openText(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed document: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// pageText walks the text operators of a page. Strings are decoded by the
// font selected with Tf; line moves become newlines and wide TJ gaps become
// spaces so words from separate runs do not run together.
func pageText(p pdf.Page) (text string) {
	var out strings.Builder
	defer func() {
		// a malformed operator ends the page; keep what was read before it
		if rec := recover(); rec != nil {
			text = normalizeText(out.String())
		}
	}()

	encoders := make(map[string]pdf.TextEncoding)
	enc := pdf.Font{}.Encoder()
	lastY, haveY := 0.0, false

	show := func(v pdf.Value) {
		if v.Kind() == pdf.String {
			out.WriteString(enc.Decode(v.RawString()))
		}
	}
	interpret := func(strm pdf.Value) {
		pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
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
				e, ok := encoders[name]
				if !ok {
					e = p.Font(name).Encoder()
					encoders[name] = e
				}
				enc = e
			case "Tj":
				if n >= 1 {
					show(args[n-1])
				}
			case "'":
				out.WriteByte('\n')
				if n >= 1 {
					show(args[n-1])
				}
			case `"`:
				out.WriteByte('\n')
				if n >= 3 {
					show(args[2])
				}
			case "TJ":
				if n < 1 {
					return
				}
				arr := args[n-1]
				for i := 0; i < arr.Len(); i++ {
					item := arr.Index(i)
					switch item.Kind() {
					case pdf.String:
						show(item)
					case pdf.Integer, pdf.Real:
						if item.Float64() < -200 {
							out.WriteByte(' ')
						}
					}
				}
			case "Td", "TD":
				if n >= 2 && args[1].Float64() != 0 {
					out.WriteByte('\n')
				} else {
					out.WriteByte(' ')
				}
			case "Tm":
				if n >= 6 {
					y := args[5].Float64()
					if haveY && y != lastY {
						out.WriteByte('\n')
					} else {
						out.WriteByte(' ')
					}
					lastY, haveY = y, true
				}
			case "T*", "ET":
				out.WriteByte('\n')
			}
		})
	}

	contents := p.V.Key("Contents")
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			interpret(contents.Index(i))
		}
	} else {
		interpret(contents)
	}
	return normalizeText(out.String())
}

// normalizeText drops unmapped glyphs and control characters, collapses
// runs of spaces and removes empty lines.
func normalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case unicode.IsSpace(r):
			return ' '
		case r == unicode.ReplacementChar, unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.ToValidUTF8(s, ""))

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
