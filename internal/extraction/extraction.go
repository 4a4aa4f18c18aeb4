// Package extraction reads the plain text out of uploaded learning materials.
package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/chongs12/learning-rag/internal/common/errs"
	"github.com/chongs12/learning-rag/pkg/utils"
)

var ErrUnsupportedType = errors.New("unsupported file type")

type parseFunc func(ctx context.Context, path string) (string, error)

// Extractor dispatches on the file extension.
type Extractor struct {
	parsers map[string]parseFunc
}

func New() *Extractor {
	return &Extractor{parsers: map[string]parseFunc{
		".txt":  parseText,
		".md":   parseMarkdown,
		".pdf":  parsePDF,
		".docx": parseDOCX,
		".xlsx": parseXLSX,
		".pptx": parsePPTX,
	}}
}

// Supported reports whether files with the given extension can be extracted.
func (e *Extractor) Supported(ext string) bool {
	_, ok := e.parsers[strings.ToLower(ext)]
	return ok
}

// Extract returns the document text with line endings normalized to "\n".
// Every failure is an *errs.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	parse, ok := e.parsers[utils.FileExtension(path)]
	if !ok {
		return "", &errs.ExtractionError{Path: path, Err: fmt.Errorf("%w: %q", ErrUnsupportedType, utils.FileExtension(path))}
	}
	if err := ctx.Err(); err != nil {
		return "", &errs.ExtractionError{Path: path, Err: err}
	}
	out, err := parse(ctx, path)
	if err != nil {
		return "", &errs.ExtractionError{Path: path, Err: err}
	}
	return utils.NormalizeNewlines(out), nil
}

func parseText(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseMarkdown drops markup and keeps the readable text, one block per paragraph.
func parseMarkdown(ctx context.Context, path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				b.WriteString("\n")
				return ast.WalkSkipChildren, nil
			}
		default:
			if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func parsePDF(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(pageText)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxBreak        = regexp.MustCompile(`<w:(br|cr)[^>]*/>`)
	docxTab          = regexp.MustCompile(`<w:tab[^>]*/>`)
	xmlTag           = regexp.MustCompile(`<[^>]+>`)
)

// parseDOCX reads word/document.xml and keeps paragraph boundaries.
func parseDOCX(ctx context.Context, path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	content = docxParagraphEnd.ReplaceAllString(content, "\n")
	content = docxBreak.ReplaceAllString(content, "\n")
	content = docxTab.ReplaceAllString(content, "\t")
	content = xmlTag.ReplaceAllString(content, "")
	return unescapeXML(content), nil
}

func parseXLSX(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}
		fmt.Fprintf(&b, "Sheet: %s\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

var slideText = regexp.MustCompile(`<a:t>([^<]*)</a:t>`)

// parsePPTX collects the text runs of every slide in slide order.
func parsePPTX(ctx context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	var slides []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f)
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slideNumber(slides[i].Name) < slideNumber(slides[j].Name) })

	var b strings.Builder
	for _, f := range slides {
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		for _, m := range slideText.FindAllSubmatch(data, -1) {
			b.Write(bytes.TrimSpace(m[1]))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return unescapeXML(b.String()), nil
}

func slideNumber(name string) int {
	n := 0
	for _, r := range strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml") {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
