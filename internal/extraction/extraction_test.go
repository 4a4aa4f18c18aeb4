package extraction

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/chongs12/learning-rag/internal/common/errs"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func writeZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for n, body := range files {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestExtract_Text(t *testing.T) {
	p := writeFile(t, "notes.TXT", "line one\r\nline two\r")
	out, err := New().Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", out)
}

func TestExtract_Markdown(t *testing.T) {
	p := writeFile(t, "lesson.md", "# Cells\n\nThe **nucleus** holds [DNA](http://x).\n\n```\nfmt.Println(1)\n```\n")
	out, err := New().Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Contains(t, out, "Cells")
	assert.Contains(t, out, "The nucleus holds DNA.")
	assert.Contains(t, out, "fmt.Println(1)")
	assert.NotContains(t, out, "**")
	assert.NotContains(t, out, "http://x")
}

func TestExtract_Unsupported(t *testing.T) {
	p := writeFile(t, "movie.mp4", "binary")
	_, err := New().Extract(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errs.IsExtraction(err))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtract_MissingFile(t *testing.T) {
	_, err := New().Extract(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	assert.True(t, errs.IsExtraction(err))
}

func TestExtract_CorruptPDF(t *testing.T) {
	p := writeFile(t, "broken.pdf", "not a pdf at all")
	_, err := New().Extract(context.Background(), p)
	assert.True(t, errs.IsExtraction(err))
}

func TestExtract_XLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "term"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "definition"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "osmosis"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "diffusion of water"))
	p := filepath.Join(t.TempDir(), "glossary.xlsx")
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	out, err := New().Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Contains(t, out, "Sheet: Sheet1")
	assert.Contains(t, out, "osmosis\tdiffusion of water")
}

func TestExtract_DOCX(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		`<w:p><w:r><w:t>First &amp; foremost</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second</w:t></w:r><w:r><w:tab/><w:t>paragraph</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	rels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`
	p := writeZip(t, "essay.docx", map[string]string{
		"word/document.xml":            doc,
		"word/_rels/document.xml.rels": rels,
	})

	out, err := New().Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Contains(t, out, "First & foremost\n")
	assert.Contains(t, out, "Second\tparagraph\n")
	assert.NotContains(t, out, "<w:")
}

func TestExtract_PPTXSlideOrder(t *testing.T) {
	slide := func(s string) string {
		return `<p:sld xmlns:a="a" xmlns:p="p"><a:t>` + s + `</a:t></p:sld>`
	}
	p := writeZip(t, "deck.pptx", map[string]string{
		"ppt/slides/slide10.xml": slide("tenth"),
		"ppt/slides/slide2.xml":  slide("second"),
		"ppt/slides/slide1.xml":  slide("first"),
	})

	out, err := New().Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "first\n\nsecond\n\ntenth\n\n", out)
}

func TestExtract_CanceledContext(t *testing.T) {
	p := writeFile(t, "a.txt", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Extract(ctx, p)
	assert.True(t, errs.IsExtraction(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSupported(t *testing.T) {
	e := New()
	assert.True(t, e.Supported(".PDF"))
	assert.False(t, e.Supported(".exe"))
}
