package docx

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
  <w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>HOUSE BILL NO. 1</w:t></w:r></w:p>
  <w:p>
    <w:r><w:t xml:space="preserve">Existing </w:t></w:r>
    <w:r><w:rPr><w:u w:val="single"/></w:rPr><w:t>added</w:t></w:r>
    <w:r><w:rPr><w:strike/></w:rPr><w:t>removed</w:t></w:r>
    <w:r><w:rPr><w:strike/></w:rPr><w:t xml:space="preserve"> text</w:t></w:r>
  </w:p>
  <w:p>
    <w:ins w:id="1" w:author="x"><w:r><w:t>tracked</w:t></w:r></w:ins>
    <w:del w:id="2" w:author="x"><w:r><w:delText>gone</w:delText></w:r></w:del>
  </w:p>
  <w:p><w:r><w:rPr><w:b/><w:u w:val="none"/></w:rPr><w:t>bold</w:t><w:br/><w:t>next</w:t></w:r></w:p>
  <w:p><w:r><w:rPr><w:b w:val="0"/><w:i/></w:rPr><w:t>a &amp; b</w:t><w:tab/></w:r></w:p>
  <w:tbl>
    <w:tblPr/><w:tblGrid/>
    <w:tr><w:tc><w:tcPr/><w:p><w:r><w:t>cell</w:t></w:r></w:p></w:tc></w:tr>
  </w:tbl>
  <w:p/>
  <w:sectPr><w:pgSz/></w:sectPr>
</w:body>
</w:document>`

const expectedHTML = `<h1>HOUSE BILL NO. 1</h1>` +
	`<p>Existing <u>added</u><s>removed text</s></p>` +
	`<p><u>tracked</u><s>gone</s></p>` +
	`<p><strong>bold<br/>next</strong></p>` +
	"<p><em>a &amp; b\t</em></p>" +
	`<table><tr><td><p>cell</p></td></tr></table>`

func buildDocx(t *testing.T, parts map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestRenderDocumentXML(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	require.NoError(t, RenderDocumentXML(strings.NewReader(documentXML), &out))
	assert.Equal(t, expectedHTML, out.String())
}

func TestRenderFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	docxPath := filepath.Join(dir, "H0001.docx")
	htmlPath := filepath.Join(dir, "H0001.html")
	require.NoError(t, os.WriteFile(docxPath, buildDocx(t, map[string]string{
		"[Content_Types].xml": `<Types/>`,
		mainDocumentPart:      documentXML,
	}), 0o644))

	require.NoError(t, Renderer{}.RenderFile(docxPath, htmlPath))

	got, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Equal(t, expectedHTML, string(got))
}

func TestRenderRejectsArchiveWithoutMainPart(t *testing.T) {
	t.Parallel()

	data := buildDocx(t, map[string]string{"word/styles.xml": `<w:styles/>`})
	err := Render(bytes.NewReader(data), int64(len(data)), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNoMainPart)
}

func TestRenderRejectsDocumentWithoutBody(t *testing.T) {
	t.Parallel()

	err := RenderDocumentXML(strings.NewReader(`<w:document xmlns:w="urn:x"></w:document>`), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNoBody)
}

func TestRenderFileRejectsArchiveWithoutMainPart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	docxPath := filepath.Join(dir, "H0002.docx")
	htmlPath := filepath.Join(dir, "H0002.html")
	require.NoError(t, os.WriteFile(docxPath, buildDocx(t, map[string]string{"word/styles.xml": `<w:styles/>`}), 0o644))

	err := Renderer{}.RenderFile(docxPath, htmlPath)
	assert.ErrorIs(t, err, ErrNoMainPart)
	_, statErr := os.Stat(htmlPath)
	assert.True(t, os.IsNotExist(statErr))
}
