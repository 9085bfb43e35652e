package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"BillScanner/internal/infrastructure/storage"
	"BillScanner/internal/ports"
)

const mainDocumentPart = "word/document.xml"

// ErrNoMainPart means the archive is not a word-processing document.
var ErrNoMainPart = errors.New("archive has no " + mainDocumentPart)

var headingStyles = map[string]atom.Atom{
	"title":    atom.H1,
	"heading1": atom.H1,
	"heading2": atom.H2,
	"heading3": atom.H3,
	"heading4": atom.H4,
	"heading5": atom.H5,
	"heading6": atom.H6,
}

// Renderer converts DOCX files to HTML that keeps amendment markup:
// underlined text becomes <u> and struck text becomes <s>.
type Renderer struct{}

var _ ports.HTMLRenderer = Renderer{}

// RenderFile converts docxPath and writes the HTML to htmlPath.
func (Renderer) RenderFile(docxPath, htmlPath string) error {
	f, err := os.Open(docxPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", docxPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", docxPath, err)
	}

	var buf bytes.Buffer
	if err := Render(f, info.Size(), &buf); err != nil {
		return fmt.Errorf("render %s: %w", docxPath, err)
	}

	return storage.WriteBytesAtomic(htmlPath, buf.Bytes())
}

// Render converts an in-memory DOCX archive to HTML.
func Render(r io.ReaderAt, size int64, w io.Writer) error {
	archive, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	return renderArchive(archive, w)
}

func renderArchive(archive *zip.Reader, w io.Writer) error {
	for _, f := range archive.File {
		if f.Name != mainDocumentPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", mainDocumentPart, err)
		}
		defer rc.Close()
		return RenderDocumentXML(rc, w)
	}
	return ErrNoMainPart
}

// RenderDocumentXML converts a WordprocessingML main part to HTML.
func RenderDocumentXML(r io.Reader, w io.Writer) error {
	blocks, err := parseDocument(r)
	if err != nil {
		return err
	}

	for _, node := range blockNodes(blocks) {
		if err := html.Render(w, node); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
	}
	return nil
}

func blockNodes(blocks []block) []*html.Node {
	var nodes []*html.Node
	for _, b := range blocks {
		switch v := b.(type) {
		case paragraph:
			if n := paragraphNode(v); n != nil {
				nodes = append(nodes, n)
			}
		case table:
			nodes = append(nodes, tableNode(v))
		}
	}
	return nodes
}

// paragraphNode returns nil for paragraphs without text.
func paragraphNode(p paragraph) *html.Node {
	runs := mergeRuns(p.runs)
	if len(runs) == 0 {
		return nil
	}

	tag := atom.P
	if h, ok := headingStyles[strings.ToLower(strings.ReplaceAll(p.style, " ", ""))]; ok {
		tag = h
	}

	node := element(tag)
	for _, r := range runs {
		for _, n := range runNodes(r) {
			node.AppendChild(n)
		}
	}
	return node
}

func tableNode(t table) *html.Node {
	tbl := element(atom.Table)
	for _, row := range t.rows {
		tr := element(atom.Tr)
		for _, cell := range row {
			td := element(atom.Td)
			for _, n := range blockNodes(cell) {
				td.AppendChild(n)
			}
			tr.AppendChild(td)
		}
		tbl.AppendChild(tr)
	}
	return tbl
}

// runNodes nests formatting as strong > em > u > s around the run text.
func runNodes(r run) []*html.Node {
	content := textNodes(r.text)

	wrap := func(enabled bool, a atom.Atom) {
		if !enabled {
			return
		}
		el := element(a)
		for _, n := range content {
			el.AppendChild(n)
		}
		content = []*html.Node{el}
	}
	wrap(r.format.strike, atom.S)
	wrap(r.format.underline, atom.U)
	wrap(r.format.italic, atom.Em)
	wrap(r.format.bold, atom.Strong)

	return content
}

func textNodes(text string) []*html.Node {
	var nodes []*html.Node
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			nodes = append(nodes, element(atom.Br))
		}
		if line != "" {
			nodes = append(nodes, &html.Node{Type: html.TextNode, Data: line})
		}
	}
	return nodes
}

// mergeRuns joins adjacent runs with identical formatting.
func mergeRuns(runs []run) []run {
	var merged []run
	for _, r := range runs {
		if n := len(merged); n > 0 && merged[n-1].format == r.format {
			merged[n-1].text += r.text
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}
