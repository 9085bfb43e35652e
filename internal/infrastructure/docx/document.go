package docx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoBody means word/document.xml has no w:body element.
var ErrNoBody = errors.New("document has no body")

type runFormat struct {
	bold      bool
	italic    bool
	underline bool
	strike    bool
}

type run struct {
	format runFormat
	// text uses "\n" for w:br and w:cr
	text string
}

type block interface{ isBlock() }

type paragraph struct {
	style string
	runs  []run
}

type table struct {
	rows [][][]block
}

func (paragraph) isBlock() {}
func (table) isBlock()     {}

// parseDocument reads the body of a WordprocessingML main part.
func parseDocument(r io.Reader) ([]block, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoBody
		}
		if err != nil {
			return nil, fmt.Errorf("read document xml: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "body" {
			return parseBlocks(dec, "body")
		}
	}
}

func parseBlocks(dec *xml.Decoder, end string) ([]block, error) {
	var blocks []block
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", end, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				p, err := parseParagraph(dec)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, p)
			case "tbl":
				tbl, err := parseTable(dec)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, tbl)
			case "sdt", "sdtContent", "customXml":
				inner, err := parseBlocks(dec, t.Name.Local)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, inner...)
			default:
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			if t.Name.Local == end {
				return blocks, nil
			}
		}
	}
}

func parseParagraph(dec *xml.Decoder) (paragraph, error) {
	var p paragraph
	err := parseInline(dec, "p", &p, runFormat{})
	return p, err
}

// parseInline collects runs until the end element, descending into wrappers.
// Tracked insertions read as underline and tracked deletions as strike.
func parseInline(dec *xml.Decoder, end string, p *paragraph, base runFormat) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read %s: %w", end, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			var err error
			switch t.Name.Local {
			case "pPr":
				p.style, err = parseParagraphStyle(dec)
			case "r":
				var r run
				r, err = parseRun(dec, base)
				if err == nil && r.text != "" {
					p.runs = append(p.runs, r)
				}
			case "ins", "moveTo":
				f := base
				f.underline = true
				err = parseInline(dec, t.Name.Local, p, f)
			case "del", "moveFrom":
				f := base
				f.strike = true
				err = parseInline(dec, t.Name.Local, p, f)
			case "hyperlink", "smartTag", "customXml", "sdt", "sdtContent", "fldSimple":
				err = parseInline(dec, t.Name.Local, p, base)
			default:
				err = dec.Skip()
			}
			if err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name.Local == end {
				return nil
			}
		}
	}
}

func parseParagraphStyle(dec *xml.Decoder) (string, error) {
	var style string
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("read pPr: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "pStyle" {
				style = attr(t, "val")
			}
			if err := dec.Skip(); err != nil {
				return "", err
			}
		case xml.EndElement:
			if t.Name.Local == "pPr" {
				return style, nil
			}
		}
	}
}

func parseRun(dec *xml.Decoder, base runFormat) (run, error) {
	r := run{format: base}
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err != nil {
			return run{}, fmt.Errorf("read run: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "rPr":
				if err := parseRunProps(dec, &r.format); err != nil {
					return run{}, err
				}
				continue
			case "t", "delText":
				s, err := charData(dec, t.Name.Local)
				if err != nil {
					return run{}, err
				}
				text.WriteString(s)
				continue
			case "tab":
				text.WriteByte('\t')
			case "br", "cr":
				text.WriteByte('\n')
			case "noBreakHyphen":
				text.WriteString("‑")
			}
			if err := dec.Skip(); err != nil {
				return run{}, err
			}
		case xml.EndElement:
			if t.Name.Local == "r" {
				r.text = text.String()
				return r, nil
			}
		}
	}
}

func parseRunProps(dec *xml.Decoder, f *runFormat) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read rPr: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "b":
				f.bold = toggle(t)
			case "i":
				f.italic = toggle(t)
			case "u":
				val := attr(t, "val")
				f.underline = val != "none" && val != "0"
			case "strike", "dstrike":
				f.strike = f.strike || toggle(t)
			}
			if err := dec.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name.Local == "rPr" {
				return nil
			}
		}
	}
}

func parseTable(dec *xml.Decoder) (table, error) {
	var tbl table
	for {
		tok, err := dec.Token()
		if err != nil {
			return table{}, fmt.Errorf("read table: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "tr" {
				if err := dec.Skip(); err != nil {
					return table{}, err
				}
				continue
			}
			row, err := parseRow(dec)
			if err != nil {
				return table{}, err
			}
			tbl.rows = append(tbl.rows, row)
		case xml.EndElement:
			if t.Name.Local == "tbl" {
				return tbl, nil
			}
		}
	}
}

func parseRow(dec *xml.Decoder) ([][]block, error) {
	var cells [][]block
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "tc" {
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				continue
			}
			cell, err := parseBlocks(dec, "tc")
			if err != nil {
				return nil, err
			}
			cells = append(cells, cell)
		case xml.EndElement:
			if t.Name.Local == "tr" {
				return cells, nil
			}
		}
	}
}

func charData(dec *xml.Decoder, end string) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", end, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			if t.Name.Local == end {
				return b.String(), nil
			}
		}
	}
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// toggle reads an on/off property; a bare element means on.
func toggle(el xml.StartElement) bool {
	switch strings.ToLower(attr(el, "val")) {
	case "0", "false", "off", "none":
		return false
	}
	return true
}
