// Package slicer converts a raw Open XML word-processing document into the
// pipeline's canonical 17-slot section map.
//
// No example in this codebase's dependency set offers run/table-level OOXML
// introspection (bold-run detection, cell text extraction) beyond a
// template-fill helper that cannot walk a document's structure. The package
// XML format itself is just a zip of XML parts, so this is implemented
// directly against the standard library's archive/zip and encoding/xml
// rather than reaching for an unfitting third-party package.
package slicer

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/docpipe/docpipe/internal/domain"
	"github.com/docpipe/docpipe/pkg/textx"
)

// documentPart is the fixed path of the main document body inside an OOXML
// word-processing package.
const documentPart = "word/document.xml"

var headingPattern = regexp.MustCompile(`^\s*([0-9]{1,2})[.)]`)

// boldOrShortThreshold is the body-length heuristic used when no bold run is
// present: a short standalone line is treated as a heading candidate the
// same way a bold run would be.
const boldOrShortThreshold = 80

// Slicer implements domain.Slicer against raw OOXML bytes.
type Slicer struct{}

// New returns a ready-to-use Slicer. It carries no state: every Slice call
// is independent, matching the "slicing the same bytes twice yields the
// same map" invariant.
func New() *Slicer { return &Slicer{} }

// Slice parses content as an OOXML word-processing document and returns the
// canonical section map. filename is accepted for symmetry with the port
// interface and future extension-based dispatch; it does not affect parsing.
func (s *Slicer) Slice(_ domain.Context, _ string, content []byte) (domain.SectionMap, error) {
	doc, err := extractDocumentXML(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	blocks, err := parseBlocks(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	chunks := buildChunks(blocks)
	return renderSectionMap(chunks), nil
}

func extractDocumentXML(content []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != documentPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", documentPart, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", documentPart, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found in package", documentPart)
}

// xmlNode is a generic element tree that preserves document order of child
// elements regardless of namespace prefix, since encoding/xml matches by
// local name when the struct tag carries none.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
	Chars   string     `xml:",chardata"`
}

// block is one paragraph or table encountered, in document order, as a
// direct child of the document body.
type block struct {
	isTable bool
	text    string
	bold    bool
	rows    [][]string
}

func parseBlocks(docXML []byte) ([]block, error) {
	var root xmlNode
	if err := xml.Unmarshal(docXML, &root); err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}
	body := findChild(root, "body")
	if body == nil {
		return nil, fmt.Errorf("document.xml has no body element")
	}

	blocks := make([]block, 0, len(body.Nodes))
	for _, child := range body.Nodes {
		switch child.XMLName.Local {
		case "p":
			text, bold := extractParagraph(child)
			blocks = append(blocks, block{text: text, bold: bold})
		case "tbl":
			blocks = append(blocks, block{isTable: true, rows: extractTable(child)})
		}
	}
	return blocks, nil
}

func findChild(n xmlNode, local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

// extractParagraph concatenates the text of every run in the paragraph and
// reports whether any run carries a bold property.
func extractParagraph(p xmlNode) (text string, bold bool) {
	var sb strings.Builder
	for _, child := range p.Nodes {
		switch child.XMLName.Local {
		case "r":
			sb.WriteString(extractRunText(child))
			if runIsBold(child) {
				bold = true
			}
		case "t":
			// Some producers emit w:t directly under w:p without a wrapping run.
			sb.WriteString(child.Chars)
		}
	}
	return sb.String(), bold
}

func extractRunText(r xmlNode) string {
	var sb strings.Builder
	for _, child := range r.Nodes {
		if child.XMLName.Local == "t" {
			sb.WriteString(child.Chars)
		}
	}
	return sb.String()
}

func runIsBold(r xmlNode) bool {
	rPr := findChild(r, "rPr")
	if rPr == nil {
		return false
	}
	return findChild(*rPr, "b") != nil
}

func extractTable(tbl xmlNode) [][]string {
	var rows [][]string
	for _, tr := range tbl.Nodes {
		if tr.XMLName.Local != "tr" {
			continue
		}
		var cells []string
		for _, tc := range tr.Nodes {
			if tc.XMLName.Local != "tc" {
				continue
			}
			cells = append(cells, extractCellText(tc))
		}
		rows = append(rows, cells)
	}
	return rows
}

func extractCellText(tc xmlNode) string {
	var parts []string
	for _, child := range tc.Nodes {
		if child.XMLName.Local != "p" {
			continue
		}
		text, _ := extractParagraph(child)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// buildChunks groups the block stream into a header chunk and one chunk per
// detected numbered heading, applying first-wins on duplicate ordinals.
func buildChunks(blocks []block) []domain.SectionChunk {
	var chunks []domain.SectionChunk
	seen := make(map[int]bool)

	header := domain.SectionChunk{}
	var headerText []string
	var current *domain.SectionChunk
	var currentText []string

	flushCurrent := func() {
		if current == nil {
			return
		}
		current.Content = strings.Join(currentText, "\n")
		chunks = append(chunks, *current)
		current = nil
		currentText = nil
	}

	for _, b := range blocks {
		if b.isTable {
			if current == nil {
				continue
			}
			currentText = append(currentText, renderTableRows(b.rows)...)
			continue
		}

		if ordinal, ok := detectHeading(b); ok && !seen[ordinal] {
			seen[ordinal] = true
			flushCurrent()
			n := ordinal
			current = &domain.SectionChunk{Number: &n, Title: strings.TrimSpace(b.text)}
			currentText = nil
			continue
		}

		if current == nil {
			if b.text != "" {
				headerText = append(headerText, b.text)
			}
			continue
		}
		currentText = append(currentText, b.text)
	}
	flushCurrent()

	header.Content = strings.Join(headerText, "\n")
	return append([]domain.SectionChunk{header}, chunks...)
}

func renderTableRows(rows [][]string) []string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, "TABLE: "+strings.Join(row, " | "))
	}
	return lines
}

// detectHeading reports whether b begins a new numbered section: its first
// non-whitespace token is an Arabic integer followed by a dot or
// parenthesis, and it carries heading weight (a bold run, or a short
// standalone line). Ordinals above the 1..15 body range are still detected
// here so the specification chunk (number >= 16) can be recognized by the
// same mechanism; range filtering into part_1..part_15 happens downstream.
func detectHeading(b block) (int, bool) {
	trimmed := strings.TrimSpace(b.text)
	m := headingPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	if !b.bold && len(trimmed) > boldOrShortThreshold {
		return 0, false
	}
	return n, true
}

// specKeyword matches either the Cyrillic or Latin spelling of "specification".
var specKeyword = regexp.MustCompile(`(?i)(специф|spec)`)

func isSpecificationChunk(c domain.SectionChunk) bool {
	if c.Number != nil && *c.Number >= 16 {
		return true
	}
	return specKeyword.MatchString(c.Title) || specKeyword.MatchString(c.Content)
}

func renderSectionMap(chunks []domain.SectionChunk) domain.SectionMap {
	out := domain.NewEmptySectionMap()
	if len(chunks) == 0 {
		return out
	}

	out[domain.SectionKey(0)] = textx.SanitizeText(chunks[0].Content)

	specFound := false
	for _, c := range chunks[1:] {
		if !specFound && isSpecificationChunk(c) {
			specFound = true
			out[domain.SectionKey(16)] = textx.SanitizeText(specTableText(c))
			continue
		}
		if c.Number == nil || *c.Number < 1 || *c.Number > 15 {
			continue
		}
		key := domain.SectionKey(*c.Number)
		body := c.Title + "\n\n" + c.Content
		out[key] = textx.SanitizeText(body)
	}
	return out
}

// specTableText re-renders only the TABLE: lines already folded into the
// chunk's content; table rendering failures never fail the slice, they just
// leave part_16 empty.
func specTableText(c domain.SectionChunk) string {
	lines := strings.Split(c.Content, "\n")
	var tableLines []string
	for _, l := range lines {
		if strings.HasPrefix(l, "TABLE: ") {
			tableLines = append(tableLines, l)
		}
	}
	return strings.Join(tableLines, "\n")
}
