package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// OOXML documents are ZIP packages of XML parts. Rather than model the full
// schemas, text nodes are pulled with targeted regexes: <w:t> runs for Word,
// <a:t> runs for PowerPoint. Attribute-bearing tags (xml:space="preserve",
// revision ids) must still match, so the patterns allow anything up to the
// closing bracket.
var (
	wordTextRun  = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	drawTextRun  = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	paragraphEnd = regexp.MustCompile(`</w:p>`)
	slidePathRe  = regexp.MustCompile(`^ppt/slides/slide\d+\.xml$`)
)

// extractDOCX reads word/document.xml and returns its text with one
// paragraph block per <w:p> element, so document structure survives into
// chunking.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	docXML, err := readZipPart(zr, "word/document.xml")
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}

	var paragraphs []string
	for _, block := range paragraphEnd.Split(string(docXML), -1) {
		runs := wordTextRun.FindAllStringSubmatch(block, -1)
		if len(runs) == 0 {
			continue
		}
		var b strings.Builder
		for _, r := range runs {
			b.WriteString(r[1])
		}
		if p := strings.TrimSpace(b.String()); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

// extractPPTX reads every slide XML in slide order and returns one paragraph
// block per slide.
func extractPPTX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract PPTX: not a zip: %w", err)
	}

	var slidePaths []string
	for _, f := range zr.File {
		if slidePathRe.MatchString(f.Name) {
			slidePaths = append(slidePaths, f.Name)
		}
	}
	// Numeric order, not lexical: slide2 before slide10.
	sort.Slice(slidePaths, func(i, j int) bool {
		return slideNumber(slidePaths[i]) < slideNumber(slidePaths[j])
	})

	var slides []string
	for _, path := range slidePaths {
		slideXML, err := readZipPart(zr, path)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		runs := drawTextRun.FindAllStringSubmatch(string(slideXML), -1)
		var parts []string
		for _, r := range runs {
			if t := strings.TrimSpace(r[1]); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			slides = append(slides, strings.Join(parts, " "))
		}
	}
	return strings.Join(slides, "\n\n"), nil
}

func slideNumber(path string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(path, "ppt/slides/slide"), ".xml"))
	return n
}

func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found in package", name)
}
