// Package segmenter implements deterministic PDF segmentation into
// Presentation and Q&A transcripts via font-size statistics and heading
// detection, grounded on analyze_font_styles / find_qa_section_title /
// extract_text_sections in the original pdf_processor.py, using MuPDF
// (github.com/gen2brain/go-fitz) the way the reference repo's
// internal/mupdf/gofitz_extractor.go parses MuPDF's HTML export for
// per-block layout data — extended here one level deeper to also recover
// per-span font-size and font-name from the same HTML.
package segmenter

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/Tatiwuli/financial-summarizer/internal/apperr"
)

// DefaultMaxFileSizeBytes is the default upload size ceiling (10 MiB).
const DefaultMaxFileSizeBytes = 10 * 1024 * 1024

// qaPatterns is the fixed set of Q&A heading patterns, matched
// case-insensitively, per spec.md §4.1.
var qaPatterns = []string{
	"questions and answers",
	"question and answer",
	"questions and answer",
	"question and answers",
	"questions & answers",
	"question & answer",
	"question & answers",
	"questions & answer",
}

// Result is the segmenter's output.
type Result struct {
	PresentationTranscript string
	QATranscript           string
}

// span is one run of text sharing a font size and name, recovered from
// MuPDF's per-page HTML export.
type span struct {
	text     string
	fontSize float64
	fontName string
}

// line groups the spans that MuPDF placed on one visual line.
type line struct {
	spans []span
	top   float64
}

var (
	spanRegex  = regexp.MustCompile(`(?s)<span[^>]*style="([^"]*)"[^>]*>(.*?)</span>`)
	fontSizeRe = regexp.MustCompile(`font-size:\s*([0-9]+(?:\.[0-9]+)?)pt`)
	fontFaceRe = regexp.MustCompile(`font-family:\s*([^;"]+)`)
	topRe      = regexp.MustCompile(`top:\s*([0-9]+(?:\.[0-9]+)?)pt`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
)

// Segment validates and segments raw PDF bytes into Presentation and Q&A
// transcripts. filename does not affect the result and is not otherwise used.
func Segment(pdfBytes []byte, filename string, maxFileSizeBytes int) (Result, error) {
	if maxFileSizeBytes <= 0 {
		maxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	if len(pdfBytes) > maxFileSizeBytes {
		return Result{}, apperr.New(apperr.CodeFileTooLarge, fmt.Sprintf(
			"file size %d bytes exceeds maximum allowed %d bytes", len(pdfBytes), maxFileSizeBytes))
	}
	if !looksLikePDF(pdfBytes) {
		return Result{}, apperr.New(apperr.CodeInvalidFileType, "file is not a PDF")
	}

	tmp, err := os.CreateTemp("", "segment-*.pdf")
	if err != nil {
		return Result{}, apperr.Wrap(apperr.CodeInternal, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(pdfBytes); err != nil {
		tmp.Close()
		return Result{}, apperr.Wrap(apperr.CodeInternal, err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, apperr.Wrap(apperr.CodeInternal, err)
	}

	if _, err := api.PageCountFile(tmpPath); err != nil {
		return Result{}, apperr.New(apperr.CodePDFProcessingError, "failed to parse PDF: "+err.Error())
	}

	doc, err := fitz.New(tmpPath)
	if err != nil {
		return Result{}, apperr.New(apperr.CodePDFProcessingError, "failed to open PDF: "+err.Error())
	}
	defer doc.Close()

	numPages := doc.NumPage()
	if numPages == 0 {
		return Result{}, apperr.New(apperr.CodePDFProcessingError, "PDF has no pages")
	}

	pageText := make([]string, numPages)
	pageLines := make([][]line, numPages)
	for i := 0; i < numPages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			return Result{}, apperr.New(apperr.CodePDFProcessingError, fmt.Sprintf("failed to extract text on page %d: %v", i+1, err))
		}
		pageText[i] = text

		html, err := doc.HTML(i, false)
		if err == nil {
			pageLines[i] = parseLines(html)
		}
	}

	bodySize, err := computeBodyFontSize(pageLines)
	if err != nil {
		return Result{}, err
	}

	qaPage := findQAHeadingPage(pageLines, bodySize)

	var presentation, qa string
	if qaPage < 0 {
		presentation = strings.Join(pageText, "")
	} else {
		presentation = strings.Join(pageText[:qaPage], "")
		splitBefore, splitFrom := splitOnPattern(pageText[qaPage])
		presentation += splitBefore
		qa = splitFrom
		if qaPage+1 < numPages {
			qa += strings.Join(pageText[qaPage+1:], "")
		}
	}

	presentation, qa = trimCopyrightTail(presentation, qa, pageText[numPages-1], pageLines[numPages-1], bodySize)

	return Result{
		PresentationTranscript: strings.TrimSpace(presentation),
		QATranscript:           strings.TrimSpace(qa),
	}, nil
}

func looksLikePDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

// parseLines extracts per-span font metrics from one page's MuPDF HTML
// export, grouped into MuPDF's own visual lines (rounded top offsets).
func parseLines(html string) []line {
	matches := spanRegex.FindAllStringSubmatch(html, -1)
	byTop := map[int]*line{}
	var order []int
	for _, m := range matches {
		style, inner := m[1], m[2]
		text := strings.TrimSpace(tagRe.ReplaceAllString(inner, ""))
		if text == "" {
			continue
		}
		sz := 0.0
		if sm := fontSizeRe.FindStringSubmatch(style); len(sm) > 1 {
			sz, _ = strconv.ParseFloat(sm[1], 64)
		}
		face := ""
		if fm := fontFaceRe.FindStringSubmatch(style); len(fm) > 1 {
			face = strings.ToLower(strings.TrimSpace(fm[1]))
		}
		top := 0.0
		if tm := topRe.FindStringSubmatch(style); len(tm) > 1 {
			top, _ = strconv.ParseFloat(tm[1], 64)
		}
		key := int(math.Round(top))
		l, ok := byTop[key]
		if !ok {
			l = &line{top: top}
			byTop[key] = l
			order = append(order, key)
		}
		l.spans = append(l.spans, span{text: text, fontSize: sz, fontName: face})
	}
	sort.Ints(order)
	lines := make([]line, 0, len(order))
	for _, k := range order {
		lines = append(lines, *byTop[k])
	}
	return lines
}

// computeBodyFontSize is the statistical mode of rounded (1dp) positive
// font sizes across the document, falling back to the median when no
// unique mode exists — analyze_font_styles in pdf_processor.py.
func computeBodyFontSize(pages [][]line) (float64, error) {
	counts := map[float64]int{}
	var all []float64
	for _, lines := range pages {
		for _, l := range lines {
			for _, s := range l.spans {
				if s.fontSize <= 0 {
					continue
				}
				r := math.Round(s.fontSize*10) / 10
				counts[r]++
				all = append(all, r)
			}
		}
	}
	if len(all) == 0 {
		return 0, apperr.New(apperr.CodePDFProcessingError, "no valid font sizes found in document")
	}
	best, bestCount, tie := 0.0, 0, false
	for sz, c := range counts {
		if c > bestCount {
			best, bestCount, tie = sz, c, false
		} else if c == bestCount {
			tie = true
		}
	}
	if tie {
		sort.Float64s(all)
		return all[len(all)/2], nil
	}
	return best, nil
}

// findQAHeadingPage scans pages from last to first, applying the three
// qualification rules from spec.md §4.1 / find_qa_section_title, and
// returns the 0-based index of the qualifying page, or -1 if none.
func findQAHeadingPage(pages [][]line, bodySize float64) int {
	for p := len(pages) - 1; p >= 0; p-- {
		for _, l := range pages[p] {
			lineText := ""
			maxSize := 0.0
			isBold := false
			for _, s := range l.spans {
				lineText += s.text
				if s.fontSize > maxSize {
					maxSize = s.fontSize
				}
				if strings.Contains(s.fontName, "bold") || strings.Contains(s.fontName, "heavy") {
					isBold = true
				}
			}
			lower := strings.ToLower(lineText)
			for _, pattern := range qaPatterns {
				idx := strings.Index(lower, pattern)
				if idx < 0 {
					continue
				}
				if maxSize > bodySize {
					return p
				}
				if maxSize == bodySize && isBold {
					return p
				}
				if maxSize == bodySize && shortTrailer(lineText, pattern) {
					return p
				}
			}
		}
	}
	return -1
}

// shortTrailer implements rule (c): the line contains at most 3 other word
// tokens once the matched pattern text is removed.
func shortTrailer(lineText, pattern string) bool {
	lower := strings.ToLower(lineText)
	idx := strings.Index(lower, pattern)
	if idx < 0 {
		return false
	}
	remainder := lineText[:idx] + lineText[idx+len(pattern):]
	tokens := strings.Fields(remainder)
	return len(tokens) <= 3
}

// splitOnPattern splits page text at the earliest case-insensitive match
// of any Q&A pattern: text before the match stays in Presentation, text
// from the match onward seeds Q&A.
func splitOnPattern(pageText string) (before, from string) {
	lower := strings.ToLower(pageText)
	bestIdx := -1
	for _, p := range qaPatterns {
		if idx := strings.Index(lower, p); idx >= 0 {
			if bestIdx < 0 || idx < bestIdx {
				bestIdx = idx
			}
		}
	}
	if bestIdx < 0 {
		return pageText, ""
	}
	return pageText[:bestIdx], pageText[bestIdx:]
}

// trimCopyrightTail strips a trailing copyright page from whichever
// transcript currently ends with it, when the last page's own max span
// size is strictly below body size — extract_text_sections step 4.
func trimCopyrightTail(presentation, qa, lastPageText string, lastPageLines []line, bodySize float64) (string, string) {
	trimmed := strings.TrimSpace(lastPageText)
	if trimmed == "" {
		return presentation, qa
	}
	maxSize := 0.0
	for _, l := range lastPageLines {
		for _, s := range l.spans {
			if s.fontSize > maxSize {
				maxSize = s.fontSize
			}
		}
	}
	if maxSize == 0 || maxSize >= bodySize {
		return presentation, qa
	}
	qaTrim := strings.TrimSpace(qa)
	if qaTrim != "" && strings.HasSuffix(qaTrim, trimmed) {
		return presentation, strings.TrimSpace(qaTrim[:len(qaTrim)-len(trimmed)])
	}
	presTrim := strings.TrimSpace(presentation)
	if strings.HasSuffix(presTrim, trimmed) {
		return strings.TrimSpace(presTrim[:len(presTrim)-len(trimmed)]), qa
	}
	return presentation, qa
}
