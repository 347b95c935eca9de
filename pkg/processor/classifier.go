package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/doctriage/doctriage/pkg/models"
)

// ContentClassifier classifies documents by content, not filename: it
// extracts text from the payload and scores it against per-category
// keyword tables. It is the default payload processor; deployments with
// a model-serving classifier swap in their own Processor.
type ContentClassifier struct {
	categories map[string][]string
	maxBytes   int64
}

// DefaultCategories returns the built-in category keyword tables
func DefaultCategories() map[string][]string {
	return map[string][]string{
		"invoice": {
			"invoice", "amount due", "bill to", "payment terms", "subtotal",
			"total due", "invoice number", "remit", "net 30", "purchase order",
		},
		"report": {
			"executive summary", "findings", "methodology", "analysis",
			"conclusion", "quarterly", "annual report", "overview", "appendix",
		},
		"contract": {
			"agreement", "party", "parties", "hereinafter", "terms and conditions",
			"witness whereof", "obligations", "termination", "governing law",
			"indemnify", "warranty",
		},
		"resume": {
			"experience", "education", "skills", "employment history",
			"references", "curriculum vitae", "objective", "certifications",
			"proficient in",
		},
		"correspondence": {
			"dear", "sincerely", "regards", "best wishes", "yours truly",
			"thank you for", "i am writing", "please find",
		},
	}
}

// NewContentClassifier creates a classifier with the built-in categories
func NewContentClassifier() *ContentClassifier {
	return &ContentClassifier{
		categories: DefaultCategories(),
		maxBytes:   16 << 20, // refuse to buffer payloads past 16 MiB
	}
}

// Classify extracts text from the payload and scores it per category
func (c *ContentClassifier) Classify(ctx context.Context, ref string, r io.Reader) (*models.ClassificationResult, error) {
	start := time.Now()

	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes))
	if err != nil {
		return nil, &models.ClassificationError{Ref: ref, Message: fmt.Sprintf("failed to read payload: %v", err)}
	}
	if len(data) == 0 {
		return nil, &models.ClassificationError{Ref: ref, Message: "empty payload"}
	}

	text, format, err := extractText(ref, data)
	if err != nil {
		return nil, &models.ClassificationError{Ref: ref, Message: err.Error()}
	}

	label, confidence, hits := c.score(text)

	return &models.ClassificationResult{
		Label:      label,
		Confidence: confidence,
		Diagnostics: map[string]string{
			"format":       format,
			"text_bytes":   fmt.Sprintf("%d", len(text)),
			"keyword_hits": fmt.Sprintf("%d", hits),
		},
		Duration: time.Since(start),
	}, nil
}

// score returns the best-matching label, a margin-normalized confidence
// and the winning category's hit count
func (c *ContentClassifier) score(text string) (string, float64, int) {
	lower := strings.ToLower(text)

	type scored struct {
		label string
		hits  int
	}
	scores := make([]scored, 0, len(c.categories))
	for label, keywords := range c.categories {
		hits := 0
		for _, kw := range keywords {
			hits += strings.Count(lower, kw)
		}
		scores = append(scores, scored{label: label, hits: hits})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].hits != scores[j].hits {
			return scores[i].hits > scores[j].hits
		}
		return scores[i].label < scores[j].label
	})

	best := scores[0]
	if best.hits == 0 {
		return "unknown", 0, 0
	}

	// Confidence grows with the margin over the runner-up.
	runnerUp := 0
	if len(scores) > 1 {
		runnerUp = scores[1].hits
	}
	confidence := float64(best.hits-runnerUp) / float64(best.hits)
	if confidence < 0.1 {
		confidence = 0.1 // matched but ambiguous
	}
	return best.label, confidence, best.hits
}

// extractText pulls plain text out of the payload based on extension and
// content sniffing
func extractText(ref string, data []byte) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(ref))

	switch ext {
	case ".pdf":
		text, err := extractPDF(data)
		if err != nil {
			return "", "", fmt.Errorf("pdf extraction failed: %v", err)
		}
		return text, "pdf", nil
	case ".txt", ".md", ".csv", ".json", ".html", ".xml", "":
		if !looksLikeText(data) {
			return "", "", fmt.Errorf("payload is not text despite %q extension", ext)
		}
		return string(data), "text", nil
	default:
		// Unrecognized extension: sniff. PDFs renamed to something else
		// still classify by content.
		if bytes.HasPrefix(data, []byte("%PDF-")) {
			text, err := extractPDF(data)
			if err != nil {
				return "", "", fmt.Errorf("pdf extraction failed: %v", err)
			}
			return text, "pdf", nil
		}
		if looksLikeText(data) {
			return string(data), "text", nil
		}
		return "", "", fmt.Errorf("unsupported binary format %q", ext)
	}
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// looksLikeText reports whether the payload is plausibly UTF-8 text
func looksLikeText(data []byte) bool {
	sample := data
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	if bytes.ContainsRune(sample, 0) {
		return false
	}
	printable := 0
	for _, b := range sample {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0xF8) {
			printable++
		}
	}
	return printable*10 >= len(sample)*9
}
