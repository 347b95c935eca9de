package processor

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestClassifyInvoiceText(t *testing.T) {
	c := NewContentClassifier()
	text := "Invoice number 1042. Bill to: ACME Corp. Amount due: $4,200. Payment terms: net 30."

	result, err := c.Classify(context.Background(), "inv.txt", strings.NewReader(text))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Label != "invoice" {
		t.Errorf("Expected invoice, got %s", result.Label)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("Confidence out of range: %f", result.Confidence)
	}
	if result.Diagnostics["format"] != "text" {
		t.Errorf("Expected text format, got %s", result.Diagnostics["format"])
	}
}

func TestClassifyDistinguishesCategories(t *testing.T) {
	c := NewContentClassifier()
	cases := []struct {
		text, want string
	}{
		{"This agreement between the parties, hereinafter the Vendor, sets obligations and governing law.", "contract"},
		{"Experience: ten years. Education: BSc. Skills: Go, SQL. References available. Curriculum vitae.", "resume"},
		{"Dear Ms. Finch, I am writing to thank you for your help. Sincerely, Tom.", "correspondence"},
		{"Executive summary: our findings and methodology are detailed in the analysis and conclusion.", "report"},
	}
	for _, tc := range cases {
		result, err := c.Classify(context.Background(), "doc.txt", strings.NewReader(tc.text))
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		if result.Label != tc.want {
			t.Errorf("Expected %s, got %s (confidence %.2f)", tc.want, result.Label, result.Confidence)
		}
	}
}

func TestClassifyUnknownContent(t *testing.T) {
	c := NewContentClassifier()

	result, err := c.Classify(context.Background(), "doc.txt", strings.NewReader("lorem ipsum dolor sit amet"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Label != "unknown" {
		t.Errorf("Expected unknown, got %s", result.Label)
	}
	if result.Confidence != 0 {
		t.Errorf("Unknown should carry zero confidence, got %f", result.Confidence)
	}
}

func TestClassifyEmptyPayload(t *testing.T) {
	c := NewContentClassifier()

	if _, err := c.Classify(context.Background(), "doc.txt", strings.NewReader("")); err == nil {
		t.Error("Empty payload should fail")
	}
}

func TestClassifyRejectsBinaryGarbage(t *testing.T) {
	c := NewContentClassifier()
	garbage := bytes.Repeat([]byte{0x00, 0xFF, 0x13, 0x37}, 256)

	if _, err := c.Classify(context.Background(), "doc.bin", bytes.NewReader(garbage)); err == nil {
		t.Error("Binary payload with no known format should fail")
	}
}

func TestClassifyBrokenPDF(t *testing.T) {
	c := NewContentClassifier()
	// PDF magic with a truncated body: extraction must fail, not panic.
	if _, err := c.Classify(context.Background(), "doc.pdf", strings.NewReader("%PDF-1.7 garbage")); err == nil {
		t.Error("Truncated PDF should fail")
	}
}

func TestExtensionSniffing(t *testing.T) {
	// A text payload behind an unknown extension still classifies.
	c := NewContentClassifier()
	result, err := c.Classify(context.Background(), "doc.weird", strings.NewReader("invoice subtotal amount due"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Label != "invoice" {
		t.Errorf("Expected invoice, got %s", result.Label)
	}
}
