package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/endrilickollari/ldp/internal/models"
)

// pageOutcome is one page's journey through extraction and structuring.
type pageOutcome struct {
	pageNumber int
	method     string
	text       string
	structured json.RawMessage
	err        error
}

// preprocessMetadata summarizes how the document was taken apart. It rides
// along in every result payload.
type preprocessMetadata struct {
	DocumentKind        string  `json:"document_kind"`
	PageCount           int     `json:"page_count"`
	PagesProcessedStart int     `json:"pages_processed_start"`
	PagesProcessedEnd   int     `json:"pages_processed_end"`
	PagesProcessedCount int     `json:"pages_processed_count"`
	TextBasedPages      int     `json:"text_based_pages"`
	ImageBasedPages     int     `json:"image_based_pages"`
	QualityScore        float64 `json:"quality_score"`
}

func buildMetadata(kind string, total, start, end int, outcomes []pageOutcome) preprocessMetadata {
	meta := preprocessMetadata{
		DocumentKind:        kind,
		PageCount:           total,
		PagesProcessedStart: start,
		PagesProcessedEnd:   end,
		PagesProcessedCount: len(outcomes),
	}
	for _, o := range outcomes {
		switch o.method {
		case models.MethodText:
			meta.TextBasedPages++
		case models.MethodOCR:
			meta.ImageBasedPages++
		}
	}
	if meta.PagesProcessedCount > 0 {
		meta.QualityScore = float64(meta.TextBasedPages) / float64(meta.PagesProcessedCount)
	}
	return meta
}

// combinedText renders all extracted pages into one prompt, each page under a
// numbered separator. OCR pages are marked so the model can weigh them.
func combinedText(outcomes []pageOutcome) string {
	var b strings.Builder
	for _, o := range outcomes {
		if o.err != nil || o.text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if o.method == models.MethodOCR {
			fmt.Fprintf(&b, "--- Page %d (OCR) ---\n", o.pageNumber)
		} else {
			fmt.Fprintf(&b, "--- Page %d ---\n", o.pageNumber)
		}
		b.WriteString(o.text)
	}
	return b.String()
}

// mergeCombined attaches the preprocessing metadata to the model's object.
func mergeCombined(structured json.RawMessage, meta preprocessMetadata) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(structured, &obj); err != nil {
		return nil, models.Faultf(models.FaultMalformedResponse, "structured result is not an object: %v", err)
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	obj["preprocessing_metadata"] = metaRaw
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return out, nil
}

// emptyResult is the payload for documents that yielded no extractable text.
// The job still completes so the caller can see how far preprocessing got.
func emptyResult(meta preprocessMetadata) (json.RawMessage, error) {
	out, err := json.Marshal(map[string]any{
		"extraction_failed":      true,
		"reason":                 "no extractable text content",
		"preprocessing_metadata": meta,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal empty result: %w", err)
	}
	return out, nil
}

// perPageResult renders the per_page output format: one entry per processed
// page, in page order, successes and failures side by side.
func perPageResult(outcomes []pageOutcome, meta preprocessMetadata) (json.RawMessage, error) {
	pages := make([]models.PageResult, 0, len(outcomes))
	for _, o := range outcomes {
		pr := models.PageResult{
			PageNumber:       o.pageNumber,
			ExtractionMethod: o.method,
		}
		if o.err != nil {
			pr.Error = models.FaultKind(o.err) + ": " + models.FaultMessage(o.err)
		} else {
			pr.StructuredData = o.structured
		}
		pages = append(pages, pr)
	}
	out, err := json.Marshal(map[string]any{
		"pages":                  pages,
		"preprocessing_metadata": meta,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal per-page result: %w", err)
	}
	return out, nil
}
