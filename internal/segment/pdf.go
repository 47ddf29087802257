package segment

import (
	"bytes"

	"github.com/ledongthuc/pdf"

	"github.com/endrilickollari/ldp/internal/models"
)

func segmentPDF(data []byte, pageStart, pageEnd *int) (*Sequence, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, models.Faultf(models.FaultUnsupportedFileType, "unreadable PDF: %v", err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, models.Faultf(models.FaultEmptyDocument, "PDF contains no pages")
	}

	start, end, err := resolveRange(pageStart, pageEnd, total)
	if err != nil {
		return nil, err
	}

	return &Sequence{
		total: total,
		start: start,
		end:   end,
		cur:   start,
		load: func(pageNumber int) (PageUnit, error) {
			text := pdfPageText(reader, pageNumber)
			return PageUnit{
				PageNumber: pageNumber,
				NativeText: text,
				Kind:       models.KindPDF,
				Raw:        data,
			}, nil
		},
	}, nil
}

// pdfPageText pulls the native text layer of one page. Malformed content
// streams come back as empty text so the page falls through to OCR instead of
// sinking the whole job.
func pdfPageText(reader *pdf.Reader, pageNumber int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	page := reader.Page(pageNumber)
	if page.V.IsNull() {
		return ""
	}
	s, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return s
}
