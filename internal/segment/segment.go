// Package segment splits an uploaded document into the ordered page units the
// extraction pipeline consumes. PDFs yield one unit per page; spreadsheets and
// images are not paginated and yield a single unit.
package segment

import (
	"github.com/endrilickollari/ldp/internal/models"
)

// PageUnit is one processable slice of a document.
type PageUnit struct {
	// PageNumber is 1-based within the source document.
	PageNumber int
	// NativeText is the text layer recovered without OCR, possibly empty.
	NativeText string
	// Kind echoes the document kind so the extractor can pick a strategy.
	Kind string
	// Raw carries the bytes an OCR pass would need: the whole PDF for PDF
	// pages, the image bytes for images, nil for spreadsheets.
	Raw []byte
}

// Sequence iterates the selected page units exactly once, in order. Page
// content is materialized on Next, not up front.
type Sequence struct {
	total   int
	start   int
	end     int
	cur     int
	load    func(pageNumber int) (PageUnit, error)
	release func()
}

// TotalPages is the page count of the whole source document.
func (s *Sequence) TotalPages() int { return s.total }

// Start and End bound the selected range, inclusive.
func (s *Sequence) Start() int { return s.start }
func (s *Sequence) End() int   { return s.end }

// Len is the number of units the sequence will yield.
func (s *Sequence) Len() int { return s.end - s.start + 1 }

// Next returns the next unit, or ok=false once the range is exhausted.
func (s *Sequence) Next() (PageUnit, bool, error) {
	if s.cur > s.end {
		if s.release != nil {
			s.release()
			s.release = nil
		}
		return PageUnit{}, false, nil
	}
	unit, err := s.load(s.cur)
	if err != nil {
		return PageUnit{}, false, err
	}
	s.cur++
	return unit, true, nil
}

// FromUnits builds a sequence over pre-materialized units. total is the page
// count of the whole document, which may exceed the selected units.
func FromUnits(total int, units ...PageUnit) *Sequence {
	start := 1
	if len(units) > 0 {
		start = units[0].PageNumber
	}
	return &Sequence{
		total: total,
		start: start,
		end:   start + len(units) - 1,
		cur:   start,
		load: func(n int) (PageUnit, error) {
			return units[n-start], nil
		},
	}
}

// Segmenter turns an uploaded document into a page sequence.
type Segmenter interface {
	Segment(filename, kind string, data []byte, pageStart, pageEnd *int) (*Sequence, error)
}

// Splitter is the production Segmenter.
type Splitter struct{}

func NewSplitter() *Splitter { return &Splitter{} }

func (sp *Splitter) Segment(filename, kind string, data []byte, pageStart, pageEnd *int) (*Sequence, error) {
	switch kind {
	case models.KindPDF:
		return segmentPDF(data, pageStart, pageEnd)
	case models.KindSpreadsheet:
		return segmentSpreadsheet(filename, data)
	case models.KindImage:
		return segmentImage(data)
	default:
		return nil, models.Faultf(models.FaultUnsupportedFileType, "unsupported document kind %q", kind)
	}
}

// Images are not paginated: one unit, range parameters ignored.
func segmentImage(data []byte) (*Sequence, error) {
	return FromUnits(1, PageUnit{PageNumber: 1, Kind: models.KindImage, Raw: data}), nil
}

// resolveRange clamps an optional page selection against the document's page
// count. A nil bound defaults to the document edge on that side.
func resolveRange(pageStart, pageEnd *int, total int) (int, int, error) {
	start, end := 1, total
	if pageStart != nil {
		start = *pageStart
	}
	if pageEnd != nil {
		end = *pageEnd
	}
	if start < 1 {
		return 0, 0, models.Faultf(models.FaultInvalidPageRange, "page_start must be >= 1")
	}
	if start > end {
		return 0, 0, models.Faultf(models.FaultInvalidPageRange, "page_start must be <= page_end")
	}
	if start > total {
		return 0, 0, models.Faultf(models.FaultInvalidPageRange,
			"page_start (%d) exceeds document length (%d)", start, total)
	}
	if end > total {
		return 0, 0, models.Faultf(models.FaultInvalidPageRange,
			"page_end (%d) exceeds document length (%d)", end, total)
	}
	return start, end, nil
}
