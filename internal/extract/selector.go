package extract

import (
	"context"
	"strings"

	"github.com/endrilickollari/ldp/internal/models"
	"github.com/endrilickollari/ldp/internal/segment"
	"github.com/endrilickollari/ldp/internal/telemetry"
)

// Thresholds below which a page's native text layer is considered unusable
// and the page is sent to OCR instead.
const (
	minNativeChars    = 50
	minPrintableRatio = 0.85
	minWordlikeRatio  = 0.2
)

// PageText is the extraction outcome for one page.
type PageText struct {
	Text   string
	Method string
}

// Extractor produces text for a page unit.
type Extractor interface {
	PageText(ctx context.Context, unit segment.PageUnit) (PageText, error)
}

// Selector routes each page to the native text layer or to the OCR engine
// based on text density and quality.
type Selector struct {
	engine Engine
}

func NewSelector(engine Engine) *Selector {
	return &Selector{engine: engine}
}

func (s *Selector) PageText(ctx context.Context, unit segment.PageUnit) (PageText, error) {
	native := strings.TrimSpace(unit.NativeText)

	switch unit.Kind {
	case models.KindSpreadsheet:
		// Spreadsheets have no raster form to fall back to.
		telemetry.PagesText.Inc()
		return PageText{Text: native, Method: models.MethodText}, nil

	case models.KindImage:
		text, err := s.engine.ImageText(ctx, unit.Raw)
		if err != nil {
			return PageText{}, err
		}
		telemetry.PagesOCR.Inc()
		return PageText{Text: strings.TrimSpace(text), Method: models.MethodOCR}, nil

	default:
		if !needsOCR(native) {
			telemetry.PagesText.Inc()
			return PageText{Text: native, Method: models.MethodText}, nil
		}
		text, err := s.engine.PDFPageText(ctx, unit.Raw, unit.PageNumber)
		if err != nil {
			return PageText{}, err
		}
		telemetry.PagesOCR.Inc()
		return PageText{Text: strings.TrimSpace(text), Method: models.MethodOCR}, nil
	}
}

// needsOCR flags pages whose text layer is too thin or too garbled to trust.
func needsOCR(native string) bool {
	if len([]rune(native)) < minNativeChars {
		return true
	}
	if printableRatio(native) < minPrintableRatio {
		return true
	}
	return wordlikeRatio(native) < minWordlikeRatio
}
