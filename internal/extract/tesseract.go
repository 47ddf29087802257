package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/endrilickollari/ldp/internal/config"
	"github.com/endrilickollari/ldp/internal/models"
)

// Tesseract is the production OCR engine: pdftoppm rasterizes PDF pages and
// tesseract reads the result. Inputs pass through a contrast and sharpening
// step before OCR.
type Tesseract struct {
	runner    Runner
	tesseract string
	pdftoppm  string
	language  string
	dpi       int
	psm       int
	timeout   time.Duration
	workDir   string
}

func NewTesseract(cfg config.Config) *Tesseract {
	return &Tesseract{
		runner:    execRunner{},
		tesseract: cfg.OCRTesseract,
		pdftoppm:  cfg.OCRPdftoppm,
		language:  cfg.OCRLanguage,
		dpi:       cfg.OCRDPI,
		psm:       cfg.OCRPSM,
		timeout:   cfg.OCRTimeout,
		workDir:   cfg.OCRWorkDir,
	}
}

func (t *Tesseract) ImageText(ctx context.Context, img []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	dir, err := os.MkdirTemp(t.workDir, "ocr-*")
	if err != nil {
		return "", fmt.Errorf("ocr workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "input.png")
	if err := t.writeEnhanced(img, path); err != nil {
		return "", err
	}
	return t.ocr(ctx, path)
}

func (t *Tesseract) PDFPageText(ctx context.Context, pdfData []byte, pageNumber int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	dir, err := os.MkdirTemp(t.workDir, "ocr-*")
	if err != nil {
		return "", fmt.Errorf("ocr workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	pdfPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(pdfPath, pdfData, 0o600); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}

	page := strconv.Itoa(pageNumber)
	prefix := filepath.Join(dir, "page")
	// pdftoppm -f N -l N -r <dpi> -png -singlefile <in.pdf> <prefix>
	_, errb, err := t.runner.Run(ctx, t.pdftoppm,
		"-f", page, "-l", page, "-r", strconv.Itoa(t.dpi), "-png", "-singlefile", pdfPath, prefix)
	if err != nil {
		return "", models.Faultf(models.FaultOCRFailure, "rasterize page %d: %v: %s", pageNumber, err, truncate(string(errb), 512))
	}

	rendered := prefix + ".png"
	raw, err := os.ReadFile(rendered)
	if err != nil {
		return "", models.Faultf(models.FaultOCRFailure, "rasterize page %d produced no image", pageNumber)
	}
	if err := t.writeEnhanced(raw, rendered); err != nil {
		return "", err
	}
	return t.ocr(ctx, rendered)
}

// writeEnhanced decodes, grayscales, bumps contrast, sharpens, and writes the
// image back out for tesseract.
func (t *Tesseract) writeEnhanced(raw []byte, path string) error {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return models.Faultf(models.FaultOCRFailure, "decode image: %v", err)
	}
	img = imaging.Grayscale(img)
	img = imaging.AdjustContrast(img, 20)
	img = imaging.Sharpen(img, 1.0)
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save enhanced image: %w", err)
	}
	return nil
}

func (t *Tesseract) ocr(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang> --psm <psm>
	out, errb, err := t.runner.Run(ctx, t.tesseract,
		path, "stdout", "-l", t.language, "--psm", strconv.Itoa(t.psm))
	if err != nil {
		if ctx.Err() != nil {
			return "", models.Faultf(models.FaultTimeout, "ocr timed out after %s", t.timeout)
		}
		return "", models.Faultf(models.FaultOCRFailure, "tesseract: %v: %s", err, truncate(string(errb), 512))
	}
	return string(out), nil
}
