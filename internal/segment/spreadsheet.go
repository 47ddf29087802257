package segment

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/endrilickollari/ldp/internal/models"
)

// Spreadsheets are not paginated: the whole workbook becomes one text-only
// unit, and range parameters are ignored. Every sheet is rendered under its
// own header so the structuring model can tell them apart.
func segmentSpreadsheet(filename string, data []byte) (*Sequence, error) {
	var text string
	var err error
	if strings.ToLower(filepath.Ext(filename)) == ".csv" {
		text, err = csvText(data)
	} else {
		text, err = workbookText(data)
	}
	if err != nil {
		return nil, err
	}
	return FromUnits(1, PageUnit{
		PageNumber: 1,
		NativeText: text,
		Kind:       models.KindSpreadsheet,
	}), nil
}

func workbookText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", models.Faultf(models.FaultUnsupportedFileType, "unreadable workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", models.Faultf(models.FaultEmptyDocument, "workbook contains no sheets")
	}

	var b strings.Builder
	for _, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", models.Faultf(models.FaultUnsupportedFileType, "read sheet %q: %v", name, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sheetText(name, rows))
	}
	return b.String(), nil
}

func csvText(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", models.Faultf(models.FaultUnsupportedFileType, "unreadable CSV: %v", err)
		}
		rows = append(rows, rec)
	}
	return sheetText("", rows), nil
}

func sheetText(name string, rows [][]string) string {
	var b strings.Builder
	if name != "" {
		b.WriteString("Sheet: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	return b.String()
}
