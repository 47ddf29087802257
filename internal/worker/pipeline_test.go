package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/endrilickollari/ldp/internal/docstore"
	"github.com/endrilickollari/ldp/internal/extract"
	"github.com/endrilickollari/ldp/internal/models"
	"github.com/endrilickollari/ldp/internal/segment"
	"github.com/endrilickollari/ldp/internal/store"
	"github.com/endrilickollari/ldp/internal/structuring"
	"github.com/endrilickollari/ldp/internal/usage"
)

type fakeSegmenter struct {
	units []segment.PageUnit
	total int
	err   error
}

func (f *fakeSegmenter) Segment(_, _ string, _ []byte, _, _ *int) (*segment.Sequence, error) {
	if f.err != nil {
		return nil, f.err
	}
	return segment.FromUnits(f.total, f.units...), nil
}

type fakePage struct {
	text   string
	method string
	err    error
}

type fakeExtractor struct {
	pages map[int]fakePage
}

func (f *fakeExtractor) PageText(_ context.Context, unit segment.PageUnit) (extract.PageText, error) {
	p, ok := f.pages[unit.PageNumber]
	if !ok {
		return extract.PageText{}, models.Faultf(models.FaultInternal, "unexpected page %d", unit.PageNumber)
	}
	if p.err != nil {
		return extract.PageText{}, p.err
	}
	return extract.PageText{Text: p.text, Method: p.method}, nil
}

type fakeStructurer struct {
	out   json.RawMessage
	err   error
	calls int
}

func (f *fakeStructurer) Structure(context.Context, string) (json.RawMessage, error) {
	f.calls++
	return f.out, f.err
}

// pageStructurer answers per input text, so pages in one job can diverge.
type pageStructurer struct {
	out   map[string]json.RawMessage
	fail  map[string]error
	calls int
}

func (f *pageStructurer) Structure(_ context.Context, text string) (json.RawMessage, error) {
	f.calls++
	if err, ok := f.fail[text]; ok {
		return nil, err
	}
	return f.out[text], nil
}

type fixture struct {
	jobs  *store.Memory
	docs  *docstore.Memory
	usage *usage.Memory
	pipe  *Pipeline
	jobID string
}

func newFixture(t *testing.T, outputFormat string, seg *fakeSegmenter, ext *fakeExtractor, str structuring.Structurer) *fixture {
	t.Helper()
	jobs := store.NewMemory()
	docs := docstore.NewMemoryStore()
	recs := usage.NewMemory()
	ctx := context.Background()

	job, err := jobs.Create(ctx, store.CreateParams{
		ID:           "job-1",
		UserID:       "u1",
		Filename:     "contract.pdf",
		Kind:         models.KindPDF,
		FileSize:     4096,
		OutputFormat: outputFormat,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := docs.Put(ctx, job.ID, []byte("%PDF")); err != nil {
		t.Fatal(err)
	}

	return &fixture{
		jobs:  jobs,
		docs:  docs,
		usage: recs,
		pipe:  NewPipeline(jobs, docs, seg, ext, str, recs, nil),
		jobID: job.ID,
	}
}

func pdfUnit(page int, text string) segment.PageUnit {
	return segment.PageUnit{PageNumber: page, NativeText: text, Kind: models.KindPDF}
}

func TestPipelineCombinedWithOCRFallbackPage(t *testing.T) {
	seg := &fakeSegmenter{
		total: 10,
		units: []segment.PageUnit{pdfUnit(3, "native"), pdfUnit(4, ""), pdfUnit(5, "native")},
	}
	ext := &fakeExtractor{pages: map[int]fakePage{
		3: {text: "Page three text", method: models.MethodText},
		4: {text: "Scanned page four", method: models.MethodOCR},
		5: {text: "Page five text", method: models.MethodText},
	}}
	str := &fakeStructurer{out: json.RawMessage(`{"document_type":"contract"}`)}
	f := newFixture(t, models.OutputCombined, seg, ext, str)

	f.pipe.Process(context.Background(), f.jobID)

	job, err := f.jobs.Get(context.Background(), f.jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.StatusSuccess {
		t.Fatalf("status = %s, error = %+v", job.Status, job.Error)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}

	var result struct {
		DocumentType string             `json:"document_type"`
		Meta         preprocessMetadata `json:"preprocessing_metadata"`
	}
	if err := json.Unmarshal(job.Result, &result); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if result.DocumentType != "contract" {
		t.Errorf("document_type = %q", result.DocumentType)
	}
	meta := result.Meta
	if meta.PageCount != 10 || meta.PagesProcessedStart != 3 || meta.PagesProcessedEnd != 5 {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.TextBasedPages != 2 || meta.ImageBasedPages != 1 {
		t.Errorf("page method counts = %+v", meta)
	}
	if want := 2.0 / 3.0; meta.QualityScore < want-0.01 || meta.QualityScore > want+0.01 {
		t.Errorf("quality_score = %f, want ~%f", meta.QualityScore, want)
	}

	if str.calls != 1 {
		t.Errorf("structurer calls = %d, want 1 for combined", str.calls)
	}

	recs := f.usage.Records()
	if len(recs) != 1 {
		t.Fatalf("usage records = %d, want 1", len(recs))
	}
	if !recs[0].Success || recs[0].JobID != f.jobID {
		t.Errorf("usage record = %+v", recs[0])
	}
}

func TestPipelinePerPagePartialFailure(t *testing.T) {
	seg := &fakeSegmenter{
		total: 2,
		units: []segment.PageUnit{pdfUnit(1, "ok"), pdfUnit(2, "")},
	}
	ext := &fakeExtractor{pages: map[int]fakePage{
		1: {text: "Readable page", method: models.MethodText},
		2: {err: models.Faultf(models.FaultOCRFailure, "tesseract: exit 1")},
	}}
	str := &fakeStructurer{out: json.RawMessage(`{"fields":{}}`)}
	f := newFixture(t, models.OutputPerPage, seg, ext, str)

	f.pipe.Process(context.Background(), f.jobID)

	job, _ := f.jobs.Get(context.Background(), f.jobID)
	if job.Status != models.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS when one page survives", job.Status)
	}

	var result struct {
		Pages []models.PageResult `json:"pages"`
	}
	if err := json.Unmarshal(job.Result, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(result.Pages))
	}
	if result.Pages[0].PageNumber != 1 || result.Pages[0].StructuredData == nil {
		t.Errorf("page 1 = %+v", result.Pages[0])
	}
	if result.Pages[1].Error == "" || result.Pages[1].StructuredData != nil {
		t.Errorf("page 2 = %+v", result.Pages[1])
	}

	recs := f.usage.Records()
	if len(recs) != 1 || !recs[0].Success {
		t.Errorf("usage records = %+v", recs)
	}
}

func TestPipelinePerPageStructuringFailureIsolated(t *testing.T) {
	seg := &fakeSegmenter{
		total: 10,
		units: []segment.PageUnit{pdfUnit(3, "three"), pdfUnit(4, "four"), pdfUnit(5, "five")},
	}
	ext := &fakeExtractor{pages: map[int]fakePage{
		3: {text: "Page three text", method: models.MethodText},
		4: {text: "Page four text", method: models.MethodText},
		5: {text: "Page five text", method: models.MethodText},
	}}
	str := &pageStructurer{
		out: map[string]json.RawMessage{
			"Page three text": json.RawMessage(`{"n":3}`),
			"Page five text":  json.RawMessage(`{"n":5}`),
		},
		fail: map[string]error{
			"Page four text": models.Faultf(models.FaultMalformedResponse, "model output is not valid JSON"),
		},
	}
	f := newFixture(t, models.OutputPerPage, seg, ext, str)

	f.pipe.Process(context.Background(), f.jobID)

	job, _ := f.jobs.Get(context.Background(), f.jobID)
	if job.Status != models.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS when siblings survive (error = %+v)", job.Status, job.Error)
	}
	if str.calls != 3 {
		t.Errorf("structurer calls = %d, want 3", str.calls)
	}

	var result struct {
		Pages []models.PageResult `json:"pages"`
	}
	if err := json.Unmarshal(job.Result, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(result.Pages))
	}
	for i, want := range []int{3, 4, 5} {
		if result.Pages[i].PageNumber != want {
			t.Errorf("pages[%d].page_number = %d, want %d", i, result.Pages[i].PageNumber, want)
		}
	}
	for _, i := range []int{0, 2} {
		if result.Pages[i].StructuredData == nil || result.Pages[i].Error != "" {
			t.Errorf("page %d = %+v", result.Pages[i].PageNumber, result.Pages[i])
		}
	}
	if result.Pages[1].StructuredData != nil {
		t.Errorf("failed page carries structured data: %+v", result.Pages[1])
	}
	if result.Pages[1].Error != models.FaultMalformedResponse+": model output is not valid JSON" {
		t.Errorf("page 4 error = %q", result.Pages[1].Error)
	}

	recs := f.usage.Records()
	if len(recs) != 1 || !recs[0].Success {
		t.Errorf("usage records = %+v", recs)
	}
}

func TestPipelinePerPageAllPagesFail(t *testing.T) {
	seg := &fakeSegmenter{
		total: 2,
		units: []segment.PageUnit{pdfUnit(1, ""), pdfUnit(2, "")},
	}
	ext := &fakeExtractor{pages: map[int]fakePage{
		1: {err: models.Faultf(models.FaultOCRFailure, "tesseract: exit 1")},
		2: {err: models.Faultf(models.FaultOCRFailure, "tesseract: exit 1")},
	}}
	str := &fakeStructurer{}
	f := newFixture(t, models.OutputPerPage, seg, ext, str)

	f.pipe.Process(context.Background(), f.jobID)

	job, _ := f.jobs.Get(context.Background(), f.jobID)
	if job.Status != models.StatusFailure {
		t.Fatalf("status = %s, want FAILURE when every page fails", job.Status)
	}
	if job.Error == nil || job.Error.Kind != models.FaultOCRFailure {
		t.Errorf("error = %+v", job.Error)
	}
	if str.calls != 0 {
		t.Errorf("structurer called %d times with no extracted pages", str.calls)
	}
}

func TestPipelineCombinedStructuringFailure(t *testing.T) {
	seg := &fakeSegmenter{total: 1, units: []segment.PageUnit{pdfUnit(1, "text")}}
	ext := &fakeExtractor{pages: map[int]fakePage{
		1: {text: "Invoice text", method: models.MethodText},
	}}
	str := &fakeStructurer{err: models.Faultf(models.FaultMalformedResponse, "model output is not valid JSON")}
	f := newFixture(t, models.OutputCombined, seg, ext, str)

	f.pipe.Process(context.Background(), f.jobID)

	job, _ := f.jobs.Get(context.Background(), f.jobID)
	if job.Status != models.StatusFailure {
		t.Fatalf("status = %s, want FAILURE", job.Status)
	}
	if job.Error.Kind != models.FaultMalformedResponse {
		t.Errorf("error kind = %s", job.Error.Kind)
	}

	recs := f.usage.Records()
	if len(recs) != 1 {
		t.Fatalf("usage records = %d, want exactly 1", len(recs))
	}
	if recs[0].Success {
		t.Error("failed job recorded as success")
	}
	if recs[0].Error != models.FaultMalformedResponse {
		t.Errorf("usage error = %q", recs[0].Error)
	}
}

func TestPipelineCombinedSkipsFailedPages(t *testing.T) {
	seg := &fakeSegmenter{
		total: 2,
		units: []segment.PageUnit{pdfUnit(1, "ok"), pdfUnit(2, "")},
	}
	ext := &fakeExtractor{pages: map[int]fakePage{
		1: {text: "Readable", method: models.MethodText},
		2: {err: models.Faultf(models.FaultOCRFailure, "rasterize page 2 produced no image")},
	}}
	str := &fakeStructurer{out: json.RawMessage(`{"document_type":"letter"}`)}
	f := newFixture(t, models.OutputCombined, seg, ext, str)

	f.pipe.Process(context.Background(), f.jobID)

	job, _ := f.jobs.Get(context.Background(), f.jobID)
	if job.Status != models.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS with one readable page (error = %+v)", job.Status, job.Error)
	}
	if str.calls != 1 {
		t.Errorf("structurer calls = %d, want 1", str.calls)
	}

	var result struct {
		Meta preprocessMetadata `json:"preprocessing_metadata"`
	}
	if err := json.Unmarshal(job.Result, &result); err != nil {
		t.Fatal(err)
	}
	// The failed page still counts as processed but contributes no text.
	if result.Meta.PagesProcessedCount != 2 {
		t.Errorf("pages_processed_count = %d, want 2", result.Meta.PagesProcessedCount)
	}
	if result.Meta.TextBasedPages != 1 || result.Meta.ImageBasedPages != 0 {
		t.Errorf("page method counts = %+v", result.Meta)
	}
}

func TestPipelineCombinedAllPagesFault(t *testing.T) {
	seg := &fakeSegmenter{
		total: 2,
		units: []segment.PageUnit{pdfUnit(1, ""), pdfUnit(2, "")},
	}
	ext := &fakeExtractor{pages: map[int]fakePage{
		1: {err: models.Faultf(models.FaultOCRFailure, "tesseract: exit 1")},
		2: {err: models.Faultf(models.FaultOCRFailure, "tesseract: exit 1")},
	}}
	str := &fakeStructurer{}
	f := newFixture(t, models.OutputCombined, seg, ext, str)

	f.pipe.Process(context.Background(), f.jobID)

	job, _ := f.jobs.Get(context.Background(), f.jobID)
	if job.Status != models.StatusFailure {
		t.Fatalf("status = %s, want FAILURE when no page yields text", job.Status)
	}
	if job.Error.Kind != models.FaultOCRFailure {
		t.Errorf("error kind = %s", job.Error.Kind)
	}
	if str.calls != 0 {
		t.Error("structurer called with no extracted text")
	}
}

func TestPipelineEmptyDocumentCompletes(t *testing.T) {
	seg := &fakeSegmenter{total: 1, units: []segment.PageUnit{pdfUnit(1, "")}}
	ext := &fakeExtractor{pages: map[int]fakePage{
		1: {text: "", method: models.MethodOCR},
	}}
	str := &fakeStructurer{}
	f := newFixture(t, models.OutputCombined, seg, ext, str)

	f.pipe.Process(context.Background(), f.jobID)

	job, _ := f.jobs.Get(context.Background(), f.jobID)
	if job.Status != models.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS for empty extraction", job.Status)
	}
	var result map[string]any
	if err := json.Unmarshal(job.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result["extraction_failed"] != true {
		t.Errorf("result = %v", result)
	}
	if str.calls != 0 {
		t.Error("structurer called for empty document")
	}
}

func TestPipelineSegmentFaultFailsJob(t *testing.T) {
	seg := &fakeSegmenter{err: models.Faultf(models.FaultInvalidPageRange, "page_start (6) exceeds document length (5)")}
	f := newFixture(t, models.OutputCombined, seg, &fakeExtractor{}, &fakeStructurer{})

	f.pipe.Process(context.Background(), f.jobID)

	job, _ := f.jobs.Get(context.Background(), f.jobID)
	if job.Status != models.StatusFailure {
		t.Fatalf("status = %s, want FAILURE", job.Status)
	}
	if job.Error.Kind != models.FaultInvalidPageRange {
		t.Errorf("error kind = %s", job.Error.Kind)
	}
}

func TestPipelineDocumentCleanedUpAfterTerminal(t *testing.T) {
	seg := &fakeSegmenter{total: 1, units: []segment.PageUnit{pdfUnit(1, "x")}}
	ext := &fakeExtractor{pages: map[int]fakePage{1: {text: "text", method: models.MethodText}}}
	str := &fakeStructurer{out: json.RawMessage(`{}`)}
	f := newFixture(t, models.OutputCombined, seg, ext, str)

	f.pipe.Process(context.Background(), f.jobID)

	if _, err := f.docs.Get(context.Background(), f.jobID); err == nil {
		t.Error("document still present after terminal state")
	}
}
