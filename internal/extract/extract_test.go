package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studykit/papergrader/internal/model"
	"github.com/studykit/papergrader/internal/source"
)

// fakeVision maps page image contents to canned model replies.
type fakeVision struct {
	replies map[string]string
	errs    map[string]error
	delays  map[string]time.Duration
}

func (f *fakeVision) ExtractFromImage(_ context.Context, image []byte, _, _ string) (string, error) {
	key := string(image)
	if d, ok := f.delays[key]; ok {
		time.Sleep(d)
	}
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	reply, ok := f.replies[key]
	if !ok {
		return "", fmt.Errorf("unexpected image %q", key)
	}
	return reply, nil
}

func pageReply(text string, answers string) string {
	return fmt.Sprintf(`{"page_content": {"raw_text": %q, "answers": [%s], "extraction_stats": {"words_extracted": 5, "text_quality": "clear"}}}`, text, answers)
}

func TestProcessDocumentAssemblesPagesInOrder(t *testing.T) {
	fake := &fakeVision{
		replies: map[string]string{
			"p1": pageReply("first page", `{"answer_number": 1, "content": "A", "answer_type": "long_answer", "confidence": "high"}`),
			"p2": pageReply("second page", `{"answer_number": 1, "content": "C"}, {"answer_number": 2, "content": "B"}`),
			"p3": pageReply("third page", ``),
		},
		// First page finishes last; reassembly must still be in page order.
		delays: map[string]time.Duration{"p1": 20 * time.Millisecond},
	}

	p := New(fake, WithPageConcurrency(3))
	src := source.BytesSource{DocName: "paper.pdf", Images: [][]byte{[]byte("p1"), []byte("p2"), []byte("p3")}}

	result, err := p.ProcessDocument(context.Background(), src)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.PagesProcessed)
	assert.Equal(t,
		"=== PAGE 1 ===\nfirst page\n\n=== PAGE 2 ===\nsecond page\n\n=== PAGE 3 ===\nthird page",
		result.RawText)

	require.Equal(t, 2, result.TotalAnswers)
	first := result.Answers[0]
	assert.Equal(t, "1", first.AnswerNumber)
	assert.Equal(t, "A\nC", first.Content)
	assert.Equal(t, []int{1, 2}, first.Pages)
	assert.Equal(t, model.AnswerLong, first.AnswerType)

	second := result.Answers[1]
	assert.Equal(t, "2", second.AnswerNumber)
	// Missing type and confidence fall back to the defaults.
	assert.Equal(t, model.AnswerUnknown, second.AnswerType)
	assert.Equal(t, model.ConfidenceMedium, second.Confidence)

	require.Len(t, result.ExtractionStats, 3)
	assert.Equal(t, 1, result.ExtractionStats[0].Page)
	assert.Equal(t, 3, result.ExtractionStats[2].Page)
}

func TestProcessDocumentIsolatesPageFailures(t *testing.T) {
	fake := &fakeVision{
		replies: map[string]string{
			"p1": pageReply("page one", ``),
			"p3": pageReply("page three", `{"answer_number": 3, "content": "Z"}`),
		},
		errs: map[string]error{"p2": errors.New("request timed out")},
	}

	p := New(fake)
	src := source.BytesSource{DocName: "doc", Images: [][]byte{[]byte("p1"), []byte("p2"), []byte("p3")}}

	result, err := p.ProcessDocument(context.Background(), src)
	require.NoError(t, err)

	// The failed page degrades to an error header; the others survive.
	assert.Equal(t, 3, result.PagesProcessed)
	assert.Contains(t, result.RawText, "=== PAGE 2 === [Error:")
	assert.Contains(t, result.RawText, "request timed out")
	assert.Contains(t, result.RawText, "page three")
	require.Equal(t, 1, result.TotalAnswers)
	assert.Equal(t, "3", result.Answers[0].AnswerNumber)
}

func TestProcessDocumentGarbledPageDegrades(t *testing.T) {
	fake := &fakeVision{
		replies: map[string]string{
			"p1": "the model rambled instead of returning JSON",
			"p2": pageReply("fine", ``),
		},
	}

	p := New(fake)
	src := source.BytesSource{DocName: "doc", Images: [][]byte{[]byte("p1"), []byte("p2")}}

	result, err := p.ProcessDocument(context.Background(), src)
	require.NoError(t, err)

	// A parse fallback keeps the raw model output as the page text.
	assert.Contains(t, result.RawText, "=== PAGE 1 ===\nthe model rambled")
	assert.Zero(t, result.TotalAnswers)
}

func TestProcessDocumentSingleImageHasNoPageHeaders(t *testing.T) {
	fake := &fakeVision{
		replies: map[string]string{
			"img": `{"raw_text": "whole sheet", "answers": [{"answer_number": "1", "content": "A"}]}`,
		},
	}

	p := New(fake)
	src := source.BytesSource{DocName: "scan.png", Images: [][]byte{[]byte("img")}}

	result, err := p.ProcessDocument(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "whole sheet", result.RawText)
	assert.False(t, strings.Contains(result.RawText, "=== PAGE"))
	require.Equal(t, 1, result.TotalAnswers)
	assert.Equal(t, []int{1}, result.Answers[0].Pages)
}

func TestProcessDocumentSingleImageFailureKeepsErrorHeader(t *testing.T) {
	fake := &fakeVision{
		errs: map[string]error{"img": errors.New("request timed out")},
	}

	p := New(fake)
	src := source.BytesSource{DocName: "scan.png", Images: [][]byte{[]byte("img")}}

	result, err := p.ProcessDocument(context.Background(), src)
	require.NoError(t, err)

	// The error header marks failures even when a success would carry no
	// header; it is what separates an error from transcribed text.
	assert.Equal(t, "=== PAGE 1 === [Error: request timed out]", result.RawText)
	assert.Zero(t, result.TotalAnswers)
}

func TestProcessBatchIsolatesDocumentFailures(t *testing.T) {
	fake := &fakeVision{
		replies: map[string]string{
			"ok": `{"raw_text": "fine", "answers": [{"answer_number": "1", "content": "A"}]}`,
		},
	}

	p := New(fake, WithDocumentConcurrency(2))
	sources := []source.Source{
		source.BytesSource{DocName: "good.png", Images: [][]byte{[]byte("ok")}},
		source.BytesSource{DocName: "empty.png"}, // no pages, fails outright
	}

	batch := p.ProcessBatch(context.Background(), sources)

	require.Len(t, batch.Files, 2)
	assert.True(t, batch.Files[0].Success)
	assert.False(t, batch.Files[1].Success)
	assert.Equal(t, "empty.png", batch.Files[1].Filename)
	assert.NotEmpty(t, batch.Files[1].Error)
	assert.Equal(t, 2, batch.TotalFiles)
	assert.Equal(t, 1, batch.TotalPages)
	assert.Equal(t, 1, batch.TotalAnswers)
}
