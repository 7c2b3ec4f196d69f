package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studykit/papergrader/internal/extract"
	"github.com/studykit/papergrader/internal/grade"
	"github.com/studykit/papergrader/internal/llm/prompts"
	"github.com/studykit/papergrader/internal/model"
	"github.com/studykit/papergrader/internal/store"
)

type fakeInferencer struct {
	pages      map[string]string
	keyReply   string
	gradeReply string
	infoReply  string
}

func (f *fakeInferencer) ExtractFromImage(_ context.Context, image []byte, prompt, _ string) (string, error) {
	if prompt == prompts.StudentInfo {
		return f.infoReply, nil
	}
	if reply, ok := f.pages[string(image)]; ok {
		return reply, nil
	}
	return "", fmt.Errorf("unexpected image %q", string(image))
}

func (f *fakeInferencer) Complete(_ context.Context, prompt, _ string) (string, error) {
	if strings.Contains(prompt, "Parse this answer key") {
		return f.keyReply, nil
	}
	return f.gradeReply, nil
}

func newTestServer(t *testing.T, fake *fakeInferencer) *httptest.Server {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := New(extract.New(fake), grade.New(fake), st)
	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// multipartBody builds an upload where each field holds one page image.
func multipartBody(t *testing.T, fields map[string][][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, pages := range fields {
		for i, data := range pages {
			part, err := w.CreateFormFile(field, fmt.Sprintf("%s_%d.png", field, i+1))
			require.NoError(t, err)
			_, err = part.Write(data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postMultipart(t *testing.T, url string, fields map[string][][]byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, fields)
	resp, err := http.Post(url, contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleExtract(t *testing.T) {
	fake := &fakeInferencer{
		pages: map[string]string{
			"p1": `{"page_content": {"raw_text": "first page", "answers": [{"answer_number": 1, "content": "A"}]}}`,
			"p2": `{"page_content": {"raw_text": "second page", "answers": []}}`,
		},
	}
	srv := newTestServer(t, fake)

	resp := postMultipart(t, srv.URL+"/api/extract", map[string][][]byte{
		"pages": {[]byte("p1"), []byte("p2")},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.ExtractionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Contains(t, result.RawText, "=== PAGE 1 ===\nfirst page")
	assert.Contains(t, result.RawText, "=== PAGE 2 ===\nsecond page")
	require.Len(t, result.Answers, 1)
	assert.Equal(t, "A", result.Answers[0].Content)
}

func TestHandleExtractNoPages(t *testing.T) {
	srv := newTestServer(t, &fakeInferencer{})

	resp := postMultipart(t, srv.URL+"/api/extract", map[string][][]byte{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGradeAndRunLifecycle(t *testing.T) {
	fake := &fakeInferencer{
		pages: map[string]string{
			"key": `{"raw_text": "Q1: Pick one. Answer: B (1 mark)"}`,
			"s1":  `{"raw_text": "1. B", "answers": [{"answer_number": 1, "content": "B"}]}`,
		},
		keyReply: `{"assessment_type": "quiz", "total_marks": 1,
			"questions": [{"question_number": 1, "correct_answer": "B", "marks": 1, "question_type": "mcq"}]}`,
		infoReply: `{"student_name": "Ali", "roll_number": "101"}`,
		gradeReply: `{"evaluations": [{"question_number": 1, "max_marks": 1, "obtained_marks": 1, "is_correct": true}],
			"total_obtained": 1, "total_max": 1}`,
	}
	srv := newTestServer(t, fake)

	resp := postMultipart(t, srv.URL+"/api/grade", map[string][][]byte{
		"answer_key": {[]byte("key")},
		"papers":     {[]byte("s1")},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var graded struct {
		Success bool                `json:"success"`
		RunID   string              `json:"run_id"`
		Report  model.GradingReport `json:"report"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graded))
	assert.True(t, graded.Success)
	require.NotEmpty(t, graded.RunID)
	assert.Equal(t, 1, graded.Report.Successful)
	assert.Equal(t, "Ali", graded.Report.Results[0].StudentName)

	// The run is persisted and listable.
	listResp, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var runs []store.Run
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, graded.RunID, runs[0].ID)

	getResp, err := http.Get(srv.URL + "/api/runs/" + graded.RunID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	exportResp, err := http.Get(srv.URL + "/api/runs/" + graded.RunID + "/export")
	require.NoError(t, err)
	defer exportResp.Body.Close()
	require.Equal(t, http.StatusOK, exportResp.StatusCode)
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		exportResp.Header.Get("Content-Type"))
	data, err := io.ReadAll(exportResp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestHandleGradeKeyFailure(t *testing.T) {
	fake := &fakeInferencer{
		pages:    map[string]string{"key": `{"raw_text": "some key"}`},
		keyReply: "this is not json at all",
	}
	srv := newTestServer(t, fake)

	resp := postMultipart(t, srv.URL+"/api/grade", map[string][][]byte{
		"answer_key": {[]byte("key")},
		"papers":     {[]byte("s1")},
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "answer key")
}

func TestHandleGradeNoPapers(t *testing.T) {
	srv := newTestServer(t, &fakeInferencer{})

	resp := postMultipart(t, srv.URL+"/api/grade", map[string][][]byte{
		"answer_key": {[]byte("key")},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNilStoreDisablesPersistence(t *testing.T) {
	fake := &fakeInferencer{
		pages: map[string]string{
			"key": `{"raw_text": "Q1: Pick one. Answer: B (1 mark)"}`,
			"s1":  `{"raw_text": "1. B", "answers": [{"answer_number": 1, "content": "B"}]}`,
		},
		keyReply: `{"assessment_type": "quiz", "total_marks": 1,
			"questions": [{"question_number": 1, "correct_answer": "B", "marks": 1, "question_type": "mcq"}]}`,
		infoReply: `{"student_name": "Ali", "roll_number": "101"}`,
		gradeReply: `{"evaluations": [{"question_number": 1, "max_marks": 1, "obtained_marks": 1, "is_correct": true}],
			"total_obtained": 1, "total_max": 1}`,
	}

	h := New(extract.New(fake), grade.New(fake), nil)
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	// Grading still works; the run just is not persisted.
	resp := postMultipart(t, srv.URL+"/api/grade", map[string][][]byte{
		"answer_key": {[]byte("key")},
		"papers":     {[]byte("s1")},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var graded struct {
		Success bool   `json:"success"`
		RunID   string `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graded))
	assert.True(t, graded.Success)
	assert.Empty(t, graded.RunID)

	// The run endpoints all report the missing store the same way.
	for _, path := range []string{"/api/runs", "/api/runs/some-id", "/api/runs/some-id/export"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeInferencer{})

	resp, err := http.Get(srv.URL + "/api/runs/no-such-run")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
