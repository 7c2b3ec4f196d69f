package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/studykit/papergrader/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport() model.GradingReport {
	correct := true
	return model.GradingReport{
		AssessmentType: model.AssessmentQuiz,
		TotalStudents:  2,
		Successful:     1,
		Failed:         1,
		AnswerKeyInfo:  model.AnswerKeyInfo{TotalQuestions: 1, TotalMarks: 1},
		Results: []model.StudentResult{
			{
				Filename:    "ali.png",
				StudentName: "Ali",
				RollNumber:  "2021-CS-101",
				Evaluations: []model.Evaluation{
					{QuestionNumber: 1, MaxMarks: 1, ObtainedMarks: 1, IsCorrect: &correct},
				},
				TotalObtained: 1,
				TotalMax:      1,
				Success:       true,
			},
			{
				Filename:    "blank.png",
				StudentName: model.Unknown,
				RollNumber:  model.Unknown,
				Success:     false,
				Error:       "no pages found",
			},
		},
	}
}

func TestSaveAndGetReport(t *testing.T) {
	s := newTestStore(t)

	id, err := s.SaveReport(sampleReport())
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty run ID")
	}

	got, err := s.GetReport(id)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.AssessmentType != model.AssessmentQuiz {
		t.Errorf("assessment type = %q, want %q", got.AssessmentType, model.AssessmentQuiz)
	}
	if got.Successful != 1 || got.Failed != 1 {
		t.Errorf("counts = %d/%d, want 1/1", got.Successful, got.Failed)
	}
	if len(got.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(got.Results))
	}
	if got.Results[0].StudentName != "Ali" {
		t.Errorf("student name = %q, want Ali", got.Results[0].StudentName)
	}
	if got.Results[0].Evaluations[0].IsCorrect == nil || !*got.Results[0].Evaluations[0].IsCorrect {
		t.Error("is_correct should survive the round trip as true")
	}
	if got.Results[1].StudentName != model.Unknown {
		t.Errorf("failed student name = %q, want %q", got.Results[1].StudentName, model.Unknown)
	}
}

func TestGetReportNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetReport("no-such-run"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)

	first, err := s.SaveReport(sampleReport())
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	second, err := s.SaveReport(sampleReport())
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}

	ids := map[string]bool{runs[0].ID: true, runs[1].ID: true}
	if !ids[first] || !ids[second] {
		t.Errorf("listed IDs %v missing a saved run", ids)
	}
	for _, r := range runs {
		if r.TotalStudents != 2 {
			t.Errorf("run %s total students = %d, want 2", r.ID, r.TotalStudents)
		}
		if r.CreatedAt.IsZero() {
			t.Errorf("run %s has zero created_at", r.ID)
		}
	}
}

func TestDeleteRun(t *testing.T) {
	s := newTestStore(t)

	id, err := s.SaveReport(sampleReport())
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	if err := s.DeleteRun(id); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetReport(id); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("deleted run should be gone, got %v", err)
	}
	if err := s.DeleteRun(id); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("second delete should report sql.ErrNoRows, got %v", err)
	}
}

func TestRunCount(t *testing.T) {
	s := newTestStore(t)

	count, err := s.RunCount()
	if err != nil {
		t.Fatalf("RunCount: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}

	if _, err := s.SaveReport(sampleReport()); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	count, err = s.RunCount()
	if err != nil {
		t.Fatalf("RunCount: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
