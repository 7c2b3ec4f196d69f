// Package grade checks many student submissions against one answer key.
// The key is parsed once up front; students are then processed in parallel
// with per-student failure isolation, and the results are compiled into a
// single report in submission order.
package grade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/studykit/papergrader/internal/dispatch"
	"github.com/studykit/papergrader/internal/extract"
	"github.com/studykit/papergrader/internal/llm"
	"github.com/studykit/papergrader/internal/llm/prompts"
	"github.com/studykit/papergrader/internal/model"
	"github.com/studykit/papergrader/internal/source"
)

// Inferencer is the slice of the inference client grading needs.
type Inferencer interface {
	extract.Inferencer
	Complete(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// KeyError means the answer key could not be processed. It is the only
// error class that aborts a whole grading run: without a key there is
// nothing to grade against.
type KeyError struct {
	Err error
}

func (e *KeyError) Error() string { return fmt.Sprintf("answer key: %v", e.Err) }

func (e *KeyError) Unwrap() error { return e.Err }

// Grader orchestrates a grading run.
type Grader struct {
	client       Inferencer
	processor    *extract.Processor
	studentLimit int
	progress     func(res model.StudentResult)
	logger       *slog.Logger
}

// Option configures a Grader.
type Option func(*Grader)

// WithStudentConcurrency caps concurrent student submissions.
func WithStudentConcurrency(n int) Option {
	return func(g *Grader) {
		if n > 0 {
			g.studentLimit = n
		}
	}
}

// WithProcessor overrides the extraction processor, e.g. to tune the
// page-level concurrency ceiling independently of the student ceiling.
func WithProcessor(p *extract.Processor) Option {
	return func(g *Grader) {
		g.processor = p
	}
}

// WithProgress registers a callback invoked once per completed student.
// It runs on worker goroutines, so it must be safe for concurrent use.
func WithProgress(fn func(res model.StudentResult)) Option {
	return func(g *Grader) {
		g.progress = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Grader) {
		g.logger = logger
	}
}

// New creates a Grader with the default ceilings.
func New(client Inferencer, opts ...Option) *Grader {
	g := &Grader{
		client:       client,
		studentLimit: model.DefaultPipelineConfig().StudentConcurrency,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.processor == nil {
		g.processor = extract.New(client)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// ParseAnswerKey extracts the key document's text and asks the model to
// structure it into questions with marks and an assessment type. Any
// failure here is wrapped in *KeyError.
func (g *Grader) ParseAnswerKey(ctx context.Context, keySrc source.Source) (model.AnswerKey, error) {
	extraction, err := g.processor.ProcessDocument(ctx, keySrc)
	if err != nil {
		return model.AnswerKey{}, &KeyError{Err: err}
	}
	if extraction.RawText == "" {
		return model.AnswerKey{}, &KeyError{Err: fmt.Errorf("could not extract text from %s", keySrc.Name())}
	}

	reply, err := g.client.Complete(ctx, prompts.BuildParseAnswerKey(extraction.RawText), prompts.GradingSystem)
	if err != nil {
		return model.AnswerKey{}, &KeyError{Err: err}
	}

	var key model.AnswerKey
	if err := llm.DecodeJSON(reply, &key); err != nil {
		return model.AnswerKey{}, &KeyError{Err: err}
	}

	// Anything that is not a quiz is graded as an assignment.
	if key.AssessmentType != model.AssessmentQuiz {
		key.AssessmentType = model.AssessmentAssignment
	}

	g.logger.Info("parsed answer key",
		"name", keySrc.Name(),
		"questions", len(key.Questions),
		"total_marks", key.TotalMarks,
		"assessment_type", key.AssessmentType,
	)
	return key, nil
}

// Run grades every submission against the key document and compiles the
// report. A key failure aborts the run; a single student's failure becomes
// a Success=false entry and leaves the other students untouched. Report
// entries follow submission order regardless of completion order.
func (g *Grader) Run(ctx context.Context, keySrc source.Source, submissions []source.Source) (model.GradingReport, error) {
	key, err := g.ParseAnswerKey(ctx, keySrc)
	if err != nil {
		return model.GradingReport{}, err
	}
	return g.RunWithKey(ctx, key, submissions), nil
}

// RunWithKey grades submissions against an already-parsed key.
func (g *Grader) RunWithKey(ctx context.Context, key model.AnswerKey, submissions []source.Source) model.GradingReport {
	g.logger.Info("grading submissions", "students", len(submissions), "concurrency", g.studentLimit)

	results := dispatch.Map(ctx, submissions, g.studentLimit,
		func(ctx context.Context, _ int, sub source.Source) (model.StudentResult, error) {
			res, err := g.gradeStudent(ctx, key, sub)
			if err != nil {
				g.logger.Warn("student processing failed", "name", sub.Name(), "error", err)
				res = model.StudentResult{
					Filename:    sub.Name(),
					StudentName: model.Unknown,
					RollNumber:  model.Unknown,
					Success:     false,
					Error:       err.Error(),
				}
			}
			if g.progress != nil {
				g.progress(res)
			}
			return res, nil
		})

	report := model.GradingReport{
		AssessmentType: key.AssessmentType,
		TotalStudents:  len(submissions),
		AnswerKeyInfo: model.AnswerKeyInfo{
			TotalQuestions: len(key.Questions),
			TotalMarks:     key.TotalMarks,
		},
		Results: make([]model.StudentResult, len(submissions)),
	}

	for i, res := range results {
		report.Results[i] = res.Value
		if res.Value.Success {
			report.Successful++
		} else {
			report.Failed++
		}
	}

	g.logger.Info("grading run complete",
		"students", report.TotalStudents,
		"successful", report.Successful,
		"failed", report.Failed,
	)
	return report
}

// gradeStudent processes one submission end to end: identity, extraction,
// grading. Identity failures degrade to the Unknown sentinel; everything
// else surfaces as an error for the caller to capture at the student
// boundary.
func (g *Grader) gradeStudent(ctx context.Context, key model.AnswerKey, sub source.Source) (model.StudentResult, error) {
	pages, err := sub.Pages(ctx)
	if err != nil {
		return model.StudentResult{}, fmt.Errorf("load pages: %w", err)
	}
	if len(pages) == 0 {
		return model.StudentResult{}, fmt.Errorf("submission %s has no pages", sub.Name())
	}

	info := g.extractStudentInfo(ctx, pages[0].Data)

	extraction, err := g.processor.ProcessDocument(ctx, sub)
	if err != nil {
		return model.StudentResult{}, fmt.Errorf("extract answers: %w", err)
	}

	outcome, err := g.gradeAnswers(ctx, key, extraction.Answers)
	if err != nil {
		return model.StudentResult{}, fmt.Errorf("grade answers: %w", err)
	}

	return model.StudentResult{
		Filename:         sub.Name(),
		StudentName:      info.StudentName,
		RollNumber:       info.RollNumber,
		AnswersExtracted: len(extraction.Answers),
		Evaluations:      alignEvaluations(key.Questions, outcome.Evaluations),
		TotalObtained:    outcome.TotalObtained,
		TotalMax:         outcome.TotalMax,
		OverallFeedback:  outcome.OverallFeedback,
		Success:          true,
	}, nil
}

// extractStudentInfo identifies the writer from the first page. Handwritten
// names are expected; absence or any failure resolves to the Unknown
// sentinel rather than failing the student.
func (g *Grader) extractStudentInfo(ctx context.Context, firstPage []byte) model.StudentInfo {
	unknown := model.StudentInfo{StudentName: model.Unknown, RollNumber: model.Unknown}

	reply, err := g.client.ExtractFromImage(ctx, firstPage, prompts.StudentInfo, prompts.GradingSystem)
	if err != nil {
		g.logger.Warn("student info extraction failed", "error", err)
		return unknown
	}

	var info model.StudentInfo
	if err := llm.DecodeJSON(reply, &info); err != nil {
		g.logger.Warn("student info reply not parseable", "error", err)
		return unknown
	}

	if info.StudentName == "" {
		info.StudentName = model.Unknown
	}
	if info.RollNumber == "" {
		info.RollNumber = model.Unknown
	}
	return info
}

// gradeAnswers issues one semantic-comparison call for the whole
// submission, with the quiz or assignment prompt depending on the key.
// Obtained marks are taken from the reply as-is, without clamping to the
// per-question maximum.
func (g *Grader) gradeAnswers(ctx context.Context, key model.AnswerKey, answers []model.ConsolidatedAnswer) (model.GradingOutcome, error) {
	keyJSON, err := json.MarshalIndent(key.Questions, "", "  ")
	if err != nil {
		return model.GradingOutcome{}, fmt.Errorf("marshal answer key: %w", err)
	}
	answersJSON, err := json.MarshalIndent(answers, "", "  ")
	if err != nil {
		return model.GradingOutcome{}, fmt.Errorf("marshal student answers: %w", err)
	}

	var prompt string
	if key.AssessmentType == model.AssessmentQuiz {
		prompt = prompts.BuildQuizGrading(string(keyJSON), string(answersJSON))
	} else {
		prompt = prompts.BuildAssignmentGrading(string(keyJSON), string(answersJSON), len(key.Questions))
	}

	reply, err := g.client.Complete(ctx, prompt, prompts.GradingSystem)
	if err != nil {
		return model.GradingOutcome{}, err
	}

	var outcome model.GradingOutcome
	if err := llm.DecodeJSON(reply, &outcome); err != nil {
		return model.GradingOutcome{}, err
	}
	return outcome, nil
}

// alignEvaluations reorders the grader's evaluations to match the answer
// key's question order, so a tabular exporter can line columns up across
// students. Evaluations that match no key question keep their relative
// order at the tail.
func alignEvaluations(questions []model.AnswerKeyQuestion, evals []model.Evaluation) []model.Evaluation {
	if len(evals) == 0 {
		return evals
	}

	used := make([]bool, len(evals))
	aligned := make([]model.Evaluation, 0, len(evals))

	for _, q := range questions {
		for i, e := range evals {
			if !used[i] && e.QuestionNumber == q.QuestionNumber {
				aligned = append(aligned, e)
				used[i] = true
				break
			}
		}
	}
	for i, e := range evals {
		if !used[i] {
			aligned = append(aligned, e)
		}
	}
	return aligned
}
