package model

// AnswerType classifies how an answer was written on the page.
type AnswerType string

const (
	AnswerLong    AnswerType = "long_answer"
	AnswerShort   AnswerType = "short_answer"
	AnswerMCQ     AnswerType = "mcq"
	AnswerUnknown AnswerType = "unknown"
)

// Confidence is the model's self-reported confidence in a transcription.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// AssessmentType classifies an answer key as a quiz (objective items,
// graded near-binary) or an assignment (free text, partial credit).
type AssessmentType string

const (
	AssessmentQuiz       AssessmentType = "quiz"
	AssessmentAssignment AssessmentType = "assignment"
)

// Unknown is the sentinel for identity fields that could not be resolved.
// It is always a value, never an absent field.
const Unknown = "Unknown"

// AnswerFragment is one page's partial contribution to a logical answer.
// Fragments sharing an AnswerNumber across pages belong to the same answer.
type AnswerFragment struct {
	AnswerNumber string     `json:"answer_number"`
	Content      string     `json:"content"`
	AnswerType   AnswerType `json:"answer_type"`
	Confidence   Confidence `json:"confidence"`
	SourcePage   int        `json:"source_page"`
}

// ConsolidatedAnswer is a multi-page answer assembled from fragments.
// Content holds the fragments' content in arrival order, joined by newlines.
// Pages lists every contributing source page in arrival order.
type ConsolidatedAnswer struct {
	AnswerNumber string     `json:"answer_number"`
	Content      string     `json:"content"`
	AnswerType   AnswerType `json:"answer_type"`
	Confidence   Confidence `json:"confidence"`
	Pages        []int      `json:"pages"`
}

// ExtractionStat carries the model's per-page extraction quality report.
type ExtractionStat struct {
	Page           int    `json:"page"`
	WordsExtracted int    `json:"words_extracted,omitempty"`
	TextQuality    string `json:"text_quality,omitempty"`
}

// ExtractionResult is the per-document aggregate of a full extraction run.
type ExtractionResult struct {
	Filename        string               `json:"filename,omitempty"`
	PagesProcessed  int                  `json:"pages_processed"`
	RawText         string               `json:"raw_text"`
	Answers         []ConsolidatedAnswer `json:"answers"`
	TotalAnswers    int                  `json:"total_answers"`
	ExtractionStats []ExtractionStat     `json:"extraction_stats,omitempty"`
	Success         bool                 `json:"success"`
	Error           string               `json:"error,omitempty"`
}

// BatchExtractionResult aggregates extraction across several documents.
type BatchExtractionResult struct {
	Files        []ExtractionResult `json:"files_data"`
	TotalFiles   int                `json:"total_files"`
	TotalPages   int                `json:"total_pages"`
	TotalAnswers int                `json:"total_answers"`
}

// AnswerKeyQuestion is one structured question from a parsed answer key.
type AnswerKeyQuestion struct {
	QuestionNumber int      `json:"question_number"`
	QuestionText   string   `json:"question_text"`
	CorrectAnswer  string   `json:"correct_answer"`
	Marks          float64  `json:"marks"`
	QuestionType   string   `json:"question_type"`
	Options        []string `json:"options,omitempty"`
}

// AnswerKey is the structured form of a parsed answer key document.
type AnswerKey struct {
	AssessmentType AssessmentType      `json:"assessment_type"`
	TotalMarks     float64             `json:"total_marks"`
	Questions      []AnswerKeyQuestion `json:"questions"`
}

// AnswerKeyInfo is the key metadata echoed into a grading report.
type AnswerKeyInfo struct {
	TotalQuestions int     `json:"total_questions"`
	TotalMarks     float64 `json:"total_marks"`
}

// StudentInfo is the identity extracted from the first page of a paper.
type StudentInfo struct {
	StudentName string     `json:"student_name"`
	RollNumber  string     `json:"roll_number"`
	Confidence  Confidence `json:"confidence,omitempty"`
}

// Evaluation is the graded outcome for a single question.
// ObtainedMarks is taken from the grader as-is: values above MaxMarks are
// passed through rather than clamped.
type Evaluation struct {
	QuestionNumber int     `json:"question_number"`
	QuestionType   string  `json:"question_type,omitempty"`
	MaxMarks       float64 `json:"max_marks"`
	ObtainedMarks  float64 `json:"obtained_marks"`
	Feedback       string  `json:"feedback,omitempty"`
	IsCorrect      *bool   `json:"is_correct,omitempty"`
	CorrectAnswer  string  `json:"correct_answer,omitempty"`
	StudentAnswer  string  `json:"student_answer,omitempty"`
}

// GradingOutcome is the grader's full response for one student.
type GradingOutcome struct {
	Evaluations     []Evaluation `json:"evaluations"`
	TotalObtained   float64      `json:"total_obtained"`
	TotalMax        float64      `json:"total_max"`
	OverallFeedback string       `json:"overall_feedback,omitempty"`
}

// StudentResult holds one student's graded submission.
// On failure Success is false, Error describes the cause, and identity
// fields fall back to the Unknown sentinel.
type StudentResult struct {
	Filename         string       `json:"filename"`
	StudentName      string       `json:"student_name"`
	RollNumber       string       `json:"roll_number"`
	AnswersExtracted int          `json:"answers_extracted"`
	Evaluations      []Evaluation `json:"evaluations,omitempty"`
	TotalObtained    float64      `json:"total_obtained"`
	TotalMax         float64      `json:"total_max"`
	OverallFeedback  string       `json:"overall_feedback,omitempty"`
	Success          bool         `json:"success"`
	Error            string       `json:"error,omitempty"`
}

// GradingReport is the aggregate outcome of one grading run.
// Results preserve submission order regardless of completion order.
type GradingReport struct {
	AssessmentType AssessmentType  `json:"assessment_type"`
	TotalStudents  int             `json:"total_students"`
	Successful     int             `json:"successful"`
	Failed         int             `json:"failed"`
	AnswerKeyInfo  AnswerKeyInfo   `json:"answer_key_info"`
	Results        []StudentResult `json:"results"`
}

// PipelineConfig holds the runtime knobs consumed by the extraction and
// grading pipelines. Page and student ceilings are independent.
type PipelineConfig struct {
	PageConcurrency    int // concurrent vision calls per document
	StudentConcurrency int // concurrent student submissions per run
}

// DefaultPipelineConfig returns the stock concurrency ceilings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PageConcurrency:    5,
		StudentConcurrency: 3,
	}
}
