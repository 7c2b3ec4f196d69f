// Package prompts holds the prompt text sent to the inference service for
// page extraction, identity detection, answer-key parsing, and grading.
package prompts

import (
	"fmt"
	"strings"
)

// ExtractionSystem primes the model as an OCR transcriber.
const ExtractionSystem = `You are an expert OCR system specialized in reading and extracting text from documents.

Your role is to:
- Accurately read and transcribe ALL visible text from images
- Extract every word, number, and symbol visible
- Handle various handwriting styles and fonts
- Be thorough - missing text is worse than unclear text

CRITICAL RULES:
- Extract EVERYTHING visible
- If text is unclear, write [unclear: best guess]
- Never skip any text
- Maintain original structure`

// GradingSystem primes the model as a semantic grader.
const GradingSystem = `You are an expert academic evaluator specialized in grading student answers.

Your role is to:
- Extract student information (name, roll number) from documents
- Compare student answers against answer keys semantically
- Grade based on understanding and meaning, NOT word-for-word matching
- Be fair and consistent in scoring
- Provide brief feedback for each answer

CRITICAL RULES:
- Focus on semantic correctness - the meaning matters, not exact wording
- Partial marks are allowed based on understanding demonstrated
- Be lenient with minor spelling/grammar if concept is correct
- Award full marks if the core concept is correctly explained`

// Page asks for a full transcription of one page of a multi-page document.
const Page = `Extract ALL text from this page image.

Return in JSON format:
{
    "page_content": {
        "raw_text": "Complete transcription of ALL visible text...",
        "answers": [
            {
                "answer_number": 1,
                "content": "The answer content...",
                "answer_type": "long_answer/short_answer/mcq",
                "confidence": "high/medium/low"
            }
        ],
        "extraction_stats": {
            "words_extracted": 0,
            "text_quality": "clear/partially_clear/difficult"
        }
    }
}

Extract now:`

// Image asks for a full transcription of a standalone image document.
const Image = `Extract ALL text from this image.

Return in JSON format:
{
    "raw_text": "Complete transcription of ALL visible text...",
    "answers": [
        {
            "answer_number": 1,
            "answer_type": "long_answer/short_answer/mcq",
            "content": "The answer content...",
            "confidence": "high/medium/low"
        }
    ],
    "extraction_stats": {
        "words_extracted": 0,
        "text_quality": "clear/partially_clear/difficult"
    }
}

Extract now:`

// StudentInfo asks the model to identify the writer from a first page.
const StudentInfo = `Extract student information from this document image.

Look for:
- Student Name (may be handwritten or typed)
- Roll Number / Student ID / Registration Number
- Any other identifying information

Return in JSON format:
{
    "student_name": "Name or 'Unknown' if not found",
    "roll_number": "Roll number or 'Unknown' if not found",
    "confidence": "high/medium/low"
}

Extract now:`

// BuildParseAnswerKey asks the model to structure a raw answer key text and
// classify the assessment as quiz or assignment.
func BuildParseAnswerKey(content string) string {
	var sb strings.Builder
	sb.WriteString("Parse this answer key document and extract all correct answers.\n\n")
	sb.WriteString("DOCUMENT CONTENT:\n")
	sb.WriteString(content)
	sb.WriteString("\n\nExtract all questions and their correct answers. Identify the type of assessment:\n")
	sb.WriteString("- If mostly MCQ/True-False/Fill-blanks = \"quiz\"\n")
	sb.WriteString("- If mostly long/descriptive answers = \"assignment\"\n\n")
	sb.WriteString("Return in JSON format:\n")
	sb.WriteString(`{
    "assessment_type": "quiz/assignment",
    "total_marks": 0,
    "questions": [
        {
            "question_number": 1,
            "question_text": "The question text...",
            "correct_answer": "The correct answer...",
            "marks": 2,
            "question_type": "mcq/true_false/fill_blank/short_answer/long_answer",
            "options": ["A", "B", "C", "D"]
        }
    ]
}`)
	sb.WriteString("\n\nParse now:")
	return sb.String()
}

// BuildQuizGrading asks for near-binary grading of objective items.
// answerKey and studentAnswers are pre-serialized JSON.
func BuildQuizGrading(answerKey, studentAnswers string) string {
	var sb strings.Builder
	sb.WriteString("Grade the following quiz answers against the answer key.\n\n")
	sb.WriteString("ANSWER KEY (Correct Answers):\n")
	sb.WriteString(answerKey)
	sb.WriteString("\n\nSTUDENT ANSWERS:\n")
	sb.WriteString(studentAnswers)
	sb.WriteString("\n\nGRADING INSTRUCTIONS:\n")
	sb.WriteString("1. For MCQ - check if selected option matches correct answer\n")
	sb.WriteString("2. For True/False - check if answer matches\n")
	sb.WriteString("3. For Fill in Blanks - check semantic correctness (synonyms are acceptable)\n")
	sb.WriteString("4. Award full marks for correct, 0 for incorrect\n\n")
	sb.WriteString("Return in JSON format:\n")
	sb.WriteString(`{
    "evaluations": [
        {
            "question_number": 1,
            "question_type": "mcq/true_false/fill_blank",
            "max_marks": 1,
            "obtained_marks": 1,
            "correct_answer": "B",
            "student_answer": "B",
            "is_correct": true
        }
    ],
    "total_obtained": 0,
    "total_max": 0
}`)
	sb.WriteString("\n\nGrade now:")
	return sb.String()
}

// BuildAssignmentGrading asks for semantic grading with partial credit.
// answerKey and studentAnswers are pre-serialized JSON.
func BuildAssignmentGrading(answerKey, studentAnswers string, totalQuestions int) string {
	var sb strings.Builder
	sb.WriteString("Grade the following student answers against the answer key.\n\n")
	sb.WriteString("ANSWER KEY (Correct Answers):\n")
	sb.WriteString(answerKey)
	sb.WriteString("\n\nSTUDENT ANSWERS:\n")
	sb.WriteString(studentAnswers)
	sb.WriteString(fmt.Sprintf("\n\nTOTAL QUESTIONS: %d\n", totalQuestions))
	sb.WriteString("MARKS PER QUESTION: Use the marks specified in the answer key for each question.\n\n")
	sb.WriteString("GRADING INSTRUCTIONS:\n")
	sb.WriteString("1. Compare each student answer with the corresponding answer key SEMANTICALLY\n")
	sb.WriteString("2. Award marks based on understanding, not exact word matching\n")
	sb.WriteString("3. If a student explains the concept correctly in their own words, award full marks\n")
	sb.WriteString("4. Award partial marks if the answer is partially correct\n")
	sb.WriteString("5. Award 0 marks if the answer is completely wrong or missing\n\n")
	sb.WriteString("Return in JSON format:\n")
	sb.WriteString(`{
    "evaluations": [
        {
            "question_number": 1,
            "max_marks": 10,
            "obtained_marks": 8,
            "feedback": "Brief feedback about the answer"
        }
    ],
    "total_obtained": 0,
    "total_max": 0,
    "overall_feedback": "General comment about performance"
}`)
	sb.WriteString("\n\nGrade now:")
	return sb.String()
}
