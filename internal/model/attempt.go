package model

import "time"

// QuestionType distinguishes single-choice from free-text questions.
type QuestionType string

const (
	QuestionMCQ        QuestionType = "MCQ"
	QuestionSubjective QuestionType = "SUBJECTIVE"
)

// AttemptStatus is the server-side lifecycle of one attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptCompleted  AttemptStatus = "COMPLETED"
	AttemptTimedOut   AttemptStatus = "TIMED_OUT"
)

// QuestionOption is one selectable answer. Correctness flags are never
// present on options delivered to an in-progress attempt.
type QuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AttemptQuestion is one question as delivered by the start endpoint.
type AttemptQuestion struct {
	ID      string           `json:"id"`
	Text    string           `json:"text"`
	Type    QuestionType     `json:"type"`
	Marks   int              `json:"marks"`
	Options []QuestionOption `json:"options,omitempty"`
}

// Attempt identifies one in-progress sitting as returned by the server.
type Attempt struct {
	ID        string          `json:"id"`
	QuizID    string          `json:"quiz"`
	Status    AttemptStatus   `json:"status"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
	Responses []AttemptAnswer `json:"responses,omitempty"`
}

// AttemptAnswer is one recorded response. Exactly one of SelectedOptionID
// and TextAnswer is set, depending on the question type.
type AttemptAnswer struct {
	QuestionID       string `json:"questionId" validate:"required"`
	SelectedOptionID string `json:"selectedOptionId,omitempty"`
	TextAnswer       string `json:"textAnswer,omitempty"`
}

// StartAttemptResponse is the body of POST /exam/quizzes/{id}/start.
// DurationMinutes echoes the quiz setting so the client can derive the
// deadline as startTime + duration.
type StartAttemptResponse struct {
	Attempt         Attempt           `json:"attempt"`
	Questions       []AttemptQuestion `json:"questions"`
	QuizTitle       string            `json:"quizTitle"`
	DurationMinutes int               `json:"durationMinutes"`
}

// SubmitAttemptRequest is the body of POST /exam/attempts/{id}/submit.
type SubmitAttemptRequest struct {
	Responses []AttemptAnswer `json:"responses" validate:"required,dive"`
}

// SubmitAttemptResponse is the score summary returned after submission.
type SubmitAttemptResponse struct {
	AttemptID  string        `json:"attemptId"`
	Status     AttemptStatus `json:"status"`
	Score      int           `json:"score"`
	TotalMarks int           `json:"totalMarks"`
	Passed     bool          `json:"passed"`
}

// AttemptSummary is one row of the attempt history listing.
type AttemptSummary struct {
	ID          string        `json:"id"`
	QuizID      string        `json:"quizId"`
	QuizTitle   string        `json:"quizTitle"`
	Status      AttemptStatus `json:"status"`
	Score       int           `json:"score"`
	TotalMarks  int           `json:"totalMarks"`
	Passed      bool          `json:"passed"`
	SubmittedAt time.Time     `json:"submittedAt"`
}

// AttemptsResponse is the paginated body of GET /exam/attempts.
type AttemptsResponse struct {
	Attempts     []AttemptSummary `json:"attempts"`
	Page         int              `json:"page"`
	TotalPages   int              `json:"totalPages"`
	TotalResults int              `json:"totalResults"`
}
