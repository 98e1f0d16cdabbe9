package model

import "time"

// QuizAvailability describes whether a quiz window is open for the student.
type QuizAvailability string

const (
	QuizUpcoming QuizAvailability = "UPCOMING"
	QuizActive   QuizAvailability = "ACTIVE"
	QuizEnded    QuizAvailability = "ENDED"
)

// Quiz is the subset of quiz metadata the taking client needs.
type Quiz struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	TotalMarks      int       `json:"totalMarks"`
	DurationMinutes int       `json:"durationMinutes"`
	PassMarks       int       `json:"passMarks"`
	MaxAttempts     int       `json:"maxAttempts"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
}

// AssignedQuiz is a quiz visible to the student plus attempt bookkeeping.
type AssignedQuiz struct {
	Quiz
	AttemptCount int              `json:"attemptCount"`
	CanAttempt   bool             `json:"canAttempt"`
	Availability QuizAvailability `json:"availability"`
}

// AssignedQuizzesResponse is the paginated body of GET /exam/quizzes/assigned.
type AssignedQuizzesResponse struct {
	Quizzes      []AssignedQuiz `json:"quizzes"`
	Page         int            `json:"page"`
	TotalPages   int            `json:"totalPages"`
	TotalResults int            `json:"totalResults"`
}
