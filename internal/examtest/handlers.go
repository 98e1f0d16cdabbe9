package examtest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/monitor"
)

func (s *Server) handleLogin(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seeded, ok := s.users[req.Email]
	if !ok || seeded.password != req.Password {
		failWith(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password incorrect")
		return
	}

	user := seeded.user
	c.JSON(http.StatusOK, model.LoginResponse{
		User:   &user,
		Tokens: s.issueTokensLocked(req.Email),
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req model.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshCalls++
	email, ok := s.validRefresh[req.RefreshToken]
	if !ok {
		failWith(c, http.StatusUnauthorized, "TOKEN_INVALID", "refresh token invalid or revoked")
		return
	}
	// Rotation: the presented refresh token is spent.
	delete(s.validRefresh, req.RefreshToken)

	seeded := s.users[email]
	user := seeded.user
	c.JSON(http.StatusOK, model.LoginResponse{
		User:   &user,
		Tokens: s.issueTokensLocked(email),
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	var req model.LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request body")
		return
	}

	s.mu.Lock()
	delete(s.validRefresh, req.RefreshToken)
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStart(c *gin.Context) {
	quizID := c.Param("quizId")

	s.mu.Lock()
	defer s.mu.Unlock()

	seeded, ok := s.quizzes[quizID]
	if !ok {
		failWith(c, http.StatusNotFound, "NOT_FOUND", "quiz not found")
		return
	}

	// Resume an open attempt rather than starting a second one.
	if attemptID, open := s.openAttempts[quizID]; open {
		rec := s.attempts[attemptID]
		c.JSON(http.StatusOK, model.StartAttemptResponse{
			Attempt:         rec.snapshotLocked(),
			Questions:       seeded.questions,
			QuizTitle:       seeded.quiz.Title,
			DurationMinutes: seeded.quiz.DurationMinutes,
		})
		return
	}

	rec := &attemptRec{
		attempt: model.Attempt{
			ID:        uuid.New().String(),
			QuizID:    quizID,
			Status:    model.AttemptInProgress,
			StartTime: time.Now(),
		},
		quizID: quizID,
	}
	s.attempts[rec.attempt.ID] = rec
	s.openAttempts[quizID] = rec.attempt.ID

	c.JSON(http.StatusOK, model.StartAttemptResponse{
		Attempt:         rec.snapshotLocked(),
		Questions:       seeded.questions,
		QuizTitle:       seeded.quiz.Title,
		DurationMinutes: seeded.quiz.DurationMinutes,
	})
}

func (rec *attemptRec) snapshotLocked() model.Attempt {
	out := rec.attempt
	out.Responses = append([]model.AttemptAnswer(nil), rec.responses...)
	return out
}

func (s *Server) handleSubmit(c *gin.Context) {
	attemptID := c.Param("attemptId")

	var req model.SubmitAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitCalls++
	rec, ok := s.attempts[attemptID]
	if !ok {
		failWith(c, http.StatusNotFound, "NOT_FOUND", "attempt not found")
		return
	}
	if rec.attempt.Status != model.AttemptInProgress {
		failWith(c, http.StatusConflict, "ATTEMPT_FINALIZED", "attempt already submitted")
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		rec.idemKeys = append(rec.idemKeys, key)
	}

	if s.failSubmits > 0 {
		s.failSubmits--
		failWith(c, http.StatusBadGateway, "INTERNAL_ERROR", "upstream grading unavailable")
		return
	}

	now := time.Now()
	rec.responses = append([]model.AttemptAnswer(nil), req.Responses...)
	rec.attempt.Status = model.AttemptCompleted
	rec.attempt.EndTime = &now
	delete(s.openAttempts, rec.quizID)

	quiz := s.quizzes[rec.quizID].quiz
	c.JSON(http.StatusOK, model.SubmitAttemptResponse{
		AttemptID:  attemptID,
		Status:     rec.attempt.Status,
		Score:      len(rec.responses),
		TotalMarks: quiz.TotalMarks,
		Passed:     true,
	})
}

func (s *Server) handleAssignedQuizzes(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quizzes := make([]model.AssignedQuiz, 0, len(s.quizzes))
	for _, seeded := range s.quizzes {
		quizzes = append(quizzes, model.AssignedQuiz{
			Quiz:         seeded.quiz,
			CanAttempt:   true,
			Availability: model.QuizActive,
		})
	}
	c.JSON(http.StatusOK, model.AssignedQuizzesResponse{
		Quizzes:      quizzes,
		Page:         1,
		TotalPages:   1,
		TotalResults: len(quizzes),
	})
}

func (s *Server) handleAttempts(c *gin.Context) {
	quizFilter := c.Query("quizId")

	s.mu.Lock()
	defer s.mu.Unlock()

	attempts := make([]model.AttemptSummary, 0, len(s.attempts))
	for _, rec := range s.attempts {
		if quizFilter != "" && rec.quizID != quizFilter {
			continue
		}
		summary := model.AttemptSummary{
			ID:         rec.attempt.ID,
			QuizID:     rec.quizID,
			QuizTitle:  s.quizzes[rec.quizID].quiz.Title,
			Status:     rec.attempt.Status,
			Score:      len(rec.responses),
			TotalMarks: s.quizzes[rec.quizID].quiz.TotalMarks,
		}
		if rec.attempt.EndTime != nil {
			summary.SubmittedAt = *rec.attempt.EndTime
		}
		attempts = append(attempts, summary)
	}
	c.JSON(http.StatusOK, model.AttemptsResponse{
		Attempts:     attempts,
		Page:         1,
		TotalPages:   1,
		TotalResults: len(attempts),
	})
}

func (s *Server) handleAttempt(c *gin.Context) {
	attemptID := c.Param("attemptId")

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attempts[attemptID]
	if !ok {
		failWith(c, http.StatusNotFound, "NOT_FOUND", "attempt not found")
		return
	}
	c.JSON(http.StatusOK, rec.snapshotLocked())
}

// handleMonitor accepts the proctoring WebSocket and records every signal.
func (s *Server) handleMonitor(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var sig monitor.Signal
		if err := conn.ReadJSON(&sig); err != nil {
			return
		}
		s.mu.Lock()
		s.signals = append(s.signals, sig)
		s.mu.Unlock()
	}
}
