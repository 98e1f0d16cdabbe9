// Package examtest hosts an in-process exam platform double. It speaks the
// same wire protocol as the production API so client packages can be
// tested end to end, and it exposes deterministic failure hooks (expire
// every access token, fail the next submission) that a live server cannot
// offer a test.
package examtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/monitor"
)

// Claims is the token payload the double signs and verifies.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

type seededUser struct {
	user     model.User
	password string
}

type seededQuiz struct {
	quiz      model.Quiz
	questions []model.AttemptQuestion
}

type attemptRec struct {
	attempt   model.Attempt
	quizID    string
	responses []model.AttemptAnswer
	idemKeys  []string
}

// Server is the fake exam platform. All mutating knobs are safe for
// concurrent use with in-flight requests.
type Server struct {
	httpSrv *httptest.Server
	secret  []byte

	mu            sync.Mutex
	users         map[string]seededUser // by email
	quizzes       map[string]seededQuiz
	attempts      map[string]*attemptRec
	openAttempts  map[string]string // quizID → attemptID with status IN_PROGRESS
	validAccess   map[string]bool
	validRefresh  map[string]string // refresh token → email
	accessTTL     time.Duration
	refreshCalls  int
	submitCalls   int
	failSubmits   int
	signals       []monitor.Signal
	upgrader      websocket.Upgrader
}

// NewServer starts the double on an ephemeral port.
func NewServer() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		secret:       []byte("examtest-secret"),
		users:        make(map[string]seededUser),
		quizzes:      make(map[string]seededQuiz),
		attempts:     make(map[string]*attemptRec),
		openAttempts: make(map[string]string),
		validAccess:  make(map[string]bool),
		validRefresh: make(map[string]string),
		accessTTL:    time.Hour,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r := gin.New()
	r.Use(cors.Default())

	r.POST("/auth/login", s.handleLogin)
	r.POST("/auth/refresh-tokens", s.handleRefresh)
	r.POST("/auth/logout", s.handleLogout)

	authed := r.Group("/", s.requireAuth)
	authed.POST("/exam/quizzes/:quizId/start", s.handleStart)
	authed.POST("/exam/attempts/:attemptId/submit", s.handleSubmit)
	authed.GET("/exam/quizzes/assigned", s.handleAssignedQuizzes)
	authed.GET("/exam/attempts", s.handleAttempts)
	authed.GET("/exam/attempts/:attemptId", s.handleAttempt)

	r.GET("/ws/exam/attempts/:attemptId/monitor", s.handleMonitor)

	s.httpSrv = httptest.NewServer(r)
	return s
}

// URL returns the double's base URL.
func (s *Server) URL() string { return s.httpSrv.URL }

// Close shuts the double down.
func (s *Server) Close() { s.httpSrv.Close() }

// ─── Seeding and knobs ─────────────────────────────────────────────────

// SeedUser registers a login.
func (s *Server) SeedUser(email, password, name string) model.User {
	u := model.User{
		ID:       uuid.New().String(),
		Email:    email,
		Name:     name,
		Role:     model.RoleStudent,
		IsActive: true,
	}
	s.mu.Lock()
	s.users[email] = seededUser{user: u, password: password}
	s.mu.Unlock()
	return u
}

// SeedQuiz registers a quiz with its question set and returns the quiz id.
func (s *Server) SeedQuiz(title string, durationMinutes int, questions []model.AttemptQuestion) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.quizzes[id] = seededQuiz{
		quiz: model.Quiz{
			ID:              id,
			Title:           title,
			DurationMinutes: durationMinutes,
			TotalMarks:      len(questions),
		},
		questions: questions,
	}
	s.mu.Unlock()
	return id
}

// SetAccessTTL controls the lifetime of freshly issued access tokens.
func (s *Server) SetAccessTTL(d time.Duration) {
	s.mu.Lock()
	s.accessTTL = d
	s.mu.Unlock()
}

// InvalidateAccessTokens revokes every outstanding access token so the
// next authenticated request 401s regardless of its exp claim.
func (s *Server) InvalidateAccessTokens() {
	s.mu.Lock()
	s.validAccess = make(map[string]bool)
	s.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh token, making the next
// refresh terminal.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.validRefresh = make(map[string]string)
	s.mu.Unlock()
}

// FailSubmits makes the next n submission calls return 502.
func (s *Server) FailSubmits(n int) {
	s.mu.Lock()
	s.failSubmits = n
	s.mu.Unlock()
}

// RefreshCalls returns how many refresh exchanges the double served.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// SubmitCalls returns how many submission requests reached the double,
// including ones it was told to fail.
func (s *Server) SubmitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCalls
}

// Attempt returns the recorded state for an attempt id.
func (s *Server) Attempt(id string) (responses []model.AttemptAnswer, status model.AttemptStatus, idemKeys []string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[id]
	if !ok {
		return nil, "", nil, false
	}
	return append([]model.AttemptAnswer(nil), rec.responses...), rec.attempt.Status, append([]string(nil), rec.idemKeys...), true
}

// Signals returns the proctoring signals received so far.
func (s *Server) Signals() []monitor.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]monitor.Signal(nil), s.signals...)
}

// ─── Tokens ────────────────────────────────────────────────────────────

func (s *Server) issueTokensLocked(email string) model.TokenPair {
	now := time.Now()
	accessExp := now.Add(s.accessTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
		Email: email,
	}
	access, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	refresh := uuid.New().String()

	s.validAccess[access] = true
	s.validRefresh[refresh] = email

	return model.TokenPair{
		Access:  model.Token{Token: access, Expires: accessExp},
		Refresh: model.Token{Token: refresh, Expires: now.Add(24 * time.Hour)},
	}
}

func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		failWith(c, http.StatusUnauthorized, "TOKEN_REQUIRED", "authentication token required")
		return
	}

	s.mu.Lock()
	valid := s.validAccess[token]
	s.mu.Unlock()
	if !valid {
		failWith(c, http.StatusUnauthorized, "TOKEN_INVALID", "authentication token invalid")
		return
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		failWith(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "authentication token expired")
		return
	}

	c.Set("email", claims.Email)
	c.Next()
}

func failWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}
