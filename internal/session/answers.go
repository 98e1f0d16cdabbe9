package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/storage"
)

// slotKey returns the durable slot for a quiz's draft answers. Namespaced
// by quiz so resuming one quiz never collides with another.
func slotKey(quizID string) string {
	return "quiz_answers_" + quizID
}

// AnswerStore holds the in-progress answer set for one attempt. Every edit
// is persisted synchronously to the durable slot before control returns,
// so a crash right after an edit loses nothing. The in-memory copy stays
// authoritative when a persist fails: storage trouble degrades durability,
// never the session.
type AnswerStore struct {
	quizID string
	// order fixes the question sequence so submission payloads and
	// persisted snapshots are deterministic.
	order []string
	types map[string]model.QuestionType
	store storage.Store
	log   zerolog.Logger

	mu      sync.Mutex
	answers map[string]string
}

// NewAnswerStore builds an empty store for the attempt's question set.
func NewAnswerStore(quizID string, questions []model.AttemptQuestion, store storage.Store, log zerolog.Logger) *AnswerStore {
	order := make([]string, 0, len(questions))
	types := make(map[string]model.QuestionType, len(questions))
	for _, q := range questions {
		order = append(order, q.ID)
		types[q.ID] = q.Type
	}
	return &AnswerStore{
		quizID:  quizID,
		order:   order,
		types:   types,
		store:   store,
		log:     log.With().Str("component", "answer_store").Str("quiz_id", quizID).Logger(),
		answers: make(map[string]string),
	}
}

// Set upserts the answer for a question and persists the full snapshot.
// An empty value removes the entry (a cleared text answer is unanswered).
func (a *AnswerStore) Set(ctx context.Context, questionID, value string) {
	a.mu.Lock()
	if value == "" {
		delete(a.answers, questionID)
	} else {
		a.answers[questionID] = value
	}
	pairs := a.pairsLocked()
	a.mu.Unlock()

	a.persist(ctx, pairs)
}

// Get returns the stored value for a question, if any.
func (a *AnswerStore) Get(questionID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.answers[questionID]
	return v, ok
}

// Count returns how many questions have an answer.
func (a *AnswerStore) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.answers)
}

// Load rehydrates the store. The durable slot wins over the server
// snapshot: the student's latest local edits are newer than whatever the
// server last saw. A corrupt slot is discarded.
func (a *AnswerStore) Load(ctx context.Context, serverAnswers []model.AttemptAnswer) {
	raw, err := a.store.Get(ctx, slotKey(a.quizID))
	if err == nil {
		var pairs [][2]string
		if err := json.Unmarshal(raw, &pairs); err != nil {
			a.log.Warn().Err(err).Msg("Corrupt answer slot, discarding")
			_ = a.store.Delete(ctx, slotKey(a.quizID))
		} else {
			a.mu.Lock()
			for _, p := range pairs {
				if _, known := a.types[p[0]]; known && p[1] != "" {
					a.answers[p[0]] = p[1]
				}
			}
			a.mu.Unlock()
			a.log.Debug().Int("count", len(pairs)).Msg("Rehydrated answers from durable slot")
			return
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		a.log.Warn().Err(err).Msg("Failed to read answer slot")
	}

	if len(serverAnswers) == 0 {
		return
	}
	a.mu.Lock()
	for _, ans := range serverAnswers {
		switch {
		case ans.SelectedOptionID != "":
			a.answers[ans.QuestionID] = ans.SelectedOptionID
		case ans.TextAnswer != "":
			a.answers[ans.QuestionID] = ans.TextAnswer
		}
	}
	a.mu.Unlock()
	a.log.Debug().Int("count", len(serverAnswers)).Msg("Rehydrated answers from server snapshot")
}

// Clear removes the durable slot. Required after a terminal submission so
// a stale draft cannot resurrect into a future attempt.
func (a *AnswerStore) Clear(ctx context.Context) {
	a.mu.Lock()
	a.answers = make(map[string]string)
	a.mu.Unlock()

	if err := a.store.Delete(ctx, slotKey(a.quizID)); err != nil {
		a.log.Warn().Err(err).Msg("Failed to clear answer slot")
	}
}

// Snapshot returns the merged response list for submission, in question
// order. Option answers and text answers land in their respective fields
// according to the question type.
func (a *AnswerStore) Snapshot() []model.AttemptAnswer {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.AttemptAnswer, 0, len(a.answers))
	for _, qid := range a.order {
		v, ok := a.answers[qid]
		if !ok {
			continue
		}
		ans := model.AttemptAnswer{QuestionID: qid}
		if a.types[qid] == model.QuestionSubjective {
			ans.TextAnswer = v
		} else {
			ans.SelectedOptionID = v
		}
		out = append(out, ans)
	}
	return out
}

// pairsLocked serializes the answer set as ordered [questionID, value]
// pairs, the slot's wire layout.
func (a *AnswerStore) pairsLocked() [][2]string {
	pairs := make([][2]string, 0, len(a.answers))
	for _, qid := range a.order {
		if v, ok := a.answers[qid]; ok {
			pairs = append(pairs, [2]string{qid, v})
		}
	}
	return pairs
}

func (a *AnswerStore) persist(ctx context.Context, pairs [][2]string) {
	raw, err := json.Marshal(pairs)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to encode answer snapshot")
		return
	}
	if err := a.store.Set(ctx, slotKey(a.quizID), raw); err != nil {
		// Swallowed: the in-memory copy remains authoritative for this
		// process lifetime.
		a.log.Warn().Err(err).Msg("Failed to persist answer snapshot")
	}
}
