package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateOpen State = iota
	StateSubmitting
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateSubmitting:
		return "SUBMITTING"
	case StateSubmitted:
		return "SUBMITTED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CloseWarning is shown to a student who tries to leave an open session.
const CloseWarning = "Closing will submit your current answers, including any unanswered questions."

// DefaultSubmitTimeout bounds the store call made on expiry or teardown,
// when no caller context is available.
const DefaultSubmitTimeout = 15 * time.Second

// ConfirmFunc asks the student to confirm a warning.
type ConfirmFunc func(warning string) bool

// Config holds everything needed to open a session.
type Config struct {
	Assessment    *model.Assessment
	StudentID     string
	AttemptNumber int
	Store         AttemptSaver

	// Optional.
	Clock         Clock
	Rand          *rand.Rand
	Order         []int
	// Answers restores a draft in canonical order. It is ignored unless its
	// shape matches the assessment.
	Answers       model.AnswerSet
	Journal       Journal
	Observer      Observer
	OnTick        func(remaining time.Duration)
	SubmitTimeout time.Duration
	Log           zerolog.Logger
}

// Session is one student's attempt at an assessment. It moves
// Open → Submitting → Submitted; the first transition happens at most once
// no matter how many of submit, expiry, close or teardown race for it.
type Session struct {
	mu    sync.Mutex
	state State

	assessment    *model.Assessment
	studentID     string
	attemptNumber int
	startedAt     time.Time
	duration      time.Duration

	objective []Ordered[model.ObjectiveQuestion]
	theory    []Ordered[model.TheoryQuestion]
	answers   model.AnswerSet

	attempt *model.Attempt
	lastErr error
	saving  bool

	countdown *Countdown
	closed    chan struct{}

	store         AttemptSaver
	clock         Clock
	journal       Journal
	observer      Observer
	onTick        func(time.Duration)
	submitTimeout time.Duration
	log           zerolog.Logger
}

// NewSession opens a session. The display order is fixed here for the
// session's lifetime: cfg.Order is reused when it is a valid permutation,
// otherwise objective exams with shuffling enabled get a fresh permutation.
func NewSession(cfg Config) (*Session, error) {
	const op = "engine.NewSession"
	if cfg.Assessment == nil || cfg.Store == nil {
		return nil, apperr.New(apperr.CodeInternal, op, errors.New("assessment and store are required"))
	}
	if cfg.AttemptNumber < 1 {
		return nil, apperr.Validation(op, map[string]string{"attempt_number": "attempt_number must be at least 1"})
	}
	if cfg.StudentID == "" {
		return nil, apperr.Validation(op, map[string]string{"student_id": "student_id is required"})
	}

	clk := cfg.Clock
	if clk == nil {
		clk = SystemClock{}
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}

	a := cfg.Assessment
	now := clk.Now()
	s := &Session{
		state:         StateOpen,
		assessment:    a,
		studentID:     cfg.StudentID,
		attemptNumber: cfg.AttemptNumber,
		startedAt:     now,
		duration:      a.Duration(now),
		answers:       model.BlankAnswers(a),
		closed:        make(chan struct{}),
		store:         cfg.Store,
		clock:         clk,
		journal:       cfg.Journal,
		observer:      obs,
		onTick:        cfg.OnTick,
		submitTimeout: timeout,
		log: cfg.Log.With().
			Str("component", "assessment_session").
			Str("assessment_id", a.ID.String()).
			Str("student_id", cfg.StudentID).
			Int("attempt", cfg.AttemptNumber).
			Logger(),
	}

	switch a.Type {
	case model.QuestionTypeObjective:
		if ordered, ok := Arrange(a.Objective, cfg.Order); ok {
			s.objective = ordered
		} else {
			s.objective = Shuffle(a.Objective, a.ShouldShuffle(), cfg.Rand)
		}
	case model.QuestionTypeTheory:
		s.theory = Shuffle(a.Theory, false, nil)
	}

	if cfg.Answers.Kind() != "" {
		if fields := checkAnswers(a, cfg.Answers); fields != nil {
			s.log.Warn().Interface("fields", fields).Msg("Restored answers do not fit the assessment, starting blank")
		} else {
			s.answers = cfg.Answers.Clone()
			s.log.Info().Msg("Answers restored from draft")
		}
	}

	s.log.Info().
		Dur("duration", s.duration).
		Bool("shuffled", a.ShouldShuffle()).
		Msg("Session opened")
	s.observer.SessionOpened(a, s.studentID, s.attemptNumber)
	return s, nil
}

// Start begins the countdown. ctx is the hosting UI's lifetime: if it ends
// while the session is still open, the current answers are submitted as if
// the student had confirmed closing.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateOpen || s.countdown != nil {
		s.mu.Unlock()
		return
	}
	seconds := int(math.Ceil(s.duration.Seconds()))
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.teardown()
		case <-s.closed:
		}
	}()

	cd := StartCountdown(ctx, s.clock, seconds, s.tick, s.expire)

	s.mu.Lock()
	s.countdown = cd
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open {
		cd.Stop()
	}
}

func (s *Session) tick(remaining int) {
	if s.onTick != nil {
		s.onTick(time.Duration(remaining) * time.Second)
	}
}

func (s *Session) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.submitTimeout)
	defer cancel()
	if _, err := s.submit(ctx, model.SubmitTriggerExpiry); err != nil && !errors.Is(err, apperr.ErrAlreadySubmitted) {
		s.log.Error().Err(err).Msg("Submit on expiry failed")
	}
}

func (s *Session) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.submitTimeout)
	defer cancel()
	if _, err := s.submit(ctx, model.SubmitTriggerTeardown); err != nil && !errors.Is(err, apperr.ErrAlreadySubmitted) {
		s.log.Error().Err(err).Msg("Submit on teardown failed")
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when the session was opened.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// AttemptNumber returns the attempt number this session will record.
func (s *Session) AttemptNumber() int { return s.attemptNumber }

// Remaining returns the time left on the countdown.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	cd := s.countdown
	d := s.duration
	s.mu.Unlock()
	if cd == nil {
		return d
	}
	return time.Duration(cd.Remaining()) * time.Second
}

// ObjectiveQuestions returns the objective questions in display order.
func (s *Session) ObjectiveQuestions() []Ordered[model.ObjectiveQuestion] {
	return append([]Ordered[model.ObjectiveQuestion](nil), s.objective...)
}

// TheoryQuestions returns the theory questions in display order.
func (s *Session) TheoryQuestions() []Ordered[model.TheoryQuestion] {
	return append([]Ordered[model.TheoryQuestion](nil), s.theory...)
}

// Order returns the canonical index shown at each display position.
func (s *Session) Order() []int {
	if s.assessment.Type == model.QuestionTypeTheory {
		return OrderOf(s.theory)
	}
	return OrderOf(s.objective)
}

// Answers returns a copy of the current answers in canonical order.
func (s *Session) Answers() model.AnswerSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers.Clone()
}

// SetObjectiveAnswer records option for the question at displayIndex.
// model.Unanswered clears the answer.
func (s *Session) SetObjectiveAnswer(ctx context.Context, displayIndex, option int) error {
	const op = "engine.SetObjectiveAnswer"
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return apperr.New(apperr.CodeSessionClosed, op, nil)
	}
	if s.assessment.Type != model.QuestionTypeObjective {
		s.mu.Unlock()
		return apperr.Validation(op, map[string]string{"type": "assessment is not objective"})
	}
	if displayIndex < 0 || displayIndex >= len(s.objective) {
		s.mu.Unlock()
		return apperr.Validation(op, map[string]string{"index": fmt.Sprintf("index %d is out of range", displayIndex)})
	}
	q := s.objective[displayIndex]
	if option != model.Unanswered && (option < 0 || option >= len(q.Question.Options)) {
		s.mu.Unlock()
		return apperr.Validation(op, map[string]string{"option": fmt.Sprintf("option %d is out of range", option)})
	}
	s.answers.SetObjective(q.OriginalIndex, option)
	draft := s.draftLocked()
	s.mu.Unlock()

	s.saveDraft(ctx, draft)
	return nil
}

// SetTheoryAnswer records text and an optional image reference for the
// question at displayIndex.
func (s *Session) SetTheoryAnswer(ctx context.Context, displayIndex int, text, image string) error {
	const op = "engine.SetTheoryAnswer"
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return apperr.New(apperr.CodeSessionClosed, op, nil)
	}
	if s.assessment.Type != model.QuestionTypeTheory {
		s.mu.Unlock()
		return apperr.Validation(op, map[string]string{"type": "assessment is not theory"})
	}
	if displayIndex < 0 || displayIndex >= len(s.theory) {
		s.mu.Unlock()
		return apperr.Validation(op, map[string]string{"index": fmt.Sprintf("index %d is out of range", displayIndex)})
	}
	s.answers.SetTheory(s.theory[displayIndex].OriginalIndex, text, image)
	draft := s.draftLocked()
	s.mu.Unlock()

	s.saveDraft(ctx, draft)
	return nil
}

func (s *Session) draftLocked() model.Draft {
	return model.Draft{
		AssessmentID:  s.assessment.ID,
		StudentID:     s.studentID,
		AttemptNumber: s.attemptNumber,
		Answers:       s.answers.Clone(),
		Order:         s.Order(),
		SavedAt:       s.clock.Now(),
	}
}

func (s *Session) saveDraft(ctx context.Context, d model.Draft) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SaveDraft(ctx, d); err != nil {
		s.log.Warn().Err(err).Msg("Draft save failed")
	}
}

// Submit submits the current answers at the student's request.
func (s *Session) Submit(ctx context.Context) (*model.Attempt, error) {
	return s.submit(ctx, model.SubmitTriggerManual)
}

// RequestClose asks the student to confirm that leaving submits the current
// answers. If they decline, the session stays open and submitted is false.
func (s *Session) RequestClose(ctx context.Context, confirm ConfirmFunc) (attempt *model.Attempt, submitted bool, err error) {
	if s.State() != StateOpen {
		return nil, false, apperr.New(apperr.CodeAlreadySubmitted, "engine.RequestClose", nil)
	}
	if confirm != nil && !confirm(CloseWarning) {
		return nil, false, nil
	}
	attempt, err = s.submit(ctx, model.SubmitTriggerClose)
	if err != nil && errors.Is(err, apperr.ErrAlreadySubmitted) {
		return nil, false, err
	}
	return attempt, true, err
}

// Teardown submits the current answers because the hosting UI is going away
// without the student having submitted. It is a no-op once submission has
// begun.
func (s *Session) Teardown(ctx context.Context) (*model.Attempt, error) {
	attempt, err := s.submit(ctx, model.SubmitTriggerTeardown)
	if errors.Is(err, apperr.ErrAlreadySubmitted) {
		return nil, nil
	}
	return attempt, err
}

// submit is the guarded transition out of Open. Only the first caller gets
// past the state check; everyone else receives ErrAlreadySubmitted.
func (s *Session) submit(ctx context.Context, trigger model.SubmitTrigger) (*model.Attempt, error) {
	const op = "engine.Submit"

	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return nil, apperr.New(apperr.CodeAlreadySubmitted, op, nil)
	}
	s.state = StateSubmitting
	close(s.closed)
	cd := s.countdown

	now := s.clock.Now()
	if now.Before(s.startedAt) {
		now = s.startedAt
	}
	attempt := &model.Attempt{
		ID:            uuid.New(),
		AssessmentID:  s.assessment.ID,
		StudentID:     s.studentID,
		StartedAt:     s.startedAt,
		SubmittedAt:   now,
		AttemptNumber: s.attemptNumber,
		Answers:       s.answers.Clone(),
		Trigger:       trigger,
	}
	s.mu.Unlock()

	if cd != nil {
		cd.Stop()
	}

	s.log.Info().Str("trigger", string(trigger)).Msg("Submitting")

	if fields := checkAnswers(s.assessment, attempt.Answers); fields != nil {
		err := apperr.Validation(op, fields)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.log.Error().Interface("fields", fields).Msg("Attempt rejected before store")
		s.observer.SubmitFailed(s.assessment, attempt, err)
		return nil, err
	}

	attempt.Grade = Grade(s.assessment, attempt.Answers)

	s.mu.Lock()
	s.attempt = attempt
	s.saving = true
	s.mu.Unlock()

	return s.persist(ctx, attempt)
}

// RetrySave re-sends the already built attempt after a transient store
// failure. The attempt is not rebuilt, so answers cannot change.
func (s *Session) RetrySave(ctx context.Context) (*model.Attempt, error) {
	const op = "engine.RetrySave"
	s.mu.Lock()
	switch {
	case s.state == StateSubmitted:
		a := s.attempt.Clone()
		s.mu.Unlock()
		return a, nil
	case s.state != StateSubmitting || s.attempt == nil:
		s.mu.Unlock()
		return nil, apperr.New(apperr.CodeSessionClosed, op, errors.New("nothing to retry"))
	case s.saving:
		s.mu.Unlock()
		return nil, apperr.New(apperr.CodeAlreadySubmitted, op, errors.New("save in progress"))
	case !apperr.CodeOf(s.lastErr).Retryable():
		err := s.lastErr
		s.mu.Unlock()
		return nil, err
	}
	s.saving = true
	attempt := s.attempt
	s.mu.Unlock()

	return s.persist(ctx, attempt)
}

func (s *Session) persist(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error) {
	const op = "engine.SaveAttempt"
	saved, err := s.store.SaveAttempt(ctx, attempt)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			err = apperr.New(apperr.CodeTransient, op, err)
		}
		s.mu.Lock()
		s.saving = false
		s.lastErr = err
		s.mu.Unlock()

		s.log.Error().Err(err).Str("code", string(apperr.CodeOf(err))).Msg("Attempt save failed")
		s.observer.SubmitFailed(s.assessment, attempt, err)
		return attempt.Clone(), err
	}
	if saved == nil {
		saved = attempt
	}

	s.mu.Lock()
	s.state = StateSubmitted
	s.attempt = saved
	s.saving = false
	s.lastErr = nil
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.ClearDraft(ctx, s.assessment.ID, s.studentID, s.attemptNumber); err != nil {
			s.log.Warn().Err(err).Msg("Draft clear failed")
		}
	}

	ev := s.log.Info().Str("attempt_id", saved.ID.String()).Str("trigger", string(saved.Trigger))
	if saved.Grade != nil {
		ev = ev.Int("grade", *saved.Grade)
	}
	ev.Msg("Attempt submitted")
	s.observer.SessionSubmitted(s.assessment, saved)
	return saved.Clone(), nil
}

// Attempt returns a copy of the built attempt once submission has begun.
func (s *Session) Attempt() *model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Clone()
}

// Err returns the last submission error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Closed is closed as soon as the session leaves Open.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// checkAnswers verifies an answer set's shape against the assessment.
func checkAnswers(a *model.Assessment, answers model.AnswerSet) map[string]string {
	fields := map[string]string{}
	if answers.Kind() != a.Type {
		fields["answers"] = fmt.Sprintf("answers are %q, assessment is %q", answers.Kind(), a.Type)
		return fields
	}
	if answers.Len() != a.QuestionCount() {
		fields["answers"] = fmt.Sprintf("expected %d answers, got %d", a.QuestionCount(), answers.Len())
		return fields
	}
	switch answers.Kind() {
	case model.QuestionTypeObjective:
		opts, _ := answers.Objective()
		for i, o := range opts {
			if o != model.Unanswered && (o < 0 || o >= len(a.Objective[i].Options)) {
				fields[fmt.Sprintf("answers[%d]", i)] = fmt.Sprintf("option %d is out of range", o)
			}
		}
	case model.QuestionTypeTheory:
		ans, _ := answers.Theory()
		for i, t := range ans {
			if t.QuestionID != a.Theory[i].ID {
				fields[fmt.Sprintf("answers[%d]", i)] = "answer does not match its question"
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
