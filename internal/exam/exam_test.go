package exam

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/proctor/internal/clock"
	"github.com/pavelanni/proctor/internal/events"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/store"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	ctl   *Controller
	store *store.Store
	clock *clock.Manual
	pub   *recorder
	// Student IDs: direct is targeted by ID, member through class 5a,
	// outsider not at all.
	direct, member, outsider int64
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewManual(t0)
	s, err := store.New(":memory:", store.WithNow(clk.Now))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, clock: clk, pub: &recorder{}}
	for _, name := range []string{"direct", "member", "outsider"} {
		id, err := s.CreateUser(ctx, model.User{Username: name, Role: model.UserRoleStudent, Active: true})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		switch name {
		case "direct":
			f.direct = id
		case "member":
			f.member = id
		case "outsider":
			f.outsider = id
		}
	}
	if err := s.SetUserClasses(ctx, f.member, []string{"5a"}); err != nil {
		t.Fatalf("SetUserClasses: %v", err)
	}

	f.ctl = f.newController()
	t.Cleanup(f.ctl.Close)
	return f
}

func (f *fixture) newController() *Controller {
	return New(f.store, f.store,
		WithClock(f.clock),
		WithEvents(f.pub),
		WithLogger(quietLogger()),
	)
}

func (f *fixture) addExam(t *testing.T, mutate func(*model.Exam)) model.Exam {
	t.Helper()
	e := model.Exam{
		ID:              "fractions",
		Title:           "Fractions",
		DurationMinutes: 30,
		Status:          model.ExamPublished,
		Target:          model.Target{ClassIDs: []string{"5a"}, StudentIDs: []int64{f.direct}},
		Questions: []model.Question{
			{Type: model.QuestionMultipleChoice, Prompt: "1/2 + 1/2?", Points: 1, Answers: []string{"1", "2"}, CorrectIndex: 0},
			{Type: model.QuestionMultipleChoice, Prompt: "1/4 of 8?", Points: 1, Answers: []string{"4", "2"}, CorrectIndex: 1},
			{Type: model.QuestionEssay, Prompt: "Explain common denominators.", Points: 3},
		},
	}
	if mutate != nil {
		mutate(&e)
	}
	if err := f.store.UpsertExam(context.Background(), e); err != nil {
		t.Fatalf("UpsertExam: %v", err)
	}
	return e
}

func (f *fixture) waitStatus(t *testing.T, subID string, want model.SubmissionStatus) model.Submission {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sub, err := f.store.GetSubmissionByID(context.Background(), subID)
		if err != nil {
			t.Fatalf("GetSubmissionByID: %v", err)
		}
		if sub.Status == want {
			return sub
		}
		if time.Now().After(deadline) {
			t.Fatalf("submission %s status = %s, want %s", subID, sub.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOpenUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := t0.Add(-time.Hour)
	f.addExam(t, nil)
	f.addExam(t, func(e *model.Exam) { e.ID = "draft"; e.Status = model.ExamDraft })
	f.addExam(t, func(e *model.Exam) { e.ID = "closed"; e.Deadline = &past })
	f.addExam(t, func(e *model.Exam) { e.ID = "done"; e.Status = model.ExamCompleted })

	tests := []struct {
		name    string
		examID  string
		student int64
		want    model.UnavailableReason
	}{
		{"missing exam", "nope", f.direct, model.UnavailableNotFound},
		{"draft", "draft", f.direct, model.UnavailableDraft},
		{"not assigned", "fractions", f.outsider, model.UnavailableNotAssigned},
		{"deadline passed", "closed", f.direct, model.UnavailableDeadlinePassed},
		{"completed", "done", f.member, model.UnavailableDeadlinePassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctl.Open(ctx, tt.examID, tt.student)
			var ue *model.UnavailableError
			if !errors.As(err, &ue) {
				t.Fatalf("err = %v, want *UnavailableError", err)
			}
			if ue.Reason != tt.want {
				t.Errorf("reason = %s, want %s", ue.Reason, tt.want)
			}
			if !errors.Is(err, model.ErrExamUnavailable) {
				t.Error("error does not wrap ErrExamUnavailable")
			}
		})
	}
}

func TestOpenCreatesNotStartedAndHidesKey(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, nil)

	for _, student := range []int64{f.direct, f.member} {
		sess, err := f.ctl.Open(context.Background(), "fractions", student)
		if err != nil {
			t.Fatalf("Open(%d): %v", student, err)
		}
		if sess.Submission.Status != model.StatusNotStarted {
			t.Errorf("status = %s, want not_started", sess.Submission.Status)
		}
		if sess.RemainingSeconds != 1800 {
			t.Errorf("remaining = %d, want 1800", sess.RemainingSeconds)
		}
		for i, q := range sess.Exam.Questions {
			if q.CorrectIndex != -1 {
				t.Errorf("question %d leaks correct index %d", i, q.CorrectIndex)
			}
		}
	}
	if f.ctl.ActiveCountdowns() != 0 {
		t.Errorf("opening armed %d countdowns", f.ctl.ActiveCountdowns())
	}
}

func TestTimeoutSubmitsAutomatically(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, nil)
	ctx := context.Background()

	sess, err := f.ctl.Start(ctx, "fractions", f.direct)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Submission.Status != model.StatusInProgress || f.ctl.ActiveCountdowns() != 1 {
		t.Fatalf("after start: status %s countdowns %d", sess.Submission.Status, f.ctl.ActiveCountdowns())
	}
	if _, err := f.ctl.RecordAnswer(ctx, "fractions", f.direct, 0, model.OptionAnswer(0)); err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}

	f.clock.Advance(30 * time.Minute)
	sub := f.waitStatus(t, sess.Submission.ID, model.StatusSubmitted)

	if sub.SubmitReason != model.SubmitTimeout {
		t.Errorf("reason = %s, want timeout", sub.SubmitReason)
	}
	if sub.TimeSpentSeconds != 1800 {
		t.Errorf("time spent = %d, want 1800", sub.TimeSpentSeconds)
	}
	if sub.MCScore != 1 {
		t.Errorf("mc score = %g, want 1", sub.MCScore)
	}
	if n := f.pub.count(events.SubmissionSubmitted); n != 1 {
		t.Errorf("submitted events = %d, want 1", n)
	}
}

func TestRecordAnswer(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		index int
		ans   model.Answer
	}{
		{"index out of range", 7, model.OptionAnswer(0)},
		{"option out of range", 0, model.OptionAnswer(5)},
		{"text for multiple choice", 0, model.TextAnswer("one")},
		{"number for essay", 2, model.OptionAnswer(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctl.RecordAnswer(ctx, "fractions", f.direct, tt.index, tt.ans)
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
	sub, _ := f.store.GetSubmission(ctx, "fractions", f.direct)
	if sub.Status != model.StatusNotStarted {
		t.Fatalf("rejected answers started the attempt: %s", sub.Status)
	}

	sub, err := f.ctl.RecordAnswer(ctx, "fractions", f.direct, 0, model.OptionAnswer(1))
	if err != nil {
		t.Fatalf("RecordAnswer: %v", err)
	}
	if sub.Status != model.StatusInProgress || sub.StartedAt == nil {
		t.Fatalf("first answer did not start attempt: %+v", sub)
	}
	sub, _ = f.ctl.RecordAnswer(ctx, "fractions", f.direct, 0, model.OptionAnswer(0))
	if *sub.Answers[0].Option != 0 {
		t.Errorf("answer not overwritten: %d", *sub.Answers[0].Option)
	}

	if _, err := f.ctl.Submit(ctx, "fractions", f.direct, model.SubmitManual, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	frozen, err := f.ctl.RecordAnswer(ctx, "fractions", f.direct, 0, model.OptionAnswer(1))
	if !errors.Is(err, model.ErrStaleTransition) {
		t.Fatalf("late answer err = %v, want stale transition", err)
	}
	if *frozen.Answers[0].Option != 0 {
		t.Errorf("late answer changed frozen submission")
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, nil)
	ctx := context.Background()

	if _, err := f.ctl.Start(ctx, "fractions", f.direct); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Advance(5 * time.Minute)
	answers := map[int]model.Answer{0: model.OptionAnswer(0), 1: model.OptionAnswer(0), 2: model.TextAnswer("same base")}
	first, err := f.ctl.Submit(ctx, "fractions", f.direct, model.SubmitManual, answers)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if first.Status != model.StatusSubmitted || first.Score != 1 || first.TotalPoints != 5 {
		t.Fatalf("first = %+v", first)
	}
	if first.TimeSpentSeconds != 300 {
		t.Errorf("time spent = %d, want 300", first.TimeSpentSeconds)
	}
	if f.ctl.ActiveCountdowns() != 0 {
		t.Errorf("countdown still armed after submit")
	}

	f.clock.Advance(time.Minute)
	second, err := f.ctl.Submit(ctx, "fractions", f.direct, model.SubmitTimeout, map[int]model.Answer{1: model.OptionAnswer(1)})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.SubmissionID != first.SubmissionID || second.Score != first.Score ||
		second.TimeSpentSeconds != first.TimeSpentSeconds || second.Status != first.Status {
		t.Errorf("second = %+v, want %+v", second, first)
	}
	sub, _ := f.store.GetSubmissionByID(ctx, first.SubmissionID)
	if sub.SubmitReason != model.SubmitManual {
		t.Errorf("reason = %s, want manual", sub.SubmitReason)
	}
	if n := f.pub.count(events.SubmissionSubmitted); n != 1 {
		t.Errorf("submitted events = %d, want 1", n)
	}
}

func TestConcurrentSubmitScoresOnce(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, nil)
	ctx := context.Background()
	if _, err := f.ctl.Start(ctx, "fractions", f.direct); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]model.SubmitResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reason := model.SubmitManual
			if i%2 == 1 {
				reason = model.SubmitTimeout
			}
			results[i], errs[i] = f.ctl.Submit(ctx, "fractions", f.direct, reason, nil)
		}()
	}
	wg.Wait()
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("Submit %d: %v", i, errs[i])
		}
		if results[i].SubmissionID != results[0].SubmissionID || results[i].Status != model.StatusSubmitted {
			t.Errorf("result %d = %+v", i, results[i])
		}
	}
	if n := f.pub.count(events.SubmissionSubmitted); n != 1 {
		t.Errorf("submitted events = %d, want 1", n)
	}
}

func TestZeroEssayExamIsGradedAtSubmit(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, func(e *model.Exam) { e.Questions = e.Questions[:2] })
	ctx := context.Background()

	res, err := f.ctl.Submit(ctx, "fractions", f.member, model.SubmitManual,
		map[int]model.Answer{0: model.OptionAnswer(0), 1: model.OptionAnswer(1)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != model.StatusGraded || res.Score != 2 {
		t.Errorf("result = %+v, want graded 2", res)
	}
	if f.pub.count(events.SubmissionGraded) != 1 {
		t.Error("missing submission.graded event")
	}
	sub, _ := f.store.GetSubmissionByID(ctx, res.SubmissionID)
	if sub.GradedAt == nil {
		t.Error("GradedAt not set")
	}
}

func TestSubmitRejectsMalformedAnswers(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, nil)
	ctx := context.Background()
	_, err := f.ctl.Submit(ctx, "fractions", f.direct, model.SubmitManual, map[int]model.Answer{0: model.TextAnswer("x")})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	sub, _ := f.store.GetSubmission(ctx, "fractions", f.direct)
	if sub.Status != model.StatusNotStarted {
		t.Errorf("status = %s, want not_started", sub.Status)
	}
}

func TestResumeAfterRestart(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, nil)
	ctx := context.Background()

	sess, err := f.ctl.Start(ctx, "fractions", f.direct)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.ctl.Close()

	// The process is down for ten minutes.
	f.clock.Set(t0.Add(10 * time.Minute))
	ctl := f.newController()
	defer ctl.Close()

	resumed, err := ctl.Open(ctx, "fractions", f.direct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if resumed.RemainingSeconds != 1200 {
		t.Errorf("remaining = %d, want 1200", resumed.RemainingSeconds)
	}
	if resumed.Submission.ID != sess.Submission.ID || ctl.ActiveCountdowns() != 1 {
		t.Errorf("resume did not re-arm the countdown")
	}

	// Down again past the limit: opening submits with reason timeout.
	ctl.Close()
	f.clock.Set(t0.Add(45 * time.Minute))
	ctl2 := f.newController()
	defer ctl2.Close()
	expired, err := ctl2.Open(ctx, "fractions", f.direct)
	if err != nil {
		t.Fatalf("Open after expiry: %v", err)
	}
	if expired.Submission.Status != model.StatusSubmitted || expired.Submission.SubmitReason != model.SubmitTimeout {
		t.Errorf("submission = %s/%s, want submitted/timeout", expired.Submission.Status, expired.Submission.SubmitReason)
	}
	if expired.Submission.TimeSpentSeconds != 1800 {
		t.Errorf("time spent = %d, want capped 1800", expired.Submission.TimeSpentSeconds)
	}
	if expired.RemainingSeconds != 0 {
		t.Errorf("remaining = %d, want 0", expired.RemainingSeconds)
	}
}

func TestRecoverAll(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, nil)
	f.addExam(t, func(e *model.Exam) { e.ID = "long"; e.DurationMinutes = 90 })
	ctx := context.Background()

	if _, err := f.ctl.Start(ctx, "fractions", f.direct); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.ctl.Start(ctx, "long", f.direct); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.ctl.Close()
	f.clock.Set(t0.Add(time.Hour))

	ctl := f.newController()
	defer ctl.Close()
	armed, submitted, err := ctl.RecoverAll(ctx)
	if err != nil {
		t.Fatalf("RecoverAll: %v", err)
	}
	if armed != 1 || submitted != 1 {
		t.Errorf("armed/submitted = %d/%d, want 1/1", armed, submitted)
	}
	if ctl.ActiveCountdowns() != 1 {
		t.Errorf("countdowns = %d, want 1", ctl.ActiveCountdowns())
	}
	sub, _ := f.store.GetSubmission(ctx, "fractions", f.direct)
	if sub.Status != model.StatusSubmitted || sub.SubmitReason != model.SubmitTimeout {
		t.Errorf("expired attempt = %s/%s", sub.Status, sub.SubmitReason)
	}
}

func TestStartedAttemptOutlivesAdmissionChanges(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, f *fixture)
	}{
		{"removed from class", func(t *testing.T, f *fixture) {
			if err := f.store.SetUserClasses(context.Background(), f.member, nil); err != nil {
				t.Fatalf("SetUserClasses: %v", err)
			}
		}},
		{"exam back to draft", func(t *testing.T, f *fixture) {
			f.addExam(t, func(e *model.Exam) { e.Status = model.ExamDraft })
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/timeout", func(t *testing.T) {
			f := newFixture(t)
			f.addExam(t, nil)
			ctx := context.Background()
			sess, err := f.ctl.Start(ctx, "fractions", f.member)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			tt.change(t, f)

			f.clock.Advance(30 * time.Minute)
			sub := f.waitStatus(t, sess.Submission.ID, model.StatusSubmitted)
			if sub.SubmitReason != model.SubmitTimeout {
				t.Errorf("reason = %s, want timeout", sub.SubmitReason)
			}
		})
		t.Run(tt.name+"/manual", func(t *testing.T) {
			f := newFixture(t)
			f.addExam(t, nil)
			ctx := context.Background()
			if _, err := f.ctl.Start(ctx, "fractions", f.member); err != nil {
				t.Fatalf("Start: %v", err)
			}
			tt.change(t, f)

			if _, err := f.ctl.RecordAnswer(ctx, "fractions", f.member, 0, model.OptionAnswer(0)); err != nil {
				t.Fatalf("RecordAnswer: %v", err)
			}
			res, err := f.ctl.Submit(ctx, "fractions", f.member, model.SubmitManual, nil)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if res.Score != 1 {
				t.Errorf("score = %g, want 1", res.Score)
			}
			if f.ctl.ActiveCountdowns() != 0 {
				t.Errorf("countdowns = %d, want 0", f.ctl.ActiveCountdowns())
			}
		})
	}
}

func TestAdmissionChangeBlocksUnstartedAttempt(t *testing.T) {
	f := newFixture(t)
	f.addExam(t, nil)
	ctx := context.Background()
	if _, err := f.ctl.Open(ctx, "fractions", f.member); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.store.SetUserClasses(ctx, f.member, nil); err != nil {
		t.Fatalf("SetUserClasses: %v", err)
	}
	_, err := f.ctl.Start(ctx, "fractions", f.member)
	var ue *model.UnavailableError
	if !errors.As(err, &ue) || ue.Reason != model.UnavailableNotAssigned {
		t.Fatalf("Start err = %v, want not_assigned", err)
	}
}

func TestDeadlineDoesNotInterruptAttempt(t *testing.T) {
	f := newFixture(t)
	deadline := t0.Add(5 * time.Minute)
	f.addExam(t, func(e *model.Exam) { e.Deadline = &deadline })
	ctx := context.Background()

	if _, err := f.ctl.Start(ctx, "fractions", f.direct); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Set(t0.Add(10 * time.Minute))
	if _, err := f.ctl.RecordAnswer(ctx, "fractions", f.direct, 1, model.OptionAnswer(1)); err != nil {
		t.Fatalf("RecordAnswer after deadline: %v", err)
	}
	if _, err := f.ctl.Open(ctx, "fractions", f.member); err == nil {
		t.Error("new attempt opened after deadline")
	}
	res, err := f.ctl.Submit(ctx, "fractions", f.direct, model.SubmitDeadline, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Score != 1 {
		t.Errorf("score = %g, want 1", res.Score)
	}
}

func TestResumePure(t *testing.T) {
	started := t0
	submitted := t0.Add(20 * time.Minute)
	tests := []struct {
		name        string
		snap        model.Submission
		now         time.Time
		wantState   model.SubmissionStatus
		wantRemain  int
		wantExpired bool
	}{
		{"not started", model.Submission{Status: model.StatusNotStarted}, t0, model.StatusNotStarted, 1800, false},
		{"running", model.Submission{Status: model.StatusInProgress, StartedAt: &started}, t0.Add(10 * time.Minute), model.StatusInProgress, 1200, false},
		{"expired", model.Submission{Status: model.StatusInProgress, StartedAt: &started}, t0.Add(31 * time.Minute), model.StatusInProgress, 0, true},
		{"submitted", model.Submission{Status: model.StatusSubmitted, StartedAt: &started, SubmittedAt: &submitted}, t0.Add(25 * time.Minute), model.StatusSubmitted, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resume(tt.snap, 30, tt.now)
			if got.State != tt.wantState || got.RemainingSeconds != tt.wantRemain || got.Expired != tt.wantExpired {
				t.Errorf("Resume = %+v, want %s/%d/%v", got, tt.wantState, tt.wantRemain, tt.wantExpired)
			}
		})
	}
}
