package live

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stemsi/liveclass/internal/model"
)

func joined(t *testing.T, e *env, o sessionOpts) *Client {
	t.Helper()
	e.createSession(t, "s1", "AB12CD", o)
	c := e.newClient(t, newDevice())
	if err := c.Join(context.Background(), "AB12CD", "Jana", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	return c
}

func TestSubmitRequiresDraft(t *testing.T) {
	e := newEnv()
	c := e.newClient(t, newDevice())
	ctx := context.Background()
	if err := c.SubmitAnswer(ctx); !errors.Is(err, ErrNotJoined) {
		t.Errorf("before join err = %v", err)
	}

	c = joined(t, e, sessionOpts{})
	if err := c.SubmitAnswer(ctx); !errors.Is(err, ErrValidation) {
		t.Errorf("empty draft err = %v", err)
	}
	if err := c.SelectOption("zz"); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown option err = %v", err)
	}
}

func TestSubmitIsIdempotentPerSlide(t *testing.T) {
	e := newEnv()
	c := joined(t, e, sessionOpts{immediate: true})
	ctx := context.Background()

	_ = c.SelectOption("a")
	if err := c.SubmitAnswer(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_ = c.SelectOption("b")
	if err := c.SubmitAnswer(ctx); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if n := e.faults.countUpdates(func(f map[string]any) bool { return writesResponse("", f) }); n != 1 {
		t.Errorf("response writes = %d, want 1", n)
	}
	st := c.State()
	if len(st.Responses) != 1 || st.Responses[0].Answer != model.ChoiceAnswer("a") {
		t.Fatalf("responses = %+v", st.Responses)
	}
	if r := st.CurrentResponse; r == nil || r.IsCorrect == nil || !*r.IsCorrect || r.Points != 2 {
		t.Errorf("graded response = %+v", r)
	}
	if !st.ShowResult || !st.CanNavigate {
		t.Errorf("showResult = %v, canNavigate = %v", st.ShowResult, st.CanNavigate)
	}
}

func TestSubmitRecordsTimings(t *testing.T) {
	e := newEnv()
	c := joined(t, e, sessionOpts{})
	ctx := context.Background()

	e.clock.Advance(7 * time.Second)
	_ = c.SelectOption("a")
	if err := c.SubmitAnswer(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	st := c.State()
	s := e.student(t, "s1", st.StudentID)
	if len(s.Responses) != 1 {
		t.Fatalf("responses = %+v", s.Responses)
	}
	r := s.Responses[0]
	if r.TimeSpentSeconds != 7 || r.AnsweredAt != e.clock.Now().UnixMilli() {
		t.Errorf("timings = %+v", r)
	}
	if s.TotalTimeMs != 7000 {
		t.Errorf("totalTimeMs = %d", s.TotalTimeMs)
	}
	if r.IsCorrect != nil {
		t.Errorf("no immediate feedback, isCorrect = %v", *r.IsCorrect)
	}
}

func TestSaveFailureKeepsResponseLocally(t *testing.T) {
	e := newEnv()
	c := joined(t, e, sessionOpts{})
	ctx := context.Background()
	e.faults.setFailIf(writesResponse)

	_ = c.SelectOption("b")
	err := c.SubmitAnswer(ctx)
	if !errors.Is(err, ErrConnectivity) || !errors.Is(err, errInjected) {
		t.Fatalf("err = %v", err)
	}
	if n := e.faults.failures(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
	if got, want := e.sleepLog(), []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}; !slices.Equal(got, want) {
		t.Errorf("backoff = %v, want %v", got, want)
	}

	st := c.State()
	if !st.SaveWarning || !st.ShowResult || len(st.Responses) != 1 {
		t.Fatalf("state after failed save = %+v", st)
	}

	// A snapshot without the response must not drop it.
	if err := e.repo.UpdateSession(ctx, "s1", map[string]any{"isPaused": true}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	eventually(t, "paused snapshot", func() bool { return c.State().Phase == PhasePaused })
	if st := c.State(); len(st.Responses) != 1 || !st.SaveWarning {
		t.Errorf("after snapshot = %+v", st.Responses)
	}
}

// The teacher grades q1 while q2 is still only local; the student keeps q2
// and sees the grade on q1.
func TestTeacherEvaluationMergesWithUnsavedResponse(t *testing.T) {
	e := newEnv()
	c := joined(t, e, sessionOpts{})
	ctx := context.Background()

	_ = c.SelectOption("b")
	if err := c.SubmitAnswer(ctx); err != nil {
		t.Fatalf("submit q1: %v", err)
	}
	if err := c.NextSlide(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	e.faults.setFailIf(writesSlideResponse("q2"))
	c.SetTextAnswer("0.5")
	if err := c.SubmitAnswer(ctx); !errors.Is(err, ErrConnectivity) {
		t.Fatalf("submit q2 err = %v", err)
	}

	right := true
	if err := e.repo.SetEvaluation(ctx, "s1", c.State().StudentID, "q1", &right, 2); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	eventually(t, "evaluation", func() bool {
		r, ok := c.State().Responses.Find("q1")
		return ok && r.IsCorrect != nil && *r.IsCorrect
	})
	st := c.State()
	if len(st.Responses) != 2 || st.Responses[1].SlideID != "q2" {
		t.Fatalf("merged responses = %+v", st.Responses)
	}
	if r, _ := st.Responses.Find("q1"); r.Points != 2 {
		t.Errorf("q1 points = %d", r.Points)
	}
}

func TestReconcile(t *testing.T) {
	yes, no := true, false
	resp := func(id string, at int64, correct *bool, pts int) model.SlideResponse {
		return model.SlideResponse{SlideID: id, AnsweredAt: at, IsCorrect: correct, Points: pts}
	}

	cases := []struct {
		name    string
		local   model.ResponseList
		server  model.ResponseList
		want    []string
		changed bool
	}{
		{
			name:   "server behind",
			local:  model.ResponseList{resp("q1", 1, nil, 0), resp("q2", 2, nil, 0)},
			server: model.ResponseList{resp("q1", 1, nil, 0)},
			want:   []string{"q1", "q2"},
		},
		{
			name:    "server knows more",
			local:   model.ResponseList{resp("q1", 1, nil, 0)},
			server:  model.ResponseList{resp("q1", 1, nil, 0), resp("q3", 3, nil, 0)},
			want:    []string{"q1", "q3"},
			changed: true,
		},
		{
			name:    "unknown slide with equal length",
			local:   model.ResponseList{resp("q2", 5, nil, 0)},
			server:  model.ResponseList{resp("q1", 1, nil, 0)},
			want:    []string{"q1", "q2"},
			changed: true,
		},
		{
			name:    "evaluation differs",
			local:   model.ResponseList{resp("q1", 1, nil, 0), resp("q2", 2, nil, 0)},
			server:  model.ResponseList{resp("q1", 1, &no, 0)},
			want:    []string{"q1", "q2"},
			changed: true,
		},
		{
			name:   "identical",
			local:  model.ResponseList{resp("q1", 1, &yes, 2)},
			server: model.ResponseList{resp("q1", 1, &yes, 2)},
			want:   []string{"q1"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := reconcile(tc.local, tc.server)
			if changed != tc.changed {
				t.Errorf("changed = %v, want %v", changed, tc.changed)
			}
			var ids []string
			for _, r := range got {
				ids = append(ids, r.SlideID)
			}
			if !slices.Equal(ids, tc.want) {
				t.Errorf("ids = %v, want %v", ids, tc.want)
			}
		})
	}
}
