package live

import (
	"context"
	"errors"
	"testing"
)

func TestLockedSessionFollowsTeacher(t *testing.T) {
	e := newEnv()
	c := joined(t, e, sessionOpts{locked: true})
	ctx := context.Background()

	_ = c.SelectOption("b")
	if err := c.NextSlide(ctx); !errors.Is(err, ErrNavigationBlocked) {
		t.Errorf("locked next err = %v", err)
	}
	if st := c.State(); st.CanNavigate || st.Wiggle != 0 {
		t.Errorf("canNavigate = %v, wiggle = %d", st.CanNavigate, st.Wiggle)
	}

	if err := e.repo.UpdateSession(ctx, "s1", map[string]any{"currentSlideIndex": 1}); err != nil {
		t.Fatalf("teacher advance: %v", err)
	}
	eventually(t, "follow teacher", func() bool { return c.State().EffectiveSlideIndex == 1 })

	st := c.State()
	if st.Transition != 1 || st.CurrentSlide.ID != "q2" {
		t.Errorf("transition = %d, slide = %+v", st.Transition, st.CurrentSlide)
	}
	if len(st.SelectedOptions) != 0 || st.ShowResult || st.TextAnswer != "" {
		t.Errorf("per-slide state leaked: %+v", st)
	}

	// Out of range pointers are clamped.
	_ = e.repo.UpdateSession(ctx, "s1", map[string]any{"currentSlideIndex": 40})
	eventually(t, "clamped index", func() bool { return c.State().EffectiveSlideIndex == 2 })
}

func TestUnlockingKeepsTeacherPosition(t *testing.T) {
	e := newEnv()
	c := joined(t, e, sessionOpts{locked: true})
	ctx := context.Background()

	_ = e.repo.UpdateSession(ctx, "s1", map[string]any{"currentSlideIndex": 2})
	eventually(t, "follow teacher", func() bool { return c.State().EffectiveSlideIndex == 2 })
	_ = e.repo.UpdateSession(ctx, "s1", map[string]any{"isLocked": false})
	eventually(t, "unlocked", func() bool { return c.State().CanNavigate })

	if err := c.PrevSlide(ctx); err != nil {
		t.Fatalf("prev: %v", err)
	}
	if st := c.State(); st.EffectiveSlideIndex != 1 {
		t.Errorf("effective = %d, want 1", st.EffectiveSlideIndex)
	}
}

func TestUnlockedNavigationGate(t *testing.T) {
	e := newEnv()
	c := joined(t, e, sessionOpts{})
	ctx := context.Background()
	studentID := c.State().StudentID

	if err := c.NextSlide(ctx); !errors.Is(err, ErrNavigationBlocked) {
		t.Fatalf("unanswered next err = %v", err)
	}
	if st := c.State(); st.Wiggle != 1 || st.EffectiveSlideIndex != 0 {
		t.Errorf("wiggle = %d, effective = %d", st.Wiggle, st.EffectiveSlideIndex)
	}

	_ = c.SelectOption("a")
	_ = c.SubmitAnswer(ctx)
	if err := c.PrevSlide(ctx); err != nil || c.State().EffectiveSlideIndex != 0 {
		t.Errorf("prev below zero moved: %v", err)
	}

	if err := c.NextSlide(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	st := c.State()
	if st.EffectiveSlideIndex != 1 || st.ShowResult || st.HasAnsweredCurrent {
		t.Errorf("after next = %+v", st)
	}
	if s := e.student(t, "s1", studentID); s.CurrentSlideIndex != 1 {
		t.Errorf("remote position = %d", s.CurrentSlideIndex)
	}

	// q2 needs an answer in both directions.
	if err := c.PrevSlide(ctx); !errors.Is(err, ErrNavigationBlocked) {
		t.Errorf("unanswered prev err = %v", err)
	}
	c.SetTextAnswer("1/2")
	_ = c.SubmitAnswer(ctx)
	_ = c.NextSlide(ctx)
	if err := c.NextSlide(ctx); err != nil || c.State().EffectiveSlideIndex != 2 {
		t.Errorf("next past last slide: %v, effective %d", err, c.State().EffectiveSlideIndex)
	}
}

func TestPositionWriteIsNotRetried(t *testing.T) {
	e := newEnv()
	c := joined(t, e, sessionOpts{})
	ctx := context.Background()
	_ = c.SelectOption("a")
	_ = c.SubmitAnswer(ctx)

	e.faults.setFailIf(func(_ string, f map[string]any) bool {
		_, ok := f["currentSlideIndex"]
		return ok
	})
	if err := c.NextSlide(ctx); err != nil {
		t.Fatalf("next must not surface position failures: %v", err)
	}
	if n := e.faults.failures(); n != 1 {
		t.Errorf("position attempts = %d, want 1", n)
	}
	if c.State().EffectiveSlideIndex != 1 {
		t.Error("local move should stand")
	}
}

func TestPausedSessionBlocksActions(t *testing.T) {
	e := newEnv()
	c := joined(t, e, sessionOpts{})
	ctx := context.Background()

	_ = e.repo.UpdateSession(ctx, "s1", map[string]any{"isPaused": true})
	eventually(t, "paused", func() bool { return c.State().Phase == PhasePaused })

	_ = c.SelectOption("a")
	if err := c.SubmitAnswer(ctx); !errors.Is(err, ErrSessionPaused) {
		t.Errorf("submit err = %v", err)
	}
	if err := c.NextSlide(ctx); !errors.Is(err, ErrSessionPaused) {
		t.Errorf("next err = %v", err)
	}

	_ = e.repo.UpdateSession(ctx, "s1", map[string]any{"isPaused": false})
	eventually(t, "resumed", func() bool { return c.State().Phase == PhaseActive })
	if err := c.SubmitAnswer(ctx); err != nil {
		t.Errorf("submit after resume: %v", err)
	}
}
