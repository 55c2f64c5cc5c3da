package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/live"
	"github.com/stemsi/liveclass/internal/localstore"
	"github.com/stemsi/liveclass/internal/model"
	"github.com/stemsi/liveclass/internal/realtime"
	"github.com/stemsi/liveclass/internal/repository"
)

func TestParseJoin(t *testing.T) {
	tests := []struct {
		in                 string
		code, name, school string
	}{
		{"AB12CD Jana", "AB12CD", "Jana", ""},
		{"AB12CD Jana Novak / Springfield High", "AB12CD", "Jana Novak", "Springfield High"},
		{"  ab12cd   Jana  ", "ab12cd", "Jana", ""},
		{"AB12CD", "AB12CD", "", ""},
	}
	for _, tt := range tests {
		code, name, school := parseJoin(tt.in)
		if code != tt.code || name != tt.name || school != tt.school {
			t.Errorf("parseJoin(%q) = %q, %q, %q", tt.in, code, name, school)
		}
	}
}

func TestParseCommand(t *testing.T) {
	cmd, arg := parseCommand("  A   forty two ")
	if cmd != "a" || arg != "forty two" {
		t.Errorf("got %q %q", cmd, arg)
	}
}

func TestRenderPhases(t *testing.T) {
	yes := true
	quiz := model.Quiz{Title: "Fractions", Slides: []model.Slide{
		{ID: "q1", Type: model.ActivitySingleChoice, Title: "1/2 + 1/4?", Options: []model.Option{{ID: "a", Label: "3/4"}, {ID: "b", Label: "2/6"}}},
		{ID: "q2", Type: model.ActivityOpenText, Title: "Explain"},
	}}
	answered := model.SlideResponse{SlideID: "q1", Answer: model.ChoiceAnswer("a"), IsCorrect: &yes, Points: 5}

	tests := []struct {
		name  string
		state live.State
		want  []string
	}{
		{
			name:  "join",
			state: live.State{Phase: live.PhaseJoin},
			want:  []string{"join <code> <your name>"},
		},
		{
			name:  "reconnecting",
			state: live.State{Phase: live.PhaseReconnecting},
			want:  []string{"Reconnecting"},
		},
		{
			name:  "paused",
			state: live.State{Phase: live.PhasePaused, Quiz: quiz, IsOnline: true},
			want:  []string{"paused"},
		},
		{
			name: "answered with feedback",
			state: live.State{
				Phase:           live.PhaseActive,
				Quiz:            quiz,
				IsOnline:        true,
				DisplayName:     "Jana",
				CurrentSlide:    &quiz.Slides[0],
				CurrentResponse: &answered,
				ShowResult:      true,
			},
			want: []string{"slide 1/2", "1. [x] 3/4", "2. [ ] 2/6", "Correct! +5"},
		},
		{
			name: "offline with unsaved answer",
			state: live.State{
				Phase:               live.PhaseActive,
				Quiz:                quiz,
				EffectiveSlideIndex: 1,
				CurrentSlide:        &quiz.Slides[1],
				TextAnswer:          "because",
				SaveWarning:         true,
			},
			want: []string{"Offline", "answer: because", "Saved on this device only"},
		},
		{
			name: "ended",
			state: live.State{
				Phase:       live.PhaseEnded,
				Quiz:        quiz,
				DisplayName: "Jana",
				Responses:   model.ResponseList{answered},
			},
			want: []string{"ended", "Answered 1 of 2 slides, 1 correct, 5 points"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := render(tt.state)
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("missing %q in:\n%s", w, out)
				}
			}
		})
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestExecJoinAndSubmit(t *testing.T) {
	ctx := context.Background()
	store := realtime.NewMemoryStore()
	sessions := repository.NewSessionRepository(store)

	rec := &model.SessionRecord{
		ID:       "s1",
		JoinCode: "AB12CD",
		IsActive: true,
		Quiz: model.Quiz{Title: "Demo", Slides: []model.Slide{{
			ID:               "q1",
			Type:             model.ActivitySingleChoice,
			Title:            "Pick",
			Options:          []model.Option{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}},
			CorrectOptionIDs: []string{"b"},
			Points:           1,
		}}},
	}
	if err := sessions.CreateSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := sessions.ReserveCode(ctx, "AB12CD", "s1"); err != nil {
		t.Fatal(err)
	}

	db, err := localstore.Open(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	client := live.New(live.Options{
		Sessions: sessions,
		Identity: localstore.NewIdentityStore(db),
		Pointer:  localstore.NewPointerStore(db),
		Log:      zerolog.Nop(),
	})
	t.Cleanup(client.Close)

	out := &syncBuffer{}
	ui := &UI{client: client, out: out, log: zerolog.Nop()}

	if !ui.Exec(ctx, "join ab12cd Jana / North School") {
		t.Fatal("join should not quit")
	}
	if s := client.State(); s.Phase != live.PhaseActive || s.DisplayName != "Jana" {
		t.Fatalf("state after join = %+v", s)
	}

	ui.Exec(ctx, "s")
	if !strings.Contains(out.String(), "Check your input") {
		t.Errorf("submitting without an answer should explain why, got %q", out.String())
	}

	ui.Exec(ctx, "2")
	ui.Exec(ctx, "submit")

	got, err := sessions.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	st := got.Student(client.State().StudentID)
	if st == nil || st.School != "North School" {
		t.Fatalf("student record = %+v", st)
	}
	r, ok := st.Responses.Find("q1")
	if !ok || r.Answer != model.ChoiceAnswer("b") {
		t.Fatalf("response = %+v, %v", r, ok)
	}

	ui.Exec(ctx, "9")
	if !strings.Contains(out.String(), "no option 9") {
		t.Errorf("out of range option not reported: %q", out.String())
	}
	if ui.Exec(ctx, "quit") {
		t.Error("quit should stop the loop")
	}
}
