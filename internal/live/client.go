// Package live is the student side of a live session: joining and silently
// reconnecting, presence heartbeats, following the teacher's slide pointer,
// and submitting answers that survive retries, reloads and other devices.
package live

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/model"
)

// DefaultHeartbeat is the reference presence interval.
const DefaultHeartbeat = 45 * time.Second

// SessionStore is the slice of the session repository the client needs.
type SessionStore interface {
	ResolveCode(ctx context.Context, code string) (string, error)
	GetSession(ctx context.Context, sessionID string) (*model.SessionRecord, error)
	UpdateStudent(ctx context.Context, sessionID, studentID string, fields map[string]any) error
	TouchStudent(ctx context.Context, sessionID, studentID string, fields map[string]any) error
	PutResponse(ctx context.Context, sessionID, studentID string, resp model.SlideResponse, totalTimeMs int64) error
	Subscribe(ctx context.Context, sessionID string, fn func(*model.SessionRecord, error)) (func(), error)
}

// IdentityStore holds the device's student identity. Load returns nil when
// none exists yet.
type IdentityStore interface {
	Load(ctx context.Context) (*model.StudentIdentity, error)
	Save(ctx context.Context, id *model.StudentIdentity) error
}

// PointerStore holds the last joined session. Load returns nil when there
// is none.
type PointerStore interface {
	Load(ctx context.Context) (*model.SessionPointer, error)
	Save(ctx context.Context, p *model.SessionPointer) error
	Clear(ctx context.Context) error
}

// Phase is the screen the student should be looking at.
type Phase string

const (
	PhaseJoin         Phase = "join"
	PhaseReconnecting Phase = "reconnecting"
	PhaseActive       Phase = "active"
	PhasePaused       Phase = "paused"
	PhaseEnded        Phase = "ended"
)

// Options configures a Client. Sessions, Identity and Pointer are required.
type Options struct {
	Sessions SessionStore
	Identity IdentityStore
	Pointer  PointerStore

	Grader            Grader
	Retrier           *Retrier
	HeartbeatInterval time.Duration
	Now               func() time.Time
	NewID             func() string
	Log               zerolog.Logger
}

// Client runs the live-session protocol for one student on one device.
// All methods are safe for concurrent use. The client never holds its lock
// while talking to a store.
type Client struct {
	sessions  SessionStore
	identity  IdentityStore
	pointer   PointerStore
	grader    Grader
	retry     *Retrier
	heartbeat time.Duration
	now       func() time.Time
	newID     func() string
	log       zerolog.Logger

	changes chan struct{}

	mu          sync.Mutex
	phase       Phase
	sessionID   string
	joinCode    string
	studentID   string
	displayName string
	session     *model.SessionRecord
	responses   model.ResponseList
	connErr     error
	online      bool
	focused     bool

	localSlide       int
	effective        int
	selected         []string
	text             string
	showResult       bool
	saveWarning      bool
	slideStartedAt   time.Time
	sessionStartedAt int64
	wiggle           int
	transition       int

	gen    uint64
	unsub  func()
	hbStop chan struct{}
	closed bool
}

func New(opts Options) *Client {
	c := &Client{
		sessions:  opts.Sessions,
		identity:  opts.Identity,
		pointer:   opts.Pointer,
		grader:    opts.Grader,
		retry:     opts.Retrier,
		heartbeat: opts.HeartbeatInterval,
		now:       opts.Now,
		newID:     opts.NewID,
		log:       opts.Log.With().Str("component", "live_client").Logger(),
		changes:   make(chan struct{}, 1),
		phase:     PhaseJoin,
		online:    true,
		focused:   true,
	}
	if c.grader == nil {
		c.grader = DefaultGrader{}
	}
	if c.retry == nil {
		c.retry = NewRetrier(DefaultAttempts, DefaultDelay, opts.Log)
	}
	if c.heartbeat <= 0 {
		c.heartbeat = DefaultHeartbeat
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Changes signals (coalesced) that the read model may have changed.
func (c *Client) Changes() <-chan struct{} {
	return c.changes
}

func (c *Client) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// State is the read model exposed to the rendering layer.
type State struct {
	Phase           Phase
	IsJoined        bool
	IsReconnecting  bool
	ConnectionError error

	SessionID   string
	JoinCode    string
	StudentID   string
	DisplayName string

	Session   *model.SessionRecord
	Quiz      model.Quiz
	Responses model.ResponseList

	EffectiveSlideIndex int
	CurrentSlide        *model.Slide
	CurrentResponse     *model.SlideResponse
	HasAnsweredCurrent  bool
	CanNavigate         bool

	SelectedOptions []string
	TextAnswer      string
	ShowResult      bool
	SaveWarning     bool

	IsOnline  bool
	IsFocused bool

	// Wiggle and Transition increase on every blocked navigation and every
	// teacher-driven slide change; renderers animate on change.
	Wiggle     int
	Transition int
}

// State returns a snapshot of the read model.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Phase:               c.phase,
		IsJoined:            c.joinedLocked(),
		IsReconnecting:      c.phase == PhaseReconnecting,
		ConnectionError:     c.connErr,
		SessionID:           c.sessionID,
		JoinCode:            c.joinCode,
		StudentID:           c.studentID,
		DisplayName:         c.displayName,
		Session:             c.session,
		Responses:           c.responses.Clone(),
		EffectiveSlideIndex: c.effective,
		SelectedOptions:     slices.Clone(c.selected),
		TextAnswer:          c.text,
		ShowResult:          c.showResult,
		SaveWarning:         c.saveWarning,
		IsOnline:            c.online,
		IsFocused:           c.focused,
		Wiggle:              c.wiggle,
		Transition:          c.transition,
	}
	if c.session != nil {
		s.Quiz = c.session.Quiz
	}
	if slide, ok := c.currentSlideLocked(); ok {
		s.CurrentSlide = &slide
		if r, ok := c.responses.Find(slide.ID); ok {
			s.HasAnsweredCurrent = true
			s.CurrentResponse = &r
		}
	}
	s.CanNavigate = c.canNavigateLocked()
	return s
}

func (c *Client) joinedLocked() bool {
	return c.phase == PhaseActive || c.phase == PhasePaused
}

func (c *Client) nowMs() int64 {
	return c.now().UnixMilli()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// membership returns the ids needed for a write, or false when not joined.
func (c *Client) membership() (sessionID, studentID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joinedLocked() {
		return "", "", false
	}
	return c.sessionID, c.studentID, true
}
