package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/model"
	"github.com/stemsi/liveclass/internal/response"
	"github.com/stemsi/liveclass/internal/service"
)

const keepAliveInterval = 30 * time.Second

// MonitorHandler streams a live session to the teacher's dashboard.
type MonitorHandler struct {
	classroom *service.ClassroomService
	log       zerolog.Logger
}

func NewMonitorHandler(classroom *service.ClassroomService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		classroom: classroom,
		log:       log.With().Str("component", "monitor_handler").Logger(),
	}
}

// StudentSummary is one roster row of the monitor stream.
type StudentSummary struct {
	StudentID         string `json:"student_id"`
	DisplayName       string `json:"display_name"`
	School            string `json:"school,omitempty"`
	IsOnline          bool   `json:"is_online"`
	IsFocused         bool   `json:"is_focused"`
	LastSeenAt        int64  `json:"last_seen_at"`
	CurrentSlideIndex int    `json:"current_slide_index"`
	Answered          int    `json:"answered"`
	Pending           int    `json:"pending_evaluation"`
	Score             int    `json:"score"`
}

// Summarize builds the roster view of a session, ordered by join time.
func Summarize(rec *model.SessionRecord) []StudentSummary {
	out := make([]StudentSummary, 0, len(rec.Students))
	for id, st := range rec.Students {
		if st == nil {
			continue
		}
		s := StudentSummary{
			StudentID:         id,
			DisplayName:       st.DisplayName,
			School:            st.School,
			IsOnline:          st.IsOnline,
			IsFocused:         st.IsFocused,
			LastSeenAt:        st.LastSeenAt,
			CurrentSlideIndex: st.CurrentSlideIndex,
			Answered:          len(st.Responses),
		}
		for _, r := range st.Responses {
			if r.IsCorrect == nil {
				s.Pending++
			}
			s.Score += r.Points
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := rec.Students[out[i].StudentID].JoinedAt, rec.Students[out[j].StudentID].JoinedAt
		if a != b {
			return a < b
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}

type monitorEvent struct {
	rec *model.SessionRecord
	err error
}

// MonitorSessionSSE godoc
// GET /api/v1/teacher/sessions/:id/monitor
func (h *MonitorHandler) MonitorSessionSSE(c *gin.Context) {
	tid, ok := teacherID(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
	reqCtx := c.Request.Context()

	// Only the latest snapshot matters; older ones are dropped.
	events := make(chan monitorEvent, 1)
	unsub, err := h.classroom.Watch(reqCtx, tid, sessionID, func(rec *model.SessionRecord, err error) {
		ev := monitorEvent{rec: rec, err: err}
		for {
			select {
			case events <- ev:
				return
			default:
			}
			select {
			case <-events:
			default:
			}
		}
	})
	if err != nil {
		writeSessionError(c, h.log, err)
		return
	}
	defer unsub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	log := h.log.With().Str("session_id", sessionID).Logger()
	log.Info().Msg("Teacher attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Teacher disconnected from live monitor SSE")
			return

		case ev := <-events:
			if ev.err != nil {
				c.SSEvent("message", gin.H{"type": "error", "code": response.ErrSessionNotFound})
				c.Writer.Flush()
				log.Warn().Err(ev.err).Msg("Monitor stream lost the session")
				return
			}
			c.SSEvent("message", gin.H{
				"type": "snapshot",
				"data": gin.H{
					"session": gin.H{
						"id":                  ev.rec.ID,
						"join_code":           ev.rec.JoinCode,
						"is_active":           ev.rec.IsActive,
						"is_paused":           ev.rec.IsPaused,
						"is_locked":           ev.rec.IsLocked,
						"current_slide_index": ev.rec.CurrentSlideIndex,
						"slide_count":         len(ev.rec.Quiz.Slides),
					},
					"students": Summarize(ev.rec),
				},
			})
			c.Writer.Flush()
			if !ev.rec.IsActive {
				return
			}

		case <-keepAlive.C:
			c.SSEvent("message", gin.H{"type": "ping"})
			c.Writer.Flush()
		}
	}
}
