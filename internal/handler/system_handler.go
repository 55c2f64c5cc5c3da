package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/config"
)

const statusInterval = 7 * time.Second

// SubscriberCounter reports how many change subscriptions a store holds.
type SubscriberCounter interface {
	Subscribers() int
}

// SystemHandler streams server health for the teacher dashboard via SSE.
type SystemHandler struct {
	rdb       *redis.Client
	store     SubscriberCounter
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. store may be nil.
func NewSystemHandler(rdb *redis.Client, store SubscriberCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		store:     store,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemStatus struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`

	RedisLatencyMs float64 `json:"redis_latency_ms"`
	RedisOK        bool    `json:"redis_ok"`
	ArchiveQueue   int64   `json:"archive_queue"`
	Subscriptions  int     `json:"subscriptions"`
}

// SystemStatusSSE godoc
// GET /api/v1/teacher/system/status
func (h *SystemHandler) SystemStatusSSE(c *gin.Context) {
	if _, ok := teacherID(c); !ok {
		return
	}
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	// Send immediately on connect, then every tick
	h.writeStatus(c)

	for {
		select {
		case <-reqCtx.Done():
			return
		case <-ticker.C:
			h.writeStatus(c)
		}
	}
}

func (h *SystemHandler) writeStatus(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func (h *SystemHandler) collect(ctx context.Context) systemStatus {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := systemStatus{
		Timestamp:  time.Now().UnixMilli(),
		Uptime:     formatDuration(time.Since(h.startTime)),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		NumGC:      mem.NumGC,
		GoVersion:  runtime.Version(),
	}
	if h.store != nil {
		s.Subscriptions = h.store.Subscribers()
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	pipe := h.rdb.Pipeline()
	pingCmd := pipe.Ping(ctx)
	queueCmd := pipe.LLen(ctx, config.WorkerKey.PersistSessionsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Debug().Err(err).Msg("Status probe failed")
	}
	s.RedisLatencyMs = float64(time.Since(start).Microseconds()) / 1000
	s.RedisOK = pingCmd.Err() == nil
	s.ArchiveQueue, _ = queueCmd.Result()
	return s
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
