// internal/api/system_handler.go
// 系统状态 API
package api

import (
	"time"

	"crawldiag/internal/pkg/recordqueue"

	"github.com/gin-gonic/gin"
)

// SystemStatusResponse 系统状态响应
type SystemStatusResponse struct {
	Status          string                  `json:"status"`
	Timestamp       string                  `json:"timestamp"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	Queue           *recordqueue.QueueStats `json:"queue,omitempty"`
	QueueError      string                  `json:"queue_error,omitempty"`
	DebounceEntries *int                    `json:"debounce_entries,omitempty"`
}

// getSystemStatus 获取系统状态
// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	resp := SystemStatusResponse{
		Status:        "ok",
		Timestamp:     time.Now().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	if s.queue != nil {
		stats, err := s.queue.GetQueueStats(c.Request.Context())
		if err != nil {
			resp.Status = "degraded"
			resp.QueueError = err.Error()
		} else {
			resp.Queue = stats
		}
	}

	if s.debounce != nil {
		n := s.debounce.Len()
		resp.DebounceEntries = &n
	}

	success(c, resp)
}
