// internal/api/classify_handler.go
// 分类、脱敏与资源判定 API
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"crawldiag/internal/diagnostics"

	"github.com/gin-gonic/gin"
)

// ClassifyRequest 分类请求
type ClassifyRequest struct {
	Bundle  diagnostics.SignalBundle `json:"bundle"`
	Payload *diagnostics.Payload     `json:"payload,omitempty"`
	Persist bool                     `json:"persist"` // 是否写入诊断记录队列
}

// ClassifyResponse 分类响应
type ClassifyResponse struct {
	Result   diagnostics.Result `json:"result"`
	RecordID string             `json:"record_id,omitempty"`
}

// classify 对信号集分类
// POST /api/v1/classify
func (s *Server) classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	res := s.classifier.Classify(req.Bundle)
	resp := ClassifyResponse{Result: res}

	if req.Persist {
		if s.queue == nil {
			errorResponse(c, http.StatusServiceUnavailable, 503, "record queue is not configured")
			return
		}
		in := diagnostics.RecordInput{Bundle: req.Bundle, Result: res}
		if req.Payload != nil {
			in.Payload = *req.Payload
		}
		rec := diagnostics.NewRecord(in, s.sanitizer)
		if err := s.queue.PushRecord(c.Request.Context(), rec); err != nil {
			s.logger.Error("push record failed", slog.String("error", err.Error()))
			internalError(c, "push record failed")
			return
		}
		resp.RecordID = rec.ID
	}

	success(c, resp)
}

// StageRequest 加载后阶段失败
type StageRequest struct {
	RequestID string `json:"request_id"`
	Stage     string `json:"stage" binding:"required"` // extraction / validation
	Error     string `json:"error"`
}

// classifyStage 抽取/校验失败分类
// POST /api/v1/classify/stage
func (s *Server) classifyStage(c *gin.Context) {
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	var stageErr error
	if req.Error != "" {
		stageErr = errors.New(req.Error)
	}

	switch strings.ToLower(req.Stage) {
	case "extraction":
		success(c, s.classifier.ClassifyExtraction(req.RequestID, stageErr))
	case "validation":
		success(c, s.classifier.ClassifyValidation(req.RequestID, stageErr))
	default:
		badRequest(c, "unknown stage: "+req.Stage)
	}
}

// sanitize 脱敏载荷
// POST /api/v1/sanitize
func (s *Server) sanitize(c *gin.Context) {
	var payload diagnostics.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	success(c, s.sanitizer.Sanitize(payload))
}

// ResourceCheckRequest 资源判定请求
type ResourceCheckRequest struct {
	URL          string `json:"url" binding:"required"`
	ContentType  string `json:"content_type"`
	ResourceType string `json:"resource_type"`
}

// ResourceCheckResponse 资源判定结果
type ResourceCheckResponse struct {
	NonCritical bool   `json:"non_critical"`
	Category    string `json:"category,omitempty"`
}

// checkResource 判断资源是否为非关键
// POST /api/v1/resources/check
func (s *Server) checkResource(c *gin.Context) {
	var req ResourceCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	resp := ResourceCheckResponse{Category: s.resources.Category(req.URL, req.ContentType)}
	resp.NonCritical = resp.Category != "" || s.resources.IsNonCriticalType(req.ResourceType)
	success(c, resp)
}

// computeBackoff 生成一次退避建议
// GET /api/v1/backoff
func (s *Server) computeBackoff(c *gin.Context) {
	success(c, s.backoff.Compute())
}
