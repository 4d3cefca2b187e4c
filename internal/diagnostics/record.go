package diagnostics

import (
	"time"

	"github.com/google/uuid"
)

// Record 交给外部持久层的一次失败诊断。Payload 总是已脱敏。
type Record struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id,omitempty"`
	RequestURL string          `json:"request_url"`
	Result     Result          `json:"result"`
	Timeline   []TimelineMark  `json:"timeline,omitempty"`
	Early      *EarlyDetection `json:"early,omitempty"`
	Payload    Payload         `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RecordInput 构建记录所需的原始材料
type RecordInput struct {
	Bundle   SignalBundle
	Result   Result
	Timeline *Timeline
	Early    *EarlyDetection
	Payload  Payload
}

// NewRecord 组装记录并对载荷脱敏；s 为 nil 时使用默认参数
func NewRecord(in RecordInput, s *Sanitizer) *Record {
	if s == nil {
		s = NewSanitizer(SanitizeOptions{})
	}
	rec := &Record{
		ID:         uuid.NewString(),
		RequestURL: in.Bundle.RequestURL,
		Result:     in.Result,
		Early:      in.Early,
		Payload:    s.Sanitize(in.Payload),
		CreatedAt:  time.Now().UTC(),
	}
	if in.Bundle.RequestID != nil {
		rec.RequestID = *in.Bundle.RequestID
	}
	if in.Timeline != nil {
		rec.Timeline = in.Timeline.Marks()
	}
	return rec
}
