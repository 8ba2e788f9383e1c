package model

import "time"

// APIResponse is the standard success envelope for HTTP responses.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope for HTTP responses.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries a machine-readable code and human-readable message.
// RetryAfterSeconds is populated only for admission_exhausted errors.
type ErrorDetail struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// ResponseMeta is attached to every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricsRecord is a point-in-time snapshot of one program's running
// aggregates. Reads may race benignly with concurrent recording;
// values are stale-but-consistent.
type MetricsRecord struct {
	Program           string                `json:"program"`
	CallCount         int64                 `json:"call_count"`
	SuccessCount      int64                 `json:"success_count"`
	ErrorCount        int64                 `json:"error_count"`
	AvgDurationMS     float64               `json:"avg_duration_ms"`
	P50DurationMS     float64               `json:"p50_duration_ms"`
	P95DurationMS     float64               `json:"p95_duration_ms"`
	TotalInputTokens  int64                 `json:"total_input_tokens"`
	TotalOutputTokens int64                 `json:"total_output_tokens"`
	TokensByModel     map[string]TokenUsage `json:"tokens_by_model,omitempty"`
}
