package usage

import "time"

// Record captures the token accounting for one completed stream. Exactly one
// record is written per stream, after the response is drained, whether it
// succeeded or failed.
type Record struct {
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	RequestedAt      time.Time     `json:"requested_at"`
	Failed           bool          `json:"failed"`
	Estimated        bool          `json:"estimated"`
	SystemTokens     int64         `json:"system_tokens"`
	UserTokens       int64         `json:"user_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	TotalTokens      int64         `json:"total_tokens"`
	Duration         time.Duration `json:"duration"`
}

// AggregatedStats represents summary statistics for a time period.
type AggregatedStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	TotalTokens   int64 `json:"total_tokens"`
	EstimatedCnt  int64 `json:"estimated_count"`
}

// DailyStats represents aggregated metrics for a single day.
type DailyStats struct {
	Day      string `json:"day"` // Format: "2006-01-02"
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
}

// ProviderStats represents aggregated metrics per provider and model.
type ProviderStats struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
}

// Snapshot is the GET /usage API response.
type Snapshot struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	TotalTokens   int64 `json:"total_tokens"`
	EstimatedCnt  int64 `json:"estimated_count"`

	RequestsByDay map[string]int64 `json:"requests_by_day,omitempty"`
	TokensByDay   map[string]int64 `json:"tokens_by_day,omitempty"`

	Providers []ProviderStats `json:"providers,omitempty"`
}
