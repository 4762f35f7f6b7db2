package provider

import "time"

// UsageReport carries the token accounting for one completed stream.
// It is produced exactly once per stream, either from vendor-reported
// metadata or synthesized by the estimator when the vendor never sends
// usage data.
type UsageReport struct {
	// SystemTokens counts tokens attributed to the system prompt
	// (for backends that only report a combined prompt count, the whole
	// prompt is attributed here).
	SystemTokens int64 `json:"system_tokens"`

	// UserTokens counts tokens attributed to the user input.
	UserTokens int64 `json:"user_tokens"`

	// CompletionTokens counts generated tokens.
	CompletionTokens int64 `json:"completion_tokens"`

	// Duration is the elapsed wall-clock time of the streaming call,
	// measured locally unless the vendor reports a non-zero duration.
	Duration time.Duration `json:"duration_ns"`

	// Estimated marks reports synthesized by the estimator rather than
	// taken from vendor metadata.
	Estimated bool `json:"estimated"`
}

// TotalTokens returns the sum of all token fields.
func (u UsageReport) TotalTokens() int64 {
	return u.SystemTokens + u.UserTokens + u.CompletionTokens
}

// UsageCallback receives the final usage report of a stream. It is invoked
// exactly once, after the last text fragment, on both success and failure.
type UsageCallback func(UsageReport)
