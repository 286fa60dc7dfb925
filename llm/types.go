// Package llm provides the multimodal model-service client.
package llm

import "fmt"

// MediaResolution is the coarse quality tier controlling how much
// detail the model extracts from image inputs.
type MediaResolution string

const (
	ResolutionLow    MediaResolution = "low"
	ResolutionMedium MediaResolution = "medium"
	ResolutionHigh   MediaResolution = "high"
)

// FileRef points at a file already uploaded to the model's file service.
// IsROI marks a freshly rendered high-resolution crop; such refs force
// the high media-resolution tier on subsequent calls.
type FileRef struct {
	URI         string `json:"uri"`
	MIMEType    string `json:"mime_type"`
	DisplayName string `json:"display_name,omitempty"`
	IsROI       bool   `json:"is_roi,omitempty"`
}

// Usage holds token counts extracted from response metadata.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// StructuredRequest describes one structured-generation call.
type StructuredRequest struct {
	Model           string
	SystemPrompt    string
	UserText        string
	FileRefs        []FileRef
	Schema          map[string]any
	ThinkingLevel   string
	ThinkingBudget  int32 // 0 means unset
	MediaResolution MediaResolution
}

// FileInfo describes a file stored in the model's file service.
type FileInfo struct {
	Name        string `json:"name"`
	URI         string `json:"uri"`
	MIMEType    string `json:"mime_type"`
	DisplayName string `json:"display_name,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// StreamEvent is one chunk of a thoughts+text streaming generation.
type StreamEvent struct {
	Type             string // "thought", "text" or "usage"
	Content          string
	ThoughtSignature string
	Usage            *Usage
}

// ServiceError wraps a model-service failure with the operation that
// produced it. Transient transport errors are retried before one of
// these surfaces.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
