// Gemini model-service client using the official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - File handle resolution and multimodal content assembly
// - Retry schedule for transient transport failures
package llm

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/akazantsev/drafter/internal/jsonx"
	"github.com/akazantsev/drafter/internal/retry"
)

// Text-like MIME types the file service rejects; coerced to text/plain.
var textLikeMIME = map[string]bool{
	"application/json": true,
	"text/html":        true,
	"text/csv":         true,
	"application/xml":  true,
}

// Display names with emojis are rejected by the file service.
var emojiPattern = regexp.MustCompile(`[\x{1F300}-\x{1F6FF}\x{1F900}-\x{1F9FF}\x{2600}-\x{27BF}]+`)

// Client wraps the Gemini API for structured generation and file
// management. Safe for concurrent use.
type Client struct {
	client *genai.Client
	logger *zap.Logger
}

// NewClient creates a Gemini client with the given API key.
func NewClient(ctx context.Context, apiKey string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	return &Client{client: client, logger: logger}, nil
}

// GenerateStructured invokes the model with a strict response-format
// constraint and returns the decoded payload plus usage metrics.
//
// Files are placed before the user text in the request contents; the
// model API requires that ordering for multimodal inputs. Transient
// transport errors are retried (3 attempts, 2s initial delay, 10s cap);
// any other failure is wrapped in a *ServiceError.
func (c *Client) GenerateStructured(ctx context.Context, req StructuredRequest) (map[string]any, *Usage, error) {
	contents, err := c.buildContents(ctx, req.FileRefs, req.UserText)
	if err != nil {
		return nil, nil, &ServiceError{Op: "generate_structured", Err: err}
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(1.0)),
		ResponseMIMEType: "application/json",
		MediaResolution:  toGenaiResolution(req.MediaResolution),
		ThinkingConfig:   thinkingConfig(req.ThinkingLevel, req.ThinkingBudget, false),
	}
	if req.Schema != nil {
		config.ResponseJsonSchema = req.Schema
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	modelID := strings.TrimPrefix(req.Model, "models/")

	c.logger.Info("generate_structured",
		zap.String("model", modelID),
		zap.Int("files", len(req.FileRefs)),
		zap.String("resolution", string(req.MediaResolution)))

	var response *genai.GenerateContentResponse
	err = retry.Do(ctx, retryOptions(c.logger), func(ctx context.Context) error {
		var callErr error
		response, callErr = c.client.Models.GenerateContent(ctx, modelID, contents, config)
		return callErr
	})
	if err != nil {
		return nil, nil, &ServiceError{Op: "generate_structured", Err: err}
	}

	usage := usageFromResponse(response)

	var result map[string]any
	if err := jsonx.Decode(response.Text(), &result); err != nil {
		return nil, usage, &ServiceError{Op: "generate_structured", Err: err}
	}

	return result, usage, nil
}

// GenerateSimple runs a plain text generation, optionally grounded on
// previously uploaded files.
func (c *Client) GenerateSimple(ctx context.Context, model, prompt string, fileURIs []string) (string, error) {
	refs := make([]FileRef, 0, len(fileURIs))
	for _, uri := range fileURIs {
		refs = append(refs, FileRef{URI: uri, MIMEType: "application/octet-stream"})
	}

	contents, err := c.buildContents(ctx, refs, prompt)
	if err != nil {
		return "", &ServiceError{Op: "generate_simple", Err: err}
	}

	modelID := strings.TrimPrefix(model, "models/")
	config := &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(1.0))}

	var response *genai.GenerateContentResponse
	err = retry.Do(ctx, retryOptions(c.logger), func(ctx context.Context) error {
		var callErr error
		response, callErr = c.client.Models.GenerateContent(ctx, modelID, contents, config)
		return callErr
	})
	if err != nil {
		return "", &ServiceError{Op: "generate_simple", Err: err}
	}

	return response.Text(), nil
}

// StreamThoughts streams a generation with thought summaries enabled,
// sending events to the channel. The channel is not closed by this
// method. Returns accumulated usage from the final chunks.
func (c *Client) StreamThoughts(ctx context.Context, req StructuredRequest, events chan<- StreamEvent) (*Usage, error) {
	contents, err := c.buildContents(ctx, req.FileRefs, req.UserText)
	if err != nil {
		return nil, &ServiceError{Op: "stream_thoughts", Err: err}
	}

	config := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(float32(1.0)),
		ThinkingConfig: thinkingConfig(req.ThinkingLevel, req.ThinkingBudget, true),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	modelID := strings.TrimPrefix(req.Model, "models/")
	c.logger.Info("stream_thoughts",
		zap.String("model", modelID),
		zap.String("thinking_level", req.ThinkingLevel))

	accumulated := &Usage{}
	for response, err := range c.client.Models.GenerateContentStream(ctx, modelID, contents, config) {
		if err != nil {
			return accumulated, &ServiceError{Op: "stream_thoughts", Err: err}
		}

		if u := usageFromResponse(response); u != nil {
			accumulated = u
		}

		if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
			continue
		}
		for _, part := range response.Candidates[0].Content.Parts {
			if part.Text == "" {
				continue
			}
			event := StreamEvent{Type: "text", Content: part.Text}
			if part.Thought {
				event.Type = "thought"
				if len(part.ThoughtSignature) > 0 {
					event.ThoughtSignature = string(part.ThoughtSignature)
				}
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return accumulated, ctx.Err()
			}
		}
	}

	if accumulated.TotalTokens > 0 {
		select {
		case events <- StreamEvent{Type: "usage", Usage: accumulated}:
		case <-ctx.Done():
			return accumulated, ctx.Err()
		}
	}

	return accumulated, nil
}

// UploadBytes uploads raw bytes to the model's file service and returns
// a reference usable in later generation calls.
func (c *Client) UploadBytes(ctx context.Context, data []byte, mimeType, displayName string) (FileRef, error) {
	mimeType = coerceMIME(mimeType)
	displayName = strings.TrimSpace(emojiPattern.ReplaceAllString(displayName, ""))

	var uploaded *genai.File
	err := retry.Do(ctx, retryOptions(c.logger), func(ctx context.Context) error {
		var callErr error
		uploaded, callErr = c.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
			MIMEType:    mimeType,
			DisplayName: displayName,
		})
		return callErr
	})
	if err != nil {
		return FileRef{}, &ServiceError{Op: "upload_bytes", Err: err}
	}

	c.logger.Info("file uploaded",
		zap.String("name", uploaded.Name),
		zap.String("display_name", displayName),
		zap.Int("size", len(data)))

	return FileRef{
		URI:         uploaded.URI,
		MIMEType:    uploaded.MIMEType,
		DisplayName: displayName,
	}, nil
}

// GetFile fetches file metadata by name or URI.
func (c *Client) GetFile(ctx context.Context, name string) (FileInfo, error) {
	file, err := c.client.Files.Get(ctx, fileNameFromURI(name), nil)
	if err != nil {
		return FileInfo{}, &ServiceError{Op: "get_file", Err: err}
	}
	return fileInfoFrom(file), nil
}

// ListFiles returns all files currently stored in the file service.
func (c *Client) ListFiles(ctx context.Context) ([]FileInfo, error) {
	var result []FileInfo
	for file, err := range c.client.Files.All(ctx) {
		if err != nil {
			return nil, &ServiceError{Op: "list_files", Err: err}
		}
		result = append(result, fileInfoFrom(file))
	}
	c.logger.Info("files listed", zap.Int("count", len(result)))
	return result, nil
}

// DeleteFile removes a file from the file service.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if _, err := c.client.Files.Delete(ctx, fileNameFromURI(name), nil); err != nil {
		return &ServiceError{Op: "delete_file", Err: err}
	}
	return nil
}

// buildContents resolves file refs to fresh handles and assembles the
// request contents with all files before the user text.
func (c *Client) buildContents(ctx context.Context, refs []FileRef, userText string) ([]*genai.Content, error) {
	var parts []*genai.Part

	for _, ref := range refs {
		if ref.URI == "" {
			continue
		}
		uri := ref.URI
		mimeType := ref.MIMEType

		file, err := c.client.Files.Get(ctx, fileNameFromURI(ref.URI), nil)
		if err != nil {
			// Stale or foreign handle; fall back to the stored ref.
			c.logger.Error("failed to get file",
				zap.String("uri", ref.URI), zap.Error(err))
		} else {
			if file.URI != "" {
				uri = file.URI
			}
			if file.MIMEType != "" {
				mimeType = file.MIMEType
			}
		}

		if mimeType == "application/json" {
			mimeType = "text/plain"
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		parts = append(parts, genai.NewPartFromURI(uri, mimeType))
	}

	if userText != "" {
		parts = append(parts, genai.NewPartFromText(userText))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty request contents")
	}

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

func retryOptions(logger *zap.Logger) retry.Options {
	opts := retry.DefaultOptions()
	opts.LogPrefix = "[GeminiClient] "
	opts.Logger = logger
	return opts
}

// fileNameFromURI extracts the file-service resource name from a full
// URI, e.g. "https://.../v1beta/files/abc-123" -> "files/abc-123".
func fileNameFromURI(uri string) string {
	if idx := strings.LastIndex(uri, "/files/"); idx != -1 {
		return "files/" + uri[idx+len("/files/"):]
	}
	return uri
}

func coerceMIME(mimeType string) string {
	if textLikeMIME[mimeType] {
		return "text/plain"
	}
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}

func toGenaiResolution(r MediaResolution) genai.MediaResolution {
	switch r {
	case ResolutionHigh:
		return genai.MediaResolutionHigh
	case ResolutionMedium:
		return genai.MediaResolutionMedium
	default:
		return genai.MediaResolutionLow
	}
}

// thinkingConfig maps the thinking level to a token budget when no
// explicit budget was given. -1 lets the model decide dynamically.
func thinkingConfig(level string, budget int32, includeThoughts bool) *genai.ThinkingConfig {
	cfg := &genai.ThinkingConfig{IncludeThoughts: includeThoughts}
	if budget > 0 {
		cfg.ThinkingBudget = genai.Ptr(budget)
		return cfg
	}
	switch level {
	case "high":
		cfg.ThinkingBudget = genai.Ptr(int32(-1))
	case "medium":
		cfg.ThinkingBudget = genai.Ptr(int32(8192))
	default:
		cfg.ThinkingBudget = genai.Ptr(int32(1024))
	}
	return cfg
}

func fileInfoFrom(file *genai.File) FileInfo {
	info := FileInfo{
		Name:        file.Name,
		URI:         file.URI,
		MIMEType:    file.MIMEType,
		DisplayName: file.DisplayName,
	}
	if file.SizeBytes != nil {
		info.SizeBytes = *file.SizeBytes
	}
	return info
}

func usageFromResponse(response *genai.GenerateContentResponse) *Usage {
	if response == nil || response.UsageMetadata == nil {
		return nil
	}
	return &Usage{
		InputTokens:  int(response.UsageMetadata.PromptTokenCount),
		OutputTokens: int(response.UsageMetadata.CandidatesTokenCount),
		TotalTokens:  int(response.UsageMetadata.TotalTokenCount),
	}
}

