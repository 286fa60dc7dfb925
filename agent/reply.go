// Model reply types.
//
// The wire format has two encodings for actions: a flat one with fields
// at the action's top level, and a legacy nested "payload" one. Both
// decode into ModelAction; the accessor methods check flat fields first
// and fall back to the payload, so business logic never branches on raw
// map shape.
package agent

import (
	"encoding/json"
	"fmt"
)

// ActionType is the model action discriminator.
type ActionType string

const (
	ActionRequestFiles ActionType = "request_files"
	ActionOpenImage    ActionType = "open_image"
	ActionRequestROI   ActionType = "request_roi"
	ActionFinal        ActionType = "final"
)

// EmptyAssistantText substitutes for a blank assistant_text field.
const EmptyAssistantText = "Ответ пустой"

// DefaultROIDPI is used when the model does not request a resolution.
const DefaultROIDPI = 400

// RequestFilesItem is one requested catalog resource.
type RequestFilesItem struct {
	ContextItemID string `json:"context_item_id"`
	Kind          string `json:"kind,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Priority      string `json:"priority,omitempty"`
	CropID        string `json:"crop_id,omitempty"`
}

// OpenImageRef identifies an image the model wants shown to the user.
type OpenImageRef struct {
	ContextItemID string
	Purpose       string
}

// BBoxNorm is a normalized bounding box, each coordinate in [0,1].
type BBoxNorm struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether all coordinates lie in [0,1] and the box has
// positive area.
func (b BBoxNorm) Valid() bool {
	inRange := func(v float64) bool { return v >= 0 && v <= 1 }
	return inRange(b.X1) && inRange(b.Y1) && inRange(b.X2) && inRange(b.Y2) &&
		b.X2 > b.X1 && b.Y2 > b.Y1
}

// ROIRequest is a request to zoom into a region of a catalog image.
// BBox is nil when the model did not supply coordinates; resolving such
// a request needs a human to draw the box.
type ROIRequest struct {
	ContextItemID string
	Goal          string
	DPI           int
	BBox          *BBoxNorm
}

// FinalInfo carries the metadata of an explicit final action.
type FinalInfo struct {
	Confidence         string
	UsedContextItemIDs []string
}

// ModelAction is the tagged union over the four action kinds. Flat
// fields take precedence over the nested payload when both are present.
type ModelAction struct {
	Type    ActionType     `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	Note    string         `json:"note,omitempty"`

	// Flat encoding fields.
	Items              []RequestFilesItem `json:"items,omitempty"`
	ContextItemID      string             `json:"context_item_id,omitempty"`
	Purpose            string             `json:"purpose,omitempty"`
	ImageContextItemID string             `json:"image_context_item_id,omitempty"`
	Goal               string             `json:"goal,omitempty"`
	DPI                int                `json:"dpi,omitempty"`
	BboxX1             *float64           `json:"bbox_x1,omitempty"`
	BboxY1             *float64           `json:"bbox_y1,omitempty"`
	BboxX2             *float64           `json:"bbox_x2,omitempty"`
	BboxY2             *float64           `json:"bbox_y2,omitempty"`
	Confidence         string             `json:"confidence,omitempty"`
	UsedContextItemIDs []string           `json:"used_context_item_ids,omitempty"`
}

// RequestFilesItems returns the requested items for a request_files
// action, from the flat encoding or the nested payload. Non-matching
// action types return nil.
func (a ModelAction) RequestFilesItems() []RequestFilesItem {
	if a.Type != ActionRequestFiles {
		return nil
	}
	if a.Items != nil {
		return a.Items
	}
	if a.Payload == nil {
		return nil
	}
	raw, ok := a.Payload["items"]
	if !ok {
		return nil
	}
	var items []RequestFilesItem
	if err := remarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// OpenImage returns the open_image reference, or false for other kinds.
func (a ModelAction) OpenImage() (OpenImageRef, bool) {
	if a.Type != ActionOpenImage {
		return OpenImageRef{}, false
	}
	if a.ContextItemID != "" {
		return OpenImageRef{ContextItemID: a.ContextItemID, Purpose: a.Purpose}, true
	}
	if a.Payload != nil {
		ref := OpenImageRef{
			ContextItemID: stringField(a.Payload, "context_item_id"),
			Purpose:       stringField(a.Payload, "purpose"),
		}
		if ref.ContextItemID != "" {
			return ref, true
		}
	}
	return OpenImageRef{}, false
}

// BBox returns the normalized bounding box of a request_roi action,
// from the flat coordinates or the nested payload, or nil when the
// model supplied none. Non-matching action types return nil.
func (a ModelAction) BBox() *BBoxNorm {
	if a.Type != ActionRequestROI {
		return nil
	}
	if a.BboxX1 != nil && a.BboxY1 != nil && a.BboxX2 != nil && a.BboxY2 != nil {
		return &BBoxNorm{X1: *a.BboxX1, Y1: *a.BboxY1, X2: *a.BboxX2, Y2: *a.BboxY2}
	}
	if a.Payload != nil {
		if rawBox, ok := a.Payload["suggested_bbox_norm"]; ok {
			var box BBoxNorm
			if err := remarshal(rawBox, &box); err == nil {
				return &box
			}
		}
	}
	return nil
}

// ROI returns the region-of-interest request, or false for other kinds.
func (a ModelAction) ROI() (ROIRequest, bool) {
	if a.Type != ActionRequestROI {
		return ROIRequest{}, false
	}

	req := ROIRequest{
		ContextItemID: a.ImageContextItemID,
		Goal:          a.Goal,
		DPI:           a.DPI,
		BBox:          a.BBox(),
	}

	// Legacy nested payload: {"image_ref": {"context_item_id": ...},
	// "goal": ..., "dpi": ...}.
	if req.ContextItemID == "" && a.Payload != nil {
		if imageRef, ok := a.Payload["image_ref"].(map[string]any); ok {
			req.ContextItemID = stringField(imageRef, "context_item_id")
		}
		if req.Goal == "" {
			req.Goal = stringField(a.Payload, "goal")
		}
		if req.DPI == 0 {
			if dpi, ok := numberField(a.Payload, "dpi"); ok {
				req.DPI = int(dpi)
			}
		}
	}

	if req.ContextItemID == "" {
		return ROIRequest{}, false
	}
	if req.DPI <= 0 {
		req.DPI = DefaultROIDPI
	}
	return req, true
}

// Final returns the final-action metadata, or false for other kinds.
func (a ModelAction) Final() (FinalInfo, bool) {
	if a.Type != ActionFinal {
		return FinalInfo{}, false
	}
	if a.Confidence != "" {
		return FinalInfo{Confidence: a.Confidence, UsedContextItemIDs: a.UsedContextItemIDs}, true
	}
	if a.Payload != nil {
		info := FinalInfo{Confidence: stringField(a.Payload, "confidence")}
		_ = remarshal(a.Payload["used_context_item_ids"], &info.UsedContextItemIDs)
		return info, true
	}
	return FinalInfo{}, true
}

// AsMap flattens the action into a plain map for callers that persist
// or transmit raw replies.
func (a ModelAction) AsMap() map[string]any {
	raw, _ := json.Marshal(a)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// ModelReply is the validated structured reply for one turn.
type ModelReply struct {
	AssistantText string        `json:"assistant_text"`
	Actions       []ModelAction `json:"actions"`
	IsFinal       bool          `json:"is_final"`
}

// DecodeReply validates a raw structured payload into a ModelReply.
// Blank assistant text is replaced with EmptyAssistantText; an unknown
// action type is a validation error.
func DecodeReply(payload map[string]any) (ModelReply, error) {
	var reply ModelReply
	if err := remarshal(payload, &reply); err != nil {
		return ModelReply{}, fmt.Errorf("invalid model reply: %w", err)
	}

	for i, action := range reply.Actions {
		switch action.Type {
		case ActionRequestFiles, ActionOpenImage, ActionRequestROI, ActionFinal:
		default:
			return ModelReply{}, fmt.Errorf("invalid model reply: action %d has unknown type %q", i, action.Type)
		}
	}

	if isBlank(reply.AssistantText) {
		reply.AssistantText = EmptyAssistantText
	}
	return reply, nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

func remarshal(in any, out any) error {
	if in == nil {
		return nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}
