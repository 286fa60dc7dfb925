package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePayload(t *testing.T, raw string) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload
}

func TestDecodeReplyFinal(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "Готово.",
		"actions": [{"type": "final", "confidence": "high", "used_context_item_ids": ["doc-1"]}],
		"is_final": true
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)
	assert.Equal(t, "Готово.", reply.AssistantText)
	assert.True(t, reply.IsFinal)
	require.Len(t, reply.Actions, 1)

	info, ok := reply.Actions[0].Final()
	require.True(t, ok)
	assert.Equal(t, "high", info.Confidence)
	assert.Equal(t, []string{"doc-1"}, info.UsedContextItemIDs)
}

func TestDecodeReplyBlankTextSubstituted(t *testing.T) {
	payload := decodePayload(t, `{"assistant_text": "  \n ", "actions": [], "is_final": false}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)
	assert.Equal(t, EmptyAssistantText, reply.AssistantText)
}

func TestDecodeReplyUnknownActionType(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{"type": "launch_missiles"}],
		"is_final": false
	}`)

	_, err := DecodeReply(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch_missiles")
}

func TestRequestFilesItemsFlat(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{
			"type": "request_files",
			"items": [{"context_item_id": "crop-1", "kind": "crop", "reason": "размеры"}]
		}],
		"is_final": false
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)

	items := reply.Actions[0].RequestFilesItems()
	require.Len(t, items, 1)
	assert.Equal(t, "crop-1", items[0].ContextItemID)
	assert.Equal(t, "crop", items[0].Kind)
}

func TestRequestFilesItemsNestedPayload(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{
			"type": "request_files",
			"payload": {"items": [{"context_item_id": "crop-2"}]}
		}],
		"is_final": false
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)

	items := reply.Actions[0].RequestFilesItems()
	require.Len(t, items, 1)
	assert.Equal(t, "crop-2", items[0].ContextItemID)
}

func TestFlatTakesPrecedenceOverPayload(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{
			"type": "request_files",
			"items": [{"context_item_id": "flat-wins"}],
			"payload": {"items": [{"context_item_id": "nested-loses"}]}
		}],
		"is_final": false
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)

	items := reply.Actions[0].RequestFilesItems()
	require.Len(t, items, 1)
	assert.Equal(t, "flat-wins", items[0].ContextItemID)
}

func TestROIFlat(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{
			"type": "request_roi",
			"image_context_item_id": "page-3",
			"goal": "прочитать размер",
			"dpi": 600,
			"bbox_x1": 0.1, "bbox_y1": 0.2, "bbox_x2": 0.5, "bbox_y2": 0.6
		}],
		"is_final": false
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)

	roi, ok := reply.Actions[0].ROI()
	require.True(t, ok)
	assert.Equal(t, "page-3", roi.ContextItemID)
	assert.Equal(t, 600, roi.DPI)
	require.NotNil(t, roi.BBox)
	assert.InDelta(t, 0.1, roi.BBox.X1, 1e-9)
	assert.InDelta(t, 0.6, roi.BBox.Y2, 1e-9)
}

func TestROINestedPayload(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{
			"type": "request_roi",
			"payload": {
				"image_ref": {"context_item_id": "page-1"},
				"goal": "зумировать штамп",
				"suggested_bbox_norm": {"x1": 0.7, "y1": 0.8, "x2": 1.0, "y2": 1.0}
			}
		}],
		"is_final": false
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)

	roi, ok := reply.Actions[0].ROI()
	require.True(t, ok)
	assert.Equal(t, "page-1", roi.ContextItemID)
	assert.Equal(t, DefaultROIDPI, roi.DPI, "missing dpi should default")
	require.NotNil(t, roi.BBox)
	assert.InDelta(t, 0.7, roi.BBox.X1, 1e-9)
}

func TestROIWithoutBBox(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{"type": "request_roi", "image_context_item_id": "page-2"}],
		"is_final": false
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)

	roi, ok := reply.Actions[0].ROI()
	require.True(t, ok)
	assert.Nil(t, roi.BBox)
	assert.Equal(t, DefaultROIDPI, roi.DPI)
}

func TestROIWithoutImageRef(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{"type": "request_roi", "goal": "no target"}],
		"is_final": false
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)

	_, ok := reply.Actions[0].ROI()
	assert.False(t, ok, "ROI without an image id is unusable")
	assert.Nil(t, reply.Actions[0].BBox())
}

func TestBBoxFromNestedPayload(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{
			"type": "request_roi",
			"payload": {"suggested_bbox_norm": {"x1": 0.1, "y1": 0.2, "x2": 0.5, "y2": 0.6}}
		}],
		"is_final": false
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)

	box := reply.Actions[0].BBox()
	require.NotNil(t, box)
	assert.Equal(t, BBoxNorm{X1: 0.1, Y1: 0.2, X2: 0.5, Y2: 0.6}, *box)
}

func TestOpenImage(t *testing.T) {
	payload := decodePayload(t, `{
		"assistant_text": "x",
		"actions": [{"type": "open_image", "context_item_id": "img-1", "purpose": "показать узел"}],
		"is_final": false
	}`)

	reply, err := DecodeReply(payload)
	require.NoError(t, err)

	ref, ok := reply.Actions[0].OpenImage()
	require.True(t, ok)
	assert.Equal(t, "img-1", ref.ContextItemID)
	assert.Equal(t, "показать узел", ref.Purpose)
}

func TestAccessorsRejectWrongType(t *testing.T) {
	action := ModelAction{Type: ActionFinal}

	assert.Nil(t, action.RequestFilesItems())
	_, ok := action.OpenImage()
	assert.False(t, ok)
	_, ok = action.ROI()
	assert.False(t, ok)
}

func TestBBoxNormValid(t *testing.T) {
	assert.True(t, BBoxNorm{X1: 0, Y1: 0, X2: 1, Y2: 1}.Valid())
	assert.True(t, BBoxNorm{X1: 0.1, Y1: 0.2, X2: 0.3, Y2: 0.4}.Valid())
	assert.False(t, BBoxNorm{X1: 0.5, Y1: 0.5, X2: 0.5, Y2: 0.6}.Valid(), "zero width")
	assert.False(t, BBoxNorm{X1: 0.6, Y1: 0.1, X2: 0.4, Y2: 0.5}.Valid(), "inverted")
	assert.False(t, BBoxNorm{X1: -0.1, Y1: 0, X2: 0.5, Y2: 0.5}.Valid(), "out of range")
}

func TestFallbackReplyShape(t *testing.T) {
	reply := FallbackReply(assert.AnError)

	assert.Equal(t, ValidationFallbackText, reply.AssistantText)
	assert.False(t, reply.IsFinal)
	require.Len(t, reply.Actions, 1)
	assert.Equal(t, ActionRequestFiles, reply.Actions[0].Type)
	assert.Empty(t, reply.Actions[0].RequestFilesItems())
}
