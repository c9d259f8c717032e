package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"upload-validator-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageRecorder struct {
	messages []string
}

func (m *messageRecorder) AddMessage(msg string) {
	m.messages = append(m.messages, msg)
}

func TestSanitizeFieldName(t *testing.T) {
	assert.Equal(t, "accel_walking_outbound.json.items", SanitizeFieldName("accel_walking_outbound.json.items"))
	assert.Equal(t, "heart_rate__bpm_", SanitizeFieldName("heart rate (bpm)"))
	assert.Equal(t, "upload1-a_b.json", AttachmentKey("upload1", "a/b.json"))
}

func TestFindValueForField_AttachmentRoundTrip(t *testing.T) {
	store := newMemStore()
	h := NewFileHelper(store, testAttachmentBucket, testUploadConfig())
	content := []byte(`{"items":[1,2,3]}`)
	files := map[string][]byte{"accel walk.json": content}
	field := model.FieldDefinition{Name: "accel walk.json", Type: model.FieldTypeAttachmentV2}

	value, err := h.FindValueForField(context.Background(), "upload1", files, field, ParsedJSONCache{}, &messageRecorder{})

	require.NoError(t, err)
	assert.Equal(t, "upload1-accel_walk.json", value)
	stored, ok := store.get(testAttachmentBucket, value.(string))
	require.True(t, ok)
	assert.Equal(t, content, stored)
}

func TestFindValueForField_EmptyAttachmentHasNoValue(t *testing.T) {
	store := newMemStore()
	h := NewFileHelper(store, testAttachmentBucket, testUploadConfig())
	files := map[string][]byte{"empty.json": {}}
	field := model.FieldDefinition{Name: "empty.json", Type: model.FieldTypeAttachmentBlob}

	value, err := h.FindValueForField(context.Background(), "upload1", files, field, ParsedJSONCache{}, &messageRecorder{})

	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Empty(t, store.objects)
}

func TestFindValueForField_WhitespaceAttachmentIsWritten(t *testing.T) {
	store := newMemStore()
	h := NewFileHelper(store, testAttachmentBucket, testUploadConfig())
	files := map[string][]byte{"blank.txt": []byte("  \n")}
	field := model.FieldDefinition{Name: "blank.txt", Type: model.FieldTypeAttachmentBlob}

	value, err := h.FindValueForField(context.Background(), "upload1", files, field, ParsedJSONCache{}, &messageRecorder{})

	require.NoError(t, err)
	assert.Equal(t, "upload1-blank.txt", value)
	stored, ok := store.get(testAttachmentBucket, "upload1-blank.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("  \n"), stored)
}

func TestFindValueForField_AttachmentWriteFailure(t *testing.T) {
	store := newMemStore()
	store.writeErr = errStore
	h := NewFileHelper(store, testAttachmentBucket, testUploadConfig())
	files := map[string][]byte{"a.json": []byte(`[1]`)}
	field := model.FieldDefinition{Name: "a.json", Type: model.FieldTypeAttachmentBlob}

	_, err := h.FindValueForField(context.Background(), "upload1", files, field, ParsedJSONCache{}, &messageRecorder{})

	require.Error(t, err)
	assert.ErrorIs(t, err, errStore)
	assert.False(t, IsValidationError(err))
}

func TestFindValueForField_DryRunSkipsWrite(t *testing.T) {
	store := newMemStore()
	h := NewFileHelper(store, testAttachmentBucket, testUploadConfig()).DryRun()
	files := map[string][]byte{"a.json": []byte(`[1]`)}
	field := model.FieldDefinition{Name: "a.json", Type: model.FieldTypeAttachmentBlob}

	value, err := h.FindValueForField(context.Background(), "upload1", files, field, ParsedJSONCache{}, &messageRecorder{})

	require.NoError(t, err)
	assert.Equal(t, "upload1-a.json", value)
	assert.Empty(t, store.objects)
}

func TestFindValueForField_NestedKey(t *testing.T) {
	h := NewFileHelper(newMemStore(), testAttachmentBucket, testUploadConfig())
	files := map[string][]byte{
		"walk.json":       []byte(`{"steps":42,"summary":{"distance":1.5},"dotted.key":"v"}`),
		"walk.json.extra": []byte(`{"other":true}`),
		"unrelated.json":  []byte(`{"steps":1}`),
	}
	cache := ParsedJSONCache{}
	sink := &messageRecorder{}

	steps, err := h.FindValueForField(context.Background(), "u", files, model.FieldDefinition{Name: "walk.json.steps", Type: model.FieldTypeInt}, cache, sink)
	require.NoError(t, err)
	assert.Equal(t, json.Number("42"), steps)

	distance, err := h.FindValueForField(context.Background(), "u", files, model.FieldDefinition{Name: "walk.json.summary.distance", Type: model.FieldTypeFloat}, cache, sink)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1.5"), distance)

	dotted, err := h.FindValueForField(context.Background(), "u", files, model.FieldDefinition{Name: "walk.json.dotted.key", Type: model.FieldTypeString}, cache, sink)
	require.NoError(t, err)
	assert.Equal(t, "v", dotted)

	other, err := h.FindValueForField(context.Background(), "u", files, model.FieldDefinition{Name: "walk.json.extra.other", Type: model.FieldTypeBoolean}, cache, sink)
	require.NoError(t, err)
	assert.Equal(t, true, other, "longest matching file name wins")

	missing, err := h.FindValueForField(context.Background(), "u", files, model.FieldDefinition{Name: "walk.json.nope", Type: model.FieldTypeInt}, cache, sink)
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Contains(t, cache, "walk.json")
	assert.Empty(t, sink.messages)
}

func TestFindValueForField_NestedAttachmentIsWritten(t *testing.T) {
	store := newMemStore()
	h := NewFileHelper(store, testAttachmentBucket, testUploadConfig())
	files := map[string][]byte{"walk.json": []byte(`{"items":[{"x":1}]}`)}
	field := model.FieldDefinition{Name: "walk.json.items", Type: model.FieldTypeAttachmentJSONTable}

	value, err := h.FindValueForField(context.Background(), "u", files, field, ParsedJSONCache{}, &messageRecorder{})

	require.NoError(t, err)
	assert.Equal(t, "u-walk.json.items", value)
	stored, ok := store.get(testAttachmentBucket, "u-walk.json.items")
	require.True(t, ok)
	assert.JSONEq(t, `[{"x":1}]`, string(stored))
}

func TestFindValueForField_InlineSizeLimits(t *testing.T) {
	cfg := testUploadConfig()
	cfg.InlineFieldWarnBytes = 10
	cfg.InlineFieldMaxBytes = 20
	store := newMemStore()
	h := NewFileHelper(store, testAttachmentBucket, cfg)

	small := map[string][]byte{"f.json": []byte(`"abc"`)}
	medium := map[string][]byte{"f.json": []byte(`"` + strings.Repeat("a", 15) + `"`)}
	large := map[string][]byte{"f.json": []byte(`"` + strings.Repeat("a", 30) + `"`)}
	field := model.FieldDefinition{Name: "f.json", Type: model.FieldTypeString}

	sink := &messageRecorder{}
	v, err := h.FindValueForField(context.Background(), "u", small, field, ParsedJSONCache{}, sink)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
	assert.Empty(t, sink.messages)

	sink = &messageRecorder{}
	v, err = h.FindValueForField(context.Background(), "u", medium, field, ParsedJSONCache{}, sink)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 15), v)
	require.Len(t, sink.messages, 1)
	assert.Contains(t, sink.messages[0], "warning threshold")

	sink = &messageRecorder{}
	v, err = h.FindValueForField(context.Background(), "u", large, field, ParsedJSONCache{}, sink)
	require.NoError(t, err)
	assert.Nil(t, v)
	require.Len(t, sink.messages, 1)
	assert.Contains(t, sink.messages[0], "exceeds the inline limit")
	assert.Empty(t, store.objects, "oversized inline values never become attachments")
}

func TestFindValueForField_NonJSONFileIsString(t *testing.T) {
	h := NewFileHelper(newMemStore(), testAttachmentBucket, testUploadConfig())
	files := map[string][]byte{"note.txt": []byte("hello world")}

	v, err := h.FindValueForField(context.Background(), "u", files, model.FieldDefinition{Name: "note.txt", Type: model.FieldTypeString}, ParsedJSONCache{}, &messageRecorder{})

	require.NoError(t, err)
	assert.Equal(t, "hello world", v)
}

func TestFindValueForField_UnparseableContainerIsCached(t *testing.T) {
	h := NewFileHelper(newMemStore(), testAttachmentBucket, testUploadConfig())
	files := map[string][]byte{"walk.json": []byte(`not json`)}
	cache := ParsedJSONCache{}

	v, err := h.FindValueForField(context.Background(), "u", files, model.FieldDefinition{Name: "walk.json.steps", Type: model.FieldTypeInt}, cache, &messageRecorder{})

	require.NoError(t, err)
	assert.Nil(t, v)
	obj, ok := cache["walk.json"]
	assert.True(t, ok)
	assert.Nil(t, obj)
}
