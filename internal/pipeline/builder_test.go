package pipeline

import (
	"context"
	"testing"
	"time"
	"upload-validator-go/internal/config"
	"upload-validator-go/internal/model"
	"upload-validator-go/pkg/cryptox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineHarness struct {
	store        *memStore
	schemas      *fakeSchemas
	dedupe       *fakeDedupe
	records      *fakeRecords
	participants *fakeParticipants
	status       *fakeStatusWriter
	decryptor    *cryptox.StudyDecryptor
	cfg          config.UploadConfig
}

func newPipelineHarness(t *testing.T, schemas ...*model.UploadSchema) *pipelineHarness {
	t.Helper()
	decryptor, err := cryptox.NewStudyDecryptor("test-master-secret")
	require.NoError(t, err)
	return &pipelineHarness{
		store:   newMemStore(),
		schemas: newFakeSchemas(schemas...),
		dedupe:  newFakeDedupe(),
		records: newFakeRecords(),
		participants: &fakeParticipants{participants: map[string]*model.Participant{
			testHealthCode: {HealthCode: testHealthCode, StudyID: testStudyID, ExternalID: "ext-1",
				SharingScope: model.SharingScopeAllQualifiedResearchers, DataGroups: []string{"group-a"}},
		}},
		status:    &fakeStatusWriter{},
		decryptor: decryptor,
		cfg:       testUploadConfig(),
	}
}

// stage 加密并放入上传 bucket。
func (h *pipelineHarness) stage(t *testing.T, upload *model.Upload, files map[string]string) {
	t.Helper()
	encrypted, err := h.decryptor.Encrypt(upload.StudyID, buildZip(t, files))
	require.NoError(t, err)
	require.NoError(t, h.store.Write(context.Background(), testUploadBucket, upload.ObjectKey, encrypted))
}

func (h *pipelineHarness) run(study model.StudySettings, upload *model.Upload) (model.UploadStatus, *Context) {
	task := NewValidationTask(Dependencies{
		Store:            h.store,
		Decryptor:        h.decryptor,
		Schemas:          h.schemas,
		Dedupe:           h.dedupe,
		Records:          h.records,
		Participants:     h.participants,
		Uploads:          h.status,
		UploadBucket:     testUploadBucket,
		AttachmentBucket: testAttachmentBucket,
		Config:           h.cfg,
	})
	vctx := NewContext(upload, study)
	return task.Run(context.Background(), vctx), vctx
}

func genericSchema() *model.UploadSchema {
	return &model.UploadSchema{
		StudyID:    testStudyID,
		SchemaID:   "tapping",
		Revision:   1,
		SchemaType: model.SchemaTypeIOSData,
		FieldDefinitions: []model.FieldDefinition{
			{Name: "foo", Type: model.FieldTypeString, Required: true},
			{Name: "taps.json", Type: model.FieldTypeAttachmentV2},
			{Name: "bar", Type: model.FieldTypeInt, Required: true},
		},
	}
}

const genericInfo = `{"format":"v2_generic","item":"tapping","schemaRevision":1,"createdOn":"2024-05-01T10:00:00.000-07:00","appVersion":"version 1.0, build 7","phoneInfo":"iPhone 15"}`

func TestScenarioA_GenericUploadSucceeds(t *testing.T) {
	h := newPipelineHarness(t, genericSchema())
	upload := testUpload()
	taps := `[{"x":1,"t":0.1},{"x":2,"t":0.2}]`
	h.stage(t, upload, map[string]string{
		"info.json": genericInfo,
		"data.json": `{"foo":"bar","bar":"12"}`,
		"taps.json": taps,
	})

	status, vctx := h.run(model.StudySettings{UploadValidationStrictness: model.StrictnessStrict}, upload)

	require.Equal(t, model.UploadStatusSucceeded, status, vctx.Messages())
	w := h.status.last(t)
	require.NotEmpty(t, w.recordID)
	assert.Empty(t, w.messages)

	record := h.records.records[w.recordID]
	require.NotNil(t, record)
	assert.Equal(t, "bar", record.Data["foo"])
	assert.Equal(t, int64(12), record.Data["bar"])
	assert.Equal(t, "tapping", record.SchemaID)
	assert.Equal(t, "version 1.0, build 7", record.AppVersion)
	assert.Equal(t, "iPhone 15", record.PhoneInfo)
	assert.Equal(t, model.SharingScopeAllQualifiedResearchers, record.UserSharingScope)
	assert.Equal(t, "ext-1", record.UserExternalID)
	assert.Equal(t, "2024-05-02", record.UploadDate)

	require.Len(t, h.records.attachments, 1)
	attachmentID := record.Data["taps.json"].(string)
	attachment := h.records.attachments[attachmentID]
	require.NotNil(t, attachment)
	assert.Equal(t, w.recordID, attachment.RecordID)
	stored, ok := h.store.get(testAttachmentBucket, attachmentID)
	require.True(t, ok)
	assert.Equal(t, taps, string(stored))
}

func TestScenarioB_StrictMissingFieldFails(t *testing.T) {
	h := newPipelineHarness(t, genericSchema())
	upload := testUpload()
	h.stage(t, upload, map[string]string{
		"info.json": genericInfo,
		"data.json": `{"foo":"bar"}`,
	})

	status, _ := h.run(model.StudySettings{StrictUploadValidationEnabled: true}, upload)

	assert.Equal(t, model.UploadStatusValidationFailed, status)
	w := h.status.last(t)
	require.Len(t, w.messages, 1)
	assert.Contains(t, w.messages[0], "Required field bar missing")
	assert.Empty(t, w.recordID)
	assert.Empty(t, h.records.records)
}

func TestScenarioC_WarningMissingFieldSucceeds(t *testing.T) {
	h := newPipelineHarness(t, genericSchema())
	upload := testUpload()
	h.stage(t, upload, map[string]string{
		"info.json": genericInfo,
		"data.json": `{"foo":"bar"}`,
	})

	status, _ := h.run(model.StudySettings{UploadValidationStrictness: model.StrictnessWarning, StrictUploadValidationEnabled: true}, upload)

	assert.Equal(t, model.UploadStatusSucceeded, status)
	w := h.status.last(t)
	assert.Contains(t, w.messages, "Required field bar missing")
	require.NotEmpty(t, w.recordID)
	assert.Contains(t, h.records.records, w.recordID)
}

func TestScenarioD_MalformedCreatedOnDefaultsToNow(t *testing.T) {
	now := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	fixNow(t, now)
	h := newPipelineHarness(t, genericSchema())
	upload := testUpload()
	h.stage(t, upload, map[string]string{
		"info.json": `{"format":"v2_generic","item":"tapping","schemaRevision":1,"createdOn":"last tuesday"}`,
		"data.json": `{"foo":"bar","bar":1}`,
	})

	status, vctx := h.run(model.StudySettings{UploadValidationStrictness: model.StrictnessStrict}, upload)

	assert.Equal(t, model.UploadStatusSucceeded, status)
	assert.Equal(t, now.UnixMilli(), vctx.Record.CreatedOn)
	assert.Contains(t, h.status.last(t).messages, "Invalid date-time: last tuesday")
}

func TestPipeline_UndecryptableUploadFails(t *testing.T) {
	h := newPipelineHarness(t, genericSchema())
	upload := testUpload()
	require.NoError(t, h.store.Write(context.Background(), testUploadBucket, upload.ObjectKey, []byte("definitely not ciphertext")))

	status, _ := h.run(model.StudySettings{}, upload)

	assert.Equal(t, model.UploadStatusValidationFailed, status)
	assert.Contains(t, h.status.last(t).messages[0], "could not be decrypted")
}

func TestPipeline_MissingObjectIsUnexpected(t *testing.T) {
	h := newPipelineHarness(t, genericSchema())

	status, _ := h.run(model.StudySettings{}, testUpload())

	assert.Equal(t, model.UploadStatusValidationFailed, status)
	assert.Equal(t, []string{"Unexpected error validating upload upload1"}, h.status.last(t).messages)
}

func TestPipeline_AttachmentWriteFailureAborts(t *testing.T) {
	h := newPipelineHarness(t, genericSchema())
	upload := testUpload()
	h.stage(t, upload, map[string]string{
		"info.json": genericInfo,
		"data.json": `{"foo":"bar","bar":1}`,
		"taps.json": `[1]`,
	})
	h.store.writeErr = errStore

	status, _ := h.run(model.StudySettings{}, upload)

	assert.Equal(t, model.UploadStatusValidationFailed, status)
	assert.Equal(t, []string{"Unexpected error validating upload upload1"}, h.status.last(t).messages)
	assert.Empty(t, h.records.records)
}

func TestPipeline_DuplicateIsReportedNotRejected(t *testing.T) {
	h := newPipelineHarness(t, genericSchema())
	study := model.StudySettings{}

	first := testUpload()
	h.stage(t, first, map[string]string{"info.json": genericInfo, "data.json": `{"foo":"bar","bar":1}`})
	status, _ := h.run(study, first)
	require.Equal(t, model.UploadStatusSucceeded, status)

	second := testUpload()
	second.ID, second.ObjectKey = "upload2", "upload2"
	h.stage(t, second, map[string]string{"info.json": genericInfo, "data.json": `{"foo":"bar","bar":1}`})
	status, _ = h.run(study, second)

	assert.Equal(t, model.UploadStatusSucceeded, status)
	require.Len(t, h.status.writes, 2)
	assert.Contains(t, h.status.writes[1].messages[0], "upload ID upload2 is a duplicate")
	assert.Len(t, h.dedupe.keys, 1)
}

func TestPipeline_PersistRawZipAndShadow(t *testing.T) {
	h := newPipelineHarness(t, genericSchema())
	h.cfg.PersistRawZip = true
	h.cfg.ShadowEnabled = true
	h.cfg.ShadowCandidateFormat = "v1_legacy"
	upload := testUpload()
	h.stage(t, upload, map[string]string{
		"info.json": genericInfo,
		"data.json": `{"foo":"bar","bar":1}`,
		"taps.json": `[1]`,
	})

	status, vctx := h.run(model.StudySettings{}, upload)

	require.Equal(t, model.UploadStatusSucceeded, status, vctx.Messages())
	w := h.status.last(t)
	record := h.records.records[w.recordID]
	assert.Equal(t, w.recordID+RawDataSuffix, record.RawDataAttachmentID)
	raw, ok := h.store.get(testAttachmentBucket, record.RawDataAttachmentID)
	require.True(t, ok)
	assert.Equal(t, vctx.DecryptedData, raw)
	// 候选步骤失败或结果不同都不会出现在用户可见的消息中。
	assert.Empty(t, w.messages)
}
