package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	"upload-validator-go/internal/config"
	"upload-validator-go/internal/model"
	"upload-validator-go/internal/repository"

	"github.com/stretchr/testify/require"
)

const (
	testUploadBucket     = "uploads"
	testAttachmentBucket = "attachments"
	testStudyID          = "study"
	testHealthCode       = "hc-1"
)

var errStore = errors.New("store unavailable")

// memStore 是内存中的对象存储。
type memStore struct {
	objects  map[string][]byte
	writeErr error
	readErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Write(_ context.Context, bucket, key string, data []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.objects[bucket+"/"+key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Read(_ context.Context, bucket, key string) ([]byte, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return data, nil
}

func (s *memStore) get(bucket, key string) ([]byte, bool) {
	data, ok := s.objects[bucket+"/"+key]
	return data, ok
}

type fakeSchemas struct {
	byItem   map[string]*model.UploadSchema
	bySurvey map[string]*model.UploadSchema
	err      error
}

func newFakeSchemas(schemas ...*model.UploadSchema) *fakeSchemas {
	f := &fakeSchemas{byItem: map[string]*model.UploadSchema{}, bySurvey: map[string]*model.UploadSchema{}}
	for _, s := range schemas {
		if s.SurveyGUID != "" {
			f.bySurvey[fmt.Sprintf("%s:%d", s.SurveyGUID, s.SurveyCreatedOn)] = s
			continue
		}
		f.byItem[s.Key()] = s
	}
	return f
}

func (f *fakeSchemas) GetSchema(_ context.Context, studyID, schemaID string, revision int) (*model.UploadSchema, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.byItem[fmt.Sprintf("%s-%s-v%d", studyID, schemaID, revision)]
	if !ok {
		return nil, repository.ErrSchemaNotFound
	}
	return s, nil
}

func (f *fakeSchemas) GetSchemaForSurvey(_ context.Context, _ string, guid string, createdOn int64) (*model.UploadSchema, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.bySurvey[fmt.Sprintf("%s:%d", guid, createdOn)]
	if !ok {
		return nil, repository.ErrSchemaNotFound
	}
	return s, nil
}

type fakeDedupe struct {
	keys map[string]string
	err  error
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{keys: map[string]string{}}
}

func (f *fakeDedupe) IsDuplicate(_ context.Context, createdOn int64, healthCode, schemaKey string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.keys[fmt.Sprintf("%s:%d:%s", healthCode, createdOn, schemaKey)]
	return ok, nil
}

func (f *fakeDedupe) Register(_ context.Context, createdOn int64, healthCode, schemaKey, uploadID string) error {
	if f.err != nil {
		return f.err
	}
	key := fmt.Sprintf("%s:%d:%s", healthCode, createdOn, schemaKey)
	if _, ok := f.keys[key]; !ok {
		f.keys[key] = uploadID
	}
	return nil
}

type fakeRecords struct {
	records     map[string]*model.HealthDataRecord
	attachments map[string]*model.HealthDataAttachment
	nextID      int
	createErr   error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: map[string]*model.HealthDataRecord{}, attachments: map[string]*model.HealthDataAttachment{}}
}

func (f *fakeRecords) CreateOrUpdateRecord(_ context.Context, record *model.HealthDataRecord) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	if record.ID == "" {
		f.nextID++
		record.ID = fmt.Sprintf("record-%d", f.nextID)
	} else {
		record.Version++
	}
	f.records[record.ID] = record.Clone()
	return record.ID, nil
}

func (f *fakeRecords) CreateOrUpdateAttachment(_ context.Context, attachment *model.HealthDataAttachment) (string, error) {
	if attachment.ID == "" {
		f.nextID++
		attachment.ID = fmt.Sprintf("attachment-%d", f.nextID)
	}
	c := *attachment
	f.attachments[attachment.ID] = &c
	return attachment.ID, nil
}

func (f *fakeRecords) GetRecordByID(_ context.Context, id string) (*model.HealthDataRecord, error) {
	r, ok := f.records[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return r.Clone(), nil
}

type fakeParticipants struct {
	participants map[string]*model.Participant
	err          error
}

func (f *fakeParticipants) GetParticipant(_ context.Context, _ string, healthCode string) (*model.Participant, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.participants[healthCode]
	if !ok {
		return nil, repository.ErrParticipantNotFound
	}
	return p, nil
}

type statusWrite struct {
	status   model.UploadStatus
	messages []string
	recordID string
}

type fakeStatusWriter struct {
	writes []statusWrite
	err    error
}

func (f *fakeStatusWriter) WriteValidationStatus(_ context.Context, _ *model.Upload, status model.UploadStatus, messages []string, recordID string) error {
	f.writes = append(f.writes, statusWrite{status: status, messages: messages, recordID: recordID})
	return f.err
}

func (f *fakeStatusWriter) last(t *testing.T) statusWrite {
	t.Helper()
	require.Len(t, f.writes, 1)
	return f.writes[0]
}

func testUploadConfig() config.UploadConfig {
	return config.UploadConfig{
		InlineFieldWarnBytes: 10 * 1024,
		InlineFieldMaxBytes:  100 * 1024,
		ParsedJSONWarnBytes:  5 * 1024 * 1024,
		ParsedJSONMaxBytes:   20 * 1024 * 1024,
		DataFileMaxBytes:     2 * 1024 * 1024,
		SurveyAnswerMaxBytes: 10 * 1024,
		MaxZipEntries:        100,
		MaxUnzippedBytes:     100 * 1024 * 1024,
	}
}

func testUpload() *model.Upload {
	return &model.Upload{
		ID:          "upload1",
		StudyID:     testStudyID,
		HealthCode:  testHealthCode,
		ObjectKey:   "upload1",
		Status:      model.UploadStatusValidationInProgress,
		UploadDate:  "2024-05-02",
		RequestedOn: time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range sortedKeys(files) {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func fixNow(t *testing.T, now time.Time) {
	t.Helper()
	orig := nowFunc
	nowFunc = func() time.Time { return now }
	t.Cleanup(func() { nowFunc = orig })
}

func intPtr(v int) *int { return &v }

// newTestContext 构造一个已经完成解压与 JSON 解析的 Context，供字段提取相关测试使用。
func newTestContext(t *testing.T, study model.StudySettings, files map[string]string) *Context {
	t.Helper()
	vctx := NewContext(testUpload(), study)
	for name, content := range files {
		vctx.UnzippedFiles[name] = []byte(content)
	}
	require.NoError(t, NewParseJSONHandler(testUploadConfig()).Handle(context.Background(), vctx))
	require.NoError(t, NewInitRecordHandler().Handle(context.Background(), vctx))
	return vctx
}
