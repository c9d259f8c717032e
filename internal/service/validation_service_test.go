package service

import (
	"context"
	"errors"
	"testing"
	"upload-validator-go/internal/config"
	"upload-validator-go/internal/model"
	"upload-validator-go/internal/pipeline"
	"upload-validator-go/internal/repository"
	"upload-validator-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUploadRepo 内嵌接口，只实现用到的方法。
type fakeUploadRepo struct {
	repository.UploadRepository
	uploads   map[string]*model.Upload
	getErr    error
	marked    []string
	statuses  []model.UploadStatus
	markedErr error
}

func newFakeUploadRepo(uploads ...*model.Upload) *fakeUploadRepo {
	f := &fakeUploadRepo{uploads: map[string]*model.Upload{}}
	for _, u := range uploads {
		f.uploads[u.ID] = u
	}
	return f
}

func (f *fakeUploadRepo) GetUpload(_ context.Context, uploadID string) (*model.Upload, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.uploads[uploadID]
	if !ok {
		return nil, repository.ErrUploadNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUploadRepo) MarkValidationInProgress(_ context.Context, uploadID string) error {
	if f.markedErr != nil {
		return f.markedErr
	}
	f.marked = append(f.marked, uploadID)
	f.uploads[uploadID].Status = model.UploadStatusValidationInProgress
	return nil
}

func (f *fakeUploadRepo) WriteValidationStatus(_ context.Context, upload *model.Upload, status model.UploadStatus, _ []string, _ string) error {
	f.statuses = append(f.statuses, status)
	upload.Status = status
	return nil
}

type fakeRunner struct {
	contexts []*pipeline.Context
	status   model.UploadStatus
}

func (f *fakeRunner) Run(_ context.Context, vctx *pipeline.Context) model.UploadStatus {
	f.contexts = append(f.contexts, vctx)
	return f.status
}

func upload(status model.UploadStatus) *model.Upload {
	return &model.Upload{ID: "u1", StudyID: "Study-A", HealthCode: "hc", Status: status}
}

func TestProcess_RunsPipelineWithStudySettings(t *testing.T) {
	repo := newFakeUploadRepo(upload(model.UploadStatusRequested))
	runner := &fakeRunner{status: model.UploadStatusSucceeded}
	studies := NewConfigStudyProvider(map[string]config.StudyConfig{
		"study-a": {UploadValidationStrictness: "report"},
	})
	svc := NewValidationService(repo, studies, runner, nil)

	require.NoError(t, svc.Process(context.Background(), tasks.UploadValidationTask{UploadID: "u1", StudyID: "Study-A"}))

	assert.Equal(t, []string{"u1"}, repo.marked)
	require.Len(t, runner.contexts, 1)
	vctx := runner.contexts[0]
	assert.Equal(t, model.StrictnessReport, vctx.Strictness)
	assert.Equal(t, model.UploadStatusValidationInProgress, vctx.Upload.Status)
}

func TestProcess_WithRealTaskWritesTerminalStatus(t *testing.T) {
	repo := newFakeUploadRepo(upload(model.UploadStatusValidationInProgress))
	task := pipeline.NewTask(repo, pipeline.HandlerFunc(func(context.Context, *pipeline.Context) error {
		return pipeline.NewValidationError("bad upload")
	}))
	svc := NewValidationService(repo, NewConfigStudyProvider(nil), task, nil)

	require.NoError(t, svc.Process(context.Background(), tasks.UploadValidationTask{UploadID: "u1"}))

	assert.Empty(t, repo.marked)
	assert.Equal(t, []model.UploadStatus{model.UploadStatusValidationFailed}, repo.statuses)
}

func TestProcess_SkipsTerminalAndMissingUploads(t *testing.T) {
	repo := newFakeUploadRepo(upload(model.UploadStatusSucceeded))
	runner := &fakeRunner{}
	svc := NewValidationService(repo, NewConfigStudyProvider(nil), runner, nil)

	require.NoError(t, svc.Process(context.Background(), tasks.UploadValidationTask{UploadID: "u1"}))
	require.NoError(t, svc.Process(context.Background(), tasks.UploadValidationTask{UploadID: "missing"}))

	assert.Empty(t, runner.contexts)
}

func TestProcess_LoadErrorIsRetried(t *testing.T) {
	repo := newFakeUploadRepo()
	repo.getErr = errors.New("db down")
	svc := NewValidationService(repo, NewConfigStudyProvider(nil), &fakeRunner{}, nil)

	err := svc.Process(context.Background(), tasks.UploadValidationTask{UploadID: "u1"})

	assert.ErrorIs(t, err, repo.getErr)
}

func TestRequestValidation_MarksAndEnqueues(t *testing.T) {
	repo := newFakeUploadRepo(upload(model.UploadStatusValidationFailed))
	var enqueued []tasks.UploadValidationTask
	svc := NewValidationService(repo, NewConfigStudyProvider(nil), &fakeRunner{}, func(_ context.Context, task tasks.UploadValidationTask) error {
		enqueued = append(enqueued, task)
		return nil
	})

	u, err := svc.RequestValidation(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusValidationInProgress, u.Status)
	assert.Equal(t, []string{"u1"}, repo.marked)
	assert.Equal(t, []tasks.UploadValidationTask{{UploadID: "u1", StudyID: "Study-A"}}, enqueued)
}

func TestRequestValidation_Errors(t *testing.T) {
	repo := newFakeUploadRepo(upload(model.UploadStatusRequested))
	enqueueErr := errors.New("kafka down")
	svc := NewValidationService(repo, NewConfigStudyProvider(nil), &fakeRunner{}, func(context.Context, tasks.UploadValidationTask) error {
		return enqueueErr
	})

	_, err := svc.RequestValidation(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrUploadNotFound)

	_, err = svc.RequestValidation(context.Background(), "u1")
	assert.ErrorIs(t, err, enqueueErr)
}

func TestConfigStudyProvider(t *testing.T) {
	p := NewConfigStudyProvider(map[string]config.StudyConfig{
		"legacy-study": {StrictUploadValidationEnabled: true, DefaultSchemaRevisions: map[string]int{"walk": 3}},
	})

	s := p.GetStudyConfig("Legacy-Study")
	assert.Equal(t, model.StrictnessStrict, s.ResolveStrictness())
	rev, ok := s.DefaultRevision("Walk")
	assert.True(t, ok)
	assert.Equal(t, 3, rev)

	assert.Equal(t, model.StrictnessWarning, p.GetStudyConfig("unknown").ResolveStrictness())
}

func (f *fakeUploadRepo) Create(_ context.Context, u *model.Upload) error {
	if _, ok := f.uploads[u.ID]; ok {
		return repository.ErrUploadExists
	}
	c := *u
	f.uploads[u.ID] = &c
	return nil
}

func TestRegisterUpload(t *testing.T) {
	repo := newFakeUploadRepo()
	var enqueued []tasks.UploadValidationTask
	svc := NewValidationService(repo, NewConfigStudyProvider(nil), &fakeRunner{}, func(_ context.Context, task tasks.UploadValidationTask) error {
		enqueued = append(enqueued, task)
		return nil
	})
	req := RegisterUploadRequest{UploadID: "u9", StudyID: "s", HealthCode: "hc", ContentLength: 10}

	u, err := svc.RegisterUpload(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusRequested, u.Status)
	assert.Equal(t, "u9", u.ObjectKey)
	assert.NotEmpty(t, u.UploadDate)
	assert.Contains(t, repo.uploads, "u9")
	assert.Equal(t, []tasks.UploadValidationTask{{UploadID: "u9", StudyID: "s"}}, enqueued)

	_, err = svc.RegisterUpload(context.Background(), req)
	assert.ErrorIs(t, err, repository.ErrUploadExists)
	assert.Len(t, enqueued, 1)
}
