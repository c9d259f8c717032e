package repository

import (
	"context"
	"errors"
	"fmt"
	"upload-validator-go/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrSchemaNotFound 表示找不到对应的 schema，流水线将其视为校验失败。
	ErrSchemaNotFound = errors.New("upload schema not found")
	// ErrInvalidSchema 表示 schema 定义未通过校验。
	ErrInvalidSchema = errors.New("invalid upload schema")
)

// SchemaRepository 接口定义了 upload schema 的查询与发布操作。
type SchemaRepository interface {
	GetSchema(ctx context.Context, studyID, schemaID string, revision int) (*model.UploadSchema, error)
	GetSchemaForSurvey(ctx context.Context, studyID, surveyGUID string, surveyCreatedOn int64) (*model.UploadSchema, error)
	Exists(ctx context.Context, studyID, schemaID string, revision int) (bool, error)
	Create(ctx context.Context, schema *model.UploadSchema) error
}

type schemaRepository struct {
	db *gorm.DB
}

// NewSchemaRepository 创建一个新的 SchemaRepository 实例。
func NewSchemaRepository(db *gorm.DB) SchemaRepository {
	return &schemaRepository{db: db}
}

func (r *schemaRepository) first(ctx context.Context, query string, args ...interface{}) (*model.UploadSchema, error) {
	var schema model.UploadSchema
	err := r.db.WithContext(ctx).Where(query, args...).Order("revision desc").First(&schema).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSchemaNotFound
		}
		return nil, err
	}
	return &schema, nil
}

// GetSchema 按 (studyID, schemaID, revision) 查找 schema。
func (r *schemaRepository) GetSchema(ctx context.Context, studyID, schemaID string, revision int) (*model.UploadSchema, error) {
	return r.first(ctx, "study_id = ? AND schema_id = ? AND revision = ?", studyID, schemaID, revision)
}

// GetSchemaForSurvey 查找问卷发布时绑定的 schema。
func (r *schemaRepository) GetSchemaForSurvey(ctx context.Context, studyID, surveyGUID string, surveyCreatedOn int64) (*model.UploadSchema, error) {
	return r.first(ctx, "study_id = ? AND survey_guid = ? AND survey_created_on = ?", studyID, surveyGUID, surveyCreatedOn)
}

// Exists 判断指定 revision 是否已发布。
func (r *schemaRepository) Exists(ctx context.Context, studyID, schemaID string, revision int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.UploadSchema{}).
		Where("study_id = ? AND schema_id = ? AND revision = ?", studyID, schemaID, revision).
		Count(&count).Error
	return count > 0, err
}

// Create 校验并发布一个新的 schema revision。
func (r *schemaRepository) Create(ctx context.Context, schema *model.UploadSchema) error {
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return r.db.WithContext(ctx).Create(schema).Error
}
