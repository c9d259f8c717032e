package model

import (
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormschema "gorm.io/gorm/schema"
)

func validSchema(fields ...FieldDefinition) *UploadSchema {
	return &UploadSchema{
		StudyID:          "study",
		SchemaID:         "walk",
		Revision:         1,
		SchemaType:       SchemaTypeIOSData,
		FieldDefinitions: fields,
	}
}

func TestSanitizeFieldName(t *testing.T) {
	assert.Equal(t, "accel_walking_outbound.json.items", SanitizeFieldName("accel_walking_outbound.json.items"))
	assert.Equal(t, "heart_rate__bpm_", SanitizeFieldName("heart rate (bpm)"))
}

func TestUploadSchemaValidate_Accepts(t *testing.T) {
	s := validSchema(
		FieldDefinition{Name: "steps", Type: FieldTypeInt, Required: true},
		FieldDefinition{Name: "accel.json", Type: FieldTypeAttachmentJSONTable, FileExtension: ".json"},
	)
	assert.NoError(t, s.Validate())
}

func TestUploadSchemaValidate_RejectsDuplicateNames(t *testing.T) {
	s := validSchema(
		FieldDefinition{Name: "steps", Type: FieldTypeInt},
		FieldDefinition{Name: "steps", Type: FieldTypeString},
	)
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict in field names")
}

func TestUploadSchemaValidate_RejectsNamesEqualAfterSanitizing(t *testing.T) {
	s := validSchema(
		FieldDefinition{Name: "a b", Type: FieldTypeAttachmentBlob},
		FieldDefinition{Name: "a_b", Type: FieldTypeAttachmentBlob},
	)
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict in field names or sub-field names: a_b")
}

func TestUploadSchemaValidate_CollectsAllProblems(t *testing.T) {
	minV, maxV := 10, 5
	s := &UploadSchema{
		SchemaType: "bogus",
		FieldDefinitions: []FieldDefinition{
			{Name: " ", Type: FieldTypeInt},
			{Name: "x", Type: "nope"},
			{Name: "y", Type: FieldTypeInt, MinAppVersion: &minV, MaxAppVersion: &maxV},
			{Name: "z", Type: FieldTypeString, MimeType: "text/plain"},
		},
	}
	err := s.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"studyId must be specified",
		"schemaId must be specified",
		"revision must be positive",
		`unknown schemaType "bogus"`,
		"fieldDefinitions[0].name must be specified",
		`fieldDefinitions[1].type "nope" is not a valid field type`,
		"fieldDefinitions[2].minAppVersion can't be greater than maxAppVersion",
		"fieldDefinitions[3] fileExtension and mimeType are only valid for attachment types",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

var varcharWidth = regexp.MustCompile(`^varchar\((\d+)\)$`)

func columnWidth(t *testing.T, model interface{}, field string) int {
	t.Helper()
	s, err := gormschema.Parse(model, &sync.Map{}, gormschema.NamingStrategy{})
	require.NoError(t, err)
	f := s.LookUpField(field)
	require.NotNil(t, f, field)
	m := varcharWidth.FindStringSubmatch(string(f.DataType))
	require.NotNil(t, m, "%s has type %s", field, f.DataType)
	n, err := strconv.Atoi(m[1])
	require.NoError(t, err)
	return n
}

// FileHelper 写入的附件以 {uploadId}-{字段名} 作为附件 ID 登记。
func TestHealthDataAttachmentID_FitsUploadScopedKeys(t *testing.T) {
	uploadIDWidth := columnWidth(t, &Upload{}, "ID")
	fieldNameWidth := columnWidth(t, &HealthDataAttachment{}, "FieldName")
	attachmentIDWidth := columnWidth(t, &HealthDataAttachment{}, "ID")

	assert.GreaterOrEqual(t, attachmentIDWidth, uploadIDWidth+1+fieldNameWidth)
	key := "3f0b6c1e-8a4d-4b7e-9c2a-1d5e6f7a8b9c-taps.json"
	assert.LessOrEqual(t, len(key), attachmentIDWidth)
}
