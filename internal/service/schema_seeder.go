package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"upload-validator-go/internal/model"
	"upload-validator-go/pkg/log"

	"gopkg.in/yaml.v3"
)

// SchemaSeedStore 是导入 schema 所需的存储操作。
type SchemaSeedStore interface {
	Exists(ctx context.Context, studyID, schemaID string, revision int) (bool, error)
	Create(ctx context.Context, schema *model.UploadSchema) error
}

// SeedSchemas 扫描目录下的 YAML 文件并导入其中的 schema（幂等）。
// 已存在的 (studyId, schemaId, revision) 直接跳过，schema 发布后不会被覆盖。
// 单个文件出错只记录日志，返回值为新导入的数量。
func SeedSchemas(ctx context.Context, dir string, store SchemaSeedStore) (int, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("SeedSchemas: 目录 '%s' 不存在或不可用，跳过 schema 导入", dir)
		return 0, nil
	}

	created := 0
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		schemas, err := loadSchemaFile(path)
		if err != nil {
			log.Warnf("SeedSchemas: 解析文件失败: %s, err=%v", path, err)
			return nil
		}
		for _, schema := range schemas {
			if err := schema.Validate(); err != nil {
				log.Warnf("SeedSchemas: schema 无效, 跳过: %s, err=%v", path, err)
				continue
			}
			exists, err := store.Exists(ctx, schema.StudyID, schema.SchemaID, schema.Revision)
			if err != nil {
				return fmt.Errorf("检查 schema %s 失败: %w", schema.Key(), err)
			}
			if exists {
				log.Debugf("SeedSchemas: 已存在，跳过: %s", schema.Key())
				continue
			}
			if err := store.Create(ctx, schema); err != nil {
				return fmt.Errorf("创建 schema %s 失败: %w", schema.Key(), err)
			}
			created++
			log.Infof("SeedSchemas: 导入完成: %s", schema.Key())
		}
		return nil
	})
	return created, walkErr
}

// loadSchemaFile 一个文件可以包含多个以 --- 分隔的 schema 文档。
func loadSchemaFile(path string) ([]*model.UploadSchema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var schemas []*model.UploadSchema
	dec := yaml.NewDecoder(f)
	for {
		var schema model.UploadSchema
		if err := dec.Decode(&schema); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		schemas = append(schemas, &schema)
	}
	return schemas, nil
}
