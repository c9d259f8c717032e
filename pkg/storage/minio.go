// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"upload-validator-go/internal/config"
	"upload-validator-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore 是流水线使用的对象存储接口。
type ObjectStore interface {
	Write(ctx context.Context, bucket, key string, data []byte) error
	Read(ctx context.Context, bucket, key string) ([]byte, error)
}

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保上传与附件存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	for _, bucketName := range []string{cfg.UploadBucket, cfg.AttachmentBucket} {
		if err := ensureBucket(ctx, MinioClient, bucketName); err != nil {
			log.Fatal("检查或创建 MinIO 存储桶失败", err)
		}
	}
}

func ensureBucket(ctx context.Context, client *minio.Client, bucketName string) error {
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}
	if exists {
		log.Infof("存储桶 '%s' 已存在", bucketName)
		return nil
	}
	log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
	if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
		return err
	}
	log.Infof("存储桶 '%s' 创建成功", bucketName)
	return nil
}

// MinioStore 是 ObjectStore 的 MinIO 实现。
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore 创建一个新的 MinioStore 实例。
func NewMinioStore(client *minio.Client) *MinioStore {
	return &MinioStore{client: client}
}

// Write 将数据完整写入指定对象。
func (s *MinioStore) Write(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("写入对象 %s/%s 失败: %w", bucket, key, err)
	}
	return nil
}

// Read 读取指定对象的全部内容。
func (s *MinioStore) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 失败: %w", bucket, key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 内容失败: %w", bucket, key, err)
	}
	return data, nil
}
