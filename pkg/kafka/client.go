// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"upload-validator-go/internal/config"
	"upload-validator-go/pkg/log"
	"upload-validator-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.UploadValidationTask) error
}

// AttemptCounter 记录每个上传的失败次数，用于决定何时放弃重试。
type AttemptCounter interface {
	Incr(ctx context.Context, uploadID string) (int64, error)
	Reset(ctx context.Context, uploadID string) error
}

// RedisAttemptCounter 是基于 Redis INCR 的 AttemptCounter 实现。
type RedisAttemptCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisAttemptCounter 创建一个新的 RedisAttemptCounter 实例。
func NewRedisAttemptCounter(rdb *redis.Client) *RedisAttemptCounter {
	return &RedisAttemptCounter{rdb: rdb, ttl: 24 * time.Hour}
}

func attemptsKey(uploadID string) string {
	return fmt.Sprintf("kafka:attempts:%s", uploadID)
}

// Incr 增加失败计数并刷新过期时间。
func (c *RedisAttemptCounter) Incr(ctx context.Context, uploadID string) (int64, error) {
	key := attemptsKey(uploadID)
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, key, c.ttl).Err()
	return attempts, nil
}

// Reset 清理失败计数。
func (c *RedisAttemptCounter) Reset(ctx context.Context, uploadID string) error {
	return c.rdb.Del(ctx, attemptsKey(uploadID)).Err()
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceUploadTask 发送一个上传校验任务到 Kafka，以 uploadID 作为消息 key。
func ProduceUploadTask(ctx context.Context, task tasks.UploadValidationTask) error {
	if producer == nil {
		return errors.New("kafka producer not initialised")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.UploadID),
		Value: taskBytes,
	})
}

// CloseProducer 关闭生产者并刷新未发送的消息。
func CloseProducer() {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
}

// StartConsumers 在同一个消费者组内启动 cfg.Workers 个消费者，阻塞直到 ctx 被取消。
// 每个消费者串行处理消息，因此同时运行的校验流水线数量不会超过 Workers。
func StartConsumers(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	maxAttempts := int64(cfg.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := kafka.NewReader(kafka.ReaderConfig{
				Brokers:  brokerList(cfg.Brokers),
				Topic:    cfg.Topic,
				GroupID:  cfg.GroupID,
				MinBytes: 1,
				MaxBytes: 10e6, // 10MB
			})
			log.Infof("Kafka 消费者 #%d 已启动，正在监听主题 '%s'", worker, cfg.Topic)
			consume(ctx, r, processor, counter, maxAttempts)
			if err := r.Close(); err != nil {
				log.Errorf("关闭 Kafka 消费者 #%d 失败: %v", worker, err)
			}
		}(i)
	}
	wg.Wait()
}

// messageReader 是 consume 用到的 kafka.Reader 方法子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// retryBackoff 是同一条消息两次处理之间的基础等待时间，第 n 次重试等待 n 倍。
var retryBackoff = 2 * time.Second

// consume 串行处理消息。处理失败的消息在原地重试，直到成功或达到重试上限才提交 offset；
// kafka-go 的消费者组 Reader 不会重新投递未提交的消息，提交后面的 offset 会越过它。
func consume(ctx context.Context, r messageReader, processor TaskProcessor, counter AttemptCounter, maxAttempts int64) {
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		log.Infof("收到 Kafka 消息: partition %d offset %d", m.Partition, m.Offset)

		for retry := 1; !handleMessage(ctx, m, processor, counter, maxAttempts); retry++ {
			select {
			case <-ctx.Done():
				// 未提交的消息在重启后由消费者组从已提交的 offset 重新读取
				return
			case <-time.After(retryBackoff * time.Duration(retry)):
			}
		}
		if err := r.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handleMessage 处理一条消息并返回是否应提交 offset。处理失败且未达到重试上限时返回 false。
// 流水线在不可取消的上下文中运行，停机只会阻止领取新消息，不会中断正在写入的上传。
func handleMessage(ctx context.Context, m kafka.Message, processor TaskProcessor, counter AttemptCounter, maxAttempts int64) bool {
	var task tasks.UploadValidationTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.UploadID == "" {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return true
	}

	log.Infof("开始处理上传校验任务: UploadID=%s, StudyID=%s", task.UploadID, task.StudyID)
	if err := processor.Process(context.WithoutCancel(ctx), task); err != nil {
		log.Errorf("处理上传校验任务失败: UploadID=%s, Error: %v", task.UploadID, err)
		attempts, incErr := counter.Incr(context.Background(), task.UploadID)
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，稍后重试
			log.Warnf("记录重试次数失败: UploadID=%s, Error: %v", task.UploadID, incErr)
			return false
		}
		if attempts >= maxAttempts {
			log.Errorf("上传校验任务多次失败(>=%d)，提交 offset 终止重试: UploadID=%s", maxAttempts, task.UploadID)
			_ = counter.Reset(context.Background(), task.UploadID)
			return true
		}
		return false
	}

	log.Infof("上传校验任务处理完成: UploadID=%s", task.UploadID)
	_ = counter.Reset(context.Background(), task.UploadID)
	return true
}

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
