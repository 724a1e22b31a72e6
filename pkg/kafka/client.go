// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"syntax-ai-go/internal/config"
	"syntax-ai-go/pkg/log"
	"syntax-ai-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是同一事件处理失败后放弃重试的次数。
const maxAttempts = 3

// EventProcessor defines the interface for any service that can process a script event.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type EventProcessor interface {
	Process(ctx context.Context, event tasks.ScriptEvent) error
}

// Producer 把脚本事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// PublishScriptEvent 发送一个脚本事件到 Kafka。
func (p *Producer) PublishScriptEvent(ctx context.Context, event tasks.ScriptEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Key()),
		Value: eventBytes,
	})
}

// Close 关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
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

// Consumer 消费脚本事件并交给 EventProcessor 处理，失败次数记录在 Redis 中。
type Consumer struct {
	reader    *kafka.Reader
	processor EventProcessor
	rdb       *redis.Client
}

// NewConsumer 创建一个消费者。
func NewConsumer(cfg config.KafkaConfig, processor EventProcessor, rdb *redis.Client) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokerList(cfg.Brokers),
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,    // 事件体积小，尽快交付
			MaxBytes: 10e6, // 10MB
		}),
		processor: processor,
		rdb:       rdb,
	}
}

// Run 循环拉取消息直到 ctx 结束或读取失败。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)

fetch:
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		if !processWithRetry(ctx, c.processor, c.rdb, m.Value) {
			break fetch
		}
		if err := c.reader.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := c.reader.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// retryBackoff 返回第 retry 次失败后的等待时间。
var retryBackoff = func(retry int) time.Duration {
	return time.Duration(retry) * time.Second
}

// processWithRetry 在同一分区内按顺序处理一条消息：失败时原地重试，
// 最多 maxAttempts 次（Redis 计数不可用时以本地计数为准）。
// 只有 ctx 结束时返回 false，此时不应提交 offset。
func processWithRetry(ctx context.Context, processor EventProcessor, rdb *redis.Client, value []byte) bool {
	for retry := 1; !handleMessage(ctx, processor, rdb, value); retry++ {
		if retry >= maxAttempts {
			log.Errorf("脚本事件本地重试达到上限(%d)，提交 offset", maxAttempts)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryBackoff(retry)):
		}
	}
	return true
}

// handleMessage 处理一条消息，返回是否应当提交 offset。
func handleMessage(ctx context.Context, processor EventProcessor, rdb *redis.Client, value []byte) bool {
	var event tasks.ScriptEvent
	if err := json.Unmarshal(value, &event); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		// 消息格式错误，直接提交，避免阻塞队列
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s", event.Key())
	log.Infof("开始处理脚本事件: type=%s, script=%s", event.Type, event.ScriptID)
	if err := processor.Process(ctx, event); err != nil {
		log.Errorf("处理脚本事件失败: script=%s, Error: %v", event.ScriptID, err)
		attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return false
		}
		_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("脚本事件多次失败(>=%d)，提交 offset 终止重试: script=%s", maxAttempts, event.ScriptID)
			_ = rdb.Del(ctx, attemptsKey).Err()
			return true
		}
		return false
	}

	log.Infof("脚本事件处理成功: script=%s", event.ScriptID)
	_ = rdb.Del(ctx, attemptsKey).Err()
	return true
}
