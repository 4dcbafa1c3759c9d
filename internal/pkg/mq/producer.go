package mq

import (
	"context"
	"fmt"
	"time"

	"jito-bundler-sol/internal/pkg/logger"
	"jito-bundler-sol/internal/pkg/utils"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	defaultBatchSize = 32 * 1024
	defaultLingerMs  = 5
	metadataTimeout  = 10 * time.Second
)

// TopicSpec 需要确保存在的 topic
type TopicSpec struct {
	Topic      string
	Partitions int
}

type KafkaProducerOption struct {
	Brokers   string // Kafka broker 地址，多个用英文逗号分隔
	BatchSize int    // 批处理大小（单位字节）
	LingerMs  int    // 批处理最大延迟（毫秒）
	ClientID  string // 为空时使用 jito-bundler-<本机IP>
	Topics    []TopicSpec
}

// EnsureTopics 创建缺失的 topic，单 broker 时副本数为 1
func EnsureTopics(brokers string, topics []TopicSpec) error {
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer adminClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()

	meta, err := adminClient.GetMetadata(nil, true, int(metadataTimeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	replicationFactor := 1
	if len(meta.Brokers) > 1 {
		replicationFactor = 2
	}

	var toCreate []kafka.TopicSpecification
	for _, t := range topics {
		if _, ok := meta.Topics[t.Topic]; ok {
			continue
		}
		partitions := t.Partitions
		if partitions <= 0 {
			partitions = 1
		}
		toCreate = append(toCreate, kafka.TopicSpecification{
			Topic:             t.Topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
	}
	if len(toCreate) == 0 {
		return nil
	}

	logger.Infof("[mq] 创建 topic: %d 个, brokers=%d, replication=%d", len(toCreate), len(meta.Brokers), replicationFactor)
	results, err := adminClient.CreateTopics(ctx, toCreate)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	for _, result := range results {
		code := result.Error.Code()
		if code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", result.Topic, result.Error)
		}
	}
	return nil
}

// NewKafkaProducer 创建幂等 Kafka 生产者，并确保 topic 存在
func NewKafkaProducer(opt KafkaProducerOption) (*kafka.Producer, error) {
	if err := EnsureTopics(opt.Brokers, opt.Topics); err != nil {
		return nil, err
	}

	batchSize := opt.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lingerMs := opt.LingerMs
	if lingerMs < 0 {
		lingerMs = defaultLingerMs
	}

	clientID := opt.ClientID
	if clientID == "" {
		localIP, _ := utils.GetLocalIP()
		if localIP == "" {
			localIP = "unknown"
		}
		clientID = fmt.Sprintf("jito-bundler-%s", localIP)
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": opt.Brokers,
		"client.id":         clientID,

		// 可靠性保障
		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5, // 幂等场景下最大值为 5

		// 超时与重试
		"delivery.timeout.ms": 30000,
		"request.timeout.ms":  30000,
		"retries":             5,
		"retry.backoff.ms":    100,

		"batch.size":       batchSize,
		"linger.ms":        lingerMs,
		"compression.type": "none",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return producer, nil
}
