package mq

import (
	"context"
	"fmt"
	"time"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/pkg/logger"
	pkgmq "jito-bundler-sol/internal/pkg/mq"
	"jito-bundler-sol/internal/pkg/types"
	"jito-bundler-sol/internal/pkg/utils"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// 事件类型，写在消息前 4 字节
const (
	EventBundleResult uint32 = 1
)

// ResultPublisher 把运行结果发送到 Kafka，同一付款账户的事件落在同一分区
type ResultPublisher struct {
	producer   Producer
	topic      string
	partitions int
	timeout    time.Duration
	close      func()
}

// NewResultPublisher 连接 Kafka 并确保 topic 存在
func NewResultPublisher(cfg config.KafkaProducerConfig) (*ResultPublisher, error) {
	producer, err := pkgmq.NewKafkaProducer(pkgmq.KafkaProducerOption{
		Brokers:   cfg.Brokers,
		BatchSize: cfg.BatchSize,
		LingerMs:  cfg.LingerMs,
		Topics:    []pkgmq.TopicSpec{{Topic: cfg.Topic, Partitions: cfg.Partitions}},
	})
	if err != nil {
		return nil, err
	}
	p := newResultPublisher(producer, cfg.Topic, cfg.Partitions, cfg.SendTimeout())
	p.close = func() {
		producer.Flush(int(cfg.SendTimeout().Milliseconds()))
		producer.Close()
	}
	go drainEvents(producer)
	return p, nil
}

func newResultPublisher(producer Producer, topic string, partitions int, timeout time.Duration) *ResultPublisher {
	return &ResultPublisher{
		producer:   producer,
		topic:      topic,
		partitions: partitions,
		timeout:    timeout,
	}
}

// Publish 同步发送一条结果事件并等待 ack
func (p *ResultPublisher) Publish(ctx context.Context, key types.Pubkey, fields map[string]any) error {
	value, err := utils.EncodeStructEvent(EventBundleResult, fields)
	if err != nil {
		return err
	}
	job := &KafkaJob{
		Topic:     p.topic,
		Partition: kafka.PartitionAny,
		Key:       key[:],
		Value:     value,
	}
	if p.partitions > 0 {
		job.Partition = int32(utils.PartitionHashBytes(key[:], uint32(p.partitions)))
	}

	_, failed := SendKafkaJobs(ctx, p.producer, []*KafkaJob{job}, p.timeout)
	if len(failed) > 0 {
		return fmt.Errorf("publish bundle result: %w", failed[0].Err)
	}
	return nil
}

func (p *ResultPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}

// drainEvents 消费 producer 的全局事件通道（错误日志等），直到通道关闭
func drainEvents(producer *kafka.Producer) {
	for e := range producer.Events() {
		if kerr, ok := e.(kafka.Error); ok {
			logger.Warnf("[ResultPublisher] kafka 错误: %v", kerr)
		}
	}
}
