package mq

import (
	"context"
	"errors"
	"time"

	"delegate-relay-sol/internal/types"
	"delegate-relay-sol/internal/utils"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// TransferRecord 事件中的一笔划转
type TransferRecord struct {
	Source      string
	Destination string
	Mint        string
	Amount      string // 最小单位
	UiAmount    string
}

// SettlementEvent 一次结算请求的结果事件
type SettlementEvent struct {
	Type         uint32 // utils.EventTypeSettlement / utils.EventTypeBatch
	RequestID    string
	Success      bool
	Signature    string
	ErrorKind    string
	ErrorMessage string
	Delegate     string
	Transfers    []TransferRecord
	Timestamp    int64
}

// Fields 转换为 structpb 可编码的字段集合
func (e SettlementEvent) Fields() map[string]any {
	transfers := make([]any, 0, len(e.Transfers))
	for _, t := range e.Transfers {
		transfers = append(transfers, map[string]any{
			"source":      t.Source,
			"destination": t.Destination,
			"mint":        t.Mint,
			"amount":      t.Amount,
			"uiAmount":    t.UiAmount,
		})
	}
	return map[string]any{
		"requestId":    e.RequestID,
		"success":      e.Success,
		"signature":    e.Signature,
		"errorKind":    e.ErrorKind,
		"errorMessage": e.ErrorMessage,
		"delegate":     e.Delegate,
		"transfers":    transfers,
		"timestamp":    float64(e.Timestamp),
	}
}

// Publisher 结算事件发布
type Publisher interface {
	Publish(ctx context.Context, event SettlementEvent) error
}

// NopPublisher 未配置 Kafka 时使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, SettlementEvent) error { return nil }

// KafkaPublisher 按首个源账户选分区，同一账户的事件保持有序
type KafkaPublisher struct {
	producer   Producer
	topic      string
	partitions uint32
	timeout    time.Duration
}

func NewKafkaPublisher(producer Producer, topic string, partitions int, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if partitions < 0 {
		partitions = 0
	}
	return &KafkaPublisher{
		producer:   producer,
		topic:      topic,
		partitions: uint32(partitions),
		timeout:    timeout,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event SettlementEvent) error {
	value, err := utils.EncodeStructEvent(event.Type, event.Fields())
	if err != nil {
		return err
	}

	job := &KafkaJob{Topic: p.topic, Partition: kafka.PartitionAny, Value: value}
	if len(event.Transfers) > 0 {
		job.Key = []byte(event.Transfers[0].Source)
		if src, err := types.TryPubkeyFromBase58(event.Transfers[0].Source); err == nil && p.partitions > 0 {
			job.Partition = int32(utils.PartitionHashBytes(src[:], p.partitions))
		}
	}

	_, failed := SendKafkaJobs(ctx, p.producer, []*KafkaJob{job}, p.timeout)
	if len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		for _, f := range failed {
			errs = append(errs, f.Err)
		}
		return errors.Join(errs...)
	}
	return nil
}
