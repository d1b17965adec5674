package kafka

import (
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/config"
)

// Producer 把会话生命周期事件（message.received / conversation.handoff /
// conversation.closed ...）发到 kafka 供下游分析。发送失败只记日志，
// 绝不阻断或回滚触发它的业务操作。
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

type eventEnvelope struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	EmittedAt time.Time   `json:"emitted_at"`
}

func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	saramaCfg, err := NewSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, err
	}

	return &Producer{producer: producer, topic: cfg.Topic}, nil
}

// Publish 序列化并发送一条事件，key 用会话ID保证同会话事件有序
func (p *Producer) Publish(eventType string, key string, payload interface{}) {
	jsonValue, err := json.Marshal(eventEnvelope{
		Event:     eventType,
		Payload:   payload,
		EmittedAt: time.Now(),
	})
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", eventType, err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonValue),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		log.Printf("Failed to publish %s event: %v", eventType, err)
	}
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
