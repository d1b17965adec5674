package kafka

import (
	"github.com/IBM/sarama"
)

// OriginInterceptor 给每条出站事件打上来源标头，方便下游区分多套环境
type OriginInterceptor struct{}

func (i *OriginInterceptor) OnSend(msg *sarama.ProducerMessage) {
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte("origin"),
		Value: []byte("support-engine"),
	})
}

func NewOriginInterceptor() *OriginInterceptor {
	return &OriginInterceptor{}
}
