package kafka

import "github.com/Shopify/sarama"

// channelHeader 消息所属频道；旧消息没有 header 时退回到 Key
const channelHeader = "channel"

// MessageHandler 收到一条频道消息
type MessageHandler func(channel string, value []byte)

func channelOf(msg *sarama.ConsumerMessage) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == channelHeader {
			return string(h.Value)
		}
	}
	return string(msg.Key)
}
