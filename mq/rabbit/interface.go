package rabbit

import "github.com/streadway/amqp"

// Channel is the part of *amqp.Channel the provider needs.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
}

type ChannelSource interface {
	Channel() (Channel, uint64, error)
}
