package mq

import amqp "github.com/rabbitmq/amqp091-go"

func NewConnection(url string) (*amqp.Connection, error) {
	return amqp.Dial(url)
}

// OpenTopicChannel opens a channel with a durable topic exchange declared on it.
func OpenTopicChannel(conn *amqp.Connection, exchange string) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}
