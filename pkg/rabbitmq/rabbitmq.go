package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client 持有一个连接和一个通道，绑定到持久化工作队列。
// 被拒绝且不重新入队的消息经 <queue>.dlx 进入 <queue>.dlq
type Client struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewClient(url, queueName string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := declareTopology(ch, queueName); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Client{
		conn:  conn,
		ch:    ch,
		queue: queueName,
	}, nil
}

func declareTopology(ch *amqp.Channel, queueName string) error {
	dlxName := queueName + ".dlx"
	if err := ch.ExchangeDeclare(
		dlxName,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dlx: %w", err)
	}

	dlqName := queueName + ".dlq"
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq: %w", err)
	}

	// 死信沿用原队列名作为路由键
	if err := ch.QueueBind(dlqName, queueName, dlxName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": queueName,
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare a queue: %w", err)
	}
	return nil
}

func (c *Client) Queue() string {
	return c.queue
}

func (c *Client) Publish(ctx context.Context, messageID string, body []byte) error {
	return c.ch.PublishWithContext(ctx,
		"",      // default exchange
		c.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Body:         body,
		})
}

// Consume 开始手动确认的消费，未确认消息数不超过 prefetchCount
func (c *Client) Consume(prefetchCount int, consumer string) (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	return c.ch.Consume(
		c.queue,
		consumer,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}

func (c *Client) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
