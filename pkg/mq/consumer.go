package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"expenseflow/pkg/metrics"
	otelpkg "expenseflow/pkg/otel"
	"expenseflow/pkg/trace"
	"expenseflow/pkg/util"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// DeadLetterer 接收不可重试的消息
type DeadLetterer interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, errorType string) error
}

type deliveryAction int

const (
	actionAck deliveryAction = iota
	actionRequeue
	actionDeadLetter
)

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	dlq        DeadLetterer
	logger     *zap.Logger
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	// 触发消息不需要并发处理
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// SetDeadLetter 设置死信发布者，并声明对应的 DLQ 队列
func (c *Consumer) SetDeadLetter(d DeadLetterer) error {
	if err := DeclareDLQExchange(c.channel); err != nil {
		return fmt.Errorf("failed to declare dlq exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(c.channel, c.routingKey); err != nil {
		return fmt.Errorf("failed to declare dlq queue: %w", err)
	}
	c.dlq = d
	return nil
}

// Stop cancels deliveries; StartConsuming returns once the channel drains.
func (c *Consumer) Stop() {
	if c.channel != nil {
		_ = c.channel.Cancel(c.queue.Name, false)
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.queue.Name, // consumer tag，Stop 时使用
		false,        // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for msg := range deliveries {
		c.handleDelivery(msg)
	}

	return nil
}

func (c *Consumer) handleDelivery(msg amqp091.Delivery) {
	start := time.Now()
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), otelpkg.NewMQHeaderCarrier(msg.Headers))
	if traceID, ok := msg.Headers["trace_id"].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx = trace.EnsureContext(ctx)
	ctx, span := otelpkg.MQConsumeSpan(ctx, c.routingKey, c.queue.Name)

	var handlerErr error
	defer func() {
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))
		otelpkg.EndSpan(span, handlerErr)
	}()

	// Panic 恢复：确保即使 handler panic 也能正确处理消息
	defer func() {
		if r := recover(); r != nil {
			handlerErr = fmt.Errorf("handler panic: %v", r)
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", c.routingKey),
				zap.Any("panic", r),
			)
			c.settle(ctx, msg, actionDeadLetter, handlerErr, "panic")
		}
	}()

	handlerErr = c.handler(ctx, msg.Body)
	if handlerErr == nil {
		c.settle(ctx, msg, actionAck, nil, "")
		return
	}

	retryable, errorType := util.ClassifyError(handlerErr)
	c.logger.Error("Handler error",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.String("error_type", errorType),
		zap.Bool("retryable", retryable),
		zap.Error(handlerErr),
	)
	c.settle(ctx, msg, decideAction(retryable, msg.Redelivered, c.dlq != nil), handlerErr, errorType)
}

// decideAction 可重试错误只重新入队一次，之后与不可重试错误一样进入死信（未配置死信时丢弃）
func decideAction(retryable, redelivered, hasDLQ bool) deliveryAction {
	if retryable && !redelivered {
		return actionRequeue
	}
	if hasDLQ {
		return actionDeadLetter
	}
	return actionAck
}

func (c *Consumer) settle(ctx context.Context, msg amqp091.Delivery, action deliveryAction, cause error, errorType string) {
	var err error
	switch action {
	case actionAck:
		err = msg.Ack(false)
	case actionRequeue:
		err = msg.Nack(false, true)
	case actionDeadLetter:
		if c.dlq == nil {
			err = msg.Nack(false, false)
			break
		}
		if pubErr := c.dlq.PublishToDLQ(ctx, c.routingKey, msg.Body, cause.Error(), errorType); pubErr != nil {
			c.logger.Error("Failed to publish to DLQ", zap.String("routing_key", c.routingKey), zap.Error(pubErr))
			err = msg.Nack(false, true)
			break
		}
		err = msg.Ack(false)
	}
	if err != nil {
		c.logger.Error("Failed to settle message",
			zap.String("routing_key", c.routingKey),
			zap.Error(err),
		)
	}
}
