package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/carmatch/internal/config"
	"github.com/temcen/carmatch/internal/validation"
	"github.com/temcen/carmatch/pkg/models"
)

const (
	DefaultInventoryTopic       = "vehicle-inventory"
	DefaultRecommendationsTopic = "recommendations-generated"
	DefaultConsumerGroup        = "carmatch-vectorizers"

	dlqSuffix  = "-dlq"
	maxRetries = 3
)

// Outcomes reported to the EventRecorder.
const (
	OutcomeProcessed = "processed"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

// InventoryHandler applies inventory changes to the live engine.
type InventoryHandler interface {
	RefreshVehicle(ctx context.Context, vehicle models.VehicleRecord) error
	RemoveVehicle(ctx context.Context, vehicleID string) error
	InvalidateUser(ctx context.Context, userID string) error
}

// EventRecorder counts consumed events by type and outcome.
type EventRecorder interface {
	RecordInventoryEvent(eventType, outcome string)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageBus consumes the vehicle-inventory topic and publishes served
// recommendation lists.
type MessageBus struct {
	reader         messageReader
	producer       messageWriter
	dlqWriter      messageWriter
	validator      *validation.SchemaValidator
	recorder       EventRecorder
	inventoryTopic string
	baseDelay      time.Duration
	logger         *logrus.Logger
}

func NewMessageBus(cfg *config.Config, validator *validation.SchemaValidator, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}

	inventoryTopic := valueOr(cfg.Kafka.Topics.Inventory, DefaultInventoryTopic)
	recommendationsTopic := valueOr(cfg.Kafka.Topics.Recommendations, DefaultRecommendationsTopic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          inventoryTopic,
		GroupID:        valueOr(cfg.Kafka.GroupID, DefaultConsumerGroup),
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	})

	producer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        recommendationsTopic,
		Balancer:     &kafka.Hash{}, // Key by user id
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        inventoryTopic + dlqSuffix,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return newMessageBus(reader, producer, dlqWriter, validator, inventoryTopic, logger), nil
}

func newMessageBus(reader messageReader, producer, dlqWriter messageWriter, validator *validation.SchemaValidator, inventoryTopic string, logger *logrus.Logger) *MessageBus {
	return &MessageBus{
		reader:         reader,
		producer:       producer,
		dlqWriter:      dlqWriter,
		validator:      validator,
		inventoryTopic: inventoryTopic,
		baseDelay:      time.Second,
		logger:         logger,
	}
}

// SetEventRecorder enables per-event counters.
func (mb *MessageBus) SetEventRecorder(recorder EventRecorder) {
	mb.recorder = recorder
}

// PublishRecommendations writes a RecommendationEvent keyed by user id.
func (mb *MessageBus) PublishRecommendations(ctx context.Context, result *models.RecommendationResult) error {
	event := models.NewRecommendationEvent(result)

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation event: %w", err)
	}

	key := result.User.ID
	if key == "" {
		key = result.RequestID.String()
	}

	message := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "request_id", Value: []byte(event.RequestID.String())},
			{Key: "method", Value: []byte(event.Method)},
		},
	}

	if err := mb.producer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write recommendation event to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"request_id": event.RequestID,
		"user_id":    event.UserID,
		"vehicles":   len(event.Vehicles),
	}).Debug("Recommendation event published")

	return nil
}

// ConsumeInventory reads inventory events until ctx ends. Every message is
// committed once it has been applied or parked on the dead-letter topic.
func (mb *MessageBus) ConsumeInventory(ctx context.Context, handler InventoryHandler) error {
	for {
		message, err := mb.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		mb.handleMessage(ctx, message, handler)

		if err := mb.reader.CommitMessages(ctx, message); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).WithField("offset", message.Offset).Error("Failed to commit Kafka message")
		}
	}
}

func (mb *MessageBus) handleMessage(ctx context.Context, message kafka.Message, handler InventoryHandler) {
	if result := mb.validator.ValidateInventoryEvent(message.Value); !result.Valid {
		err := result.Err()
		mb.logger.WithError(err).WithField("offset", message.Offset).Warn("Discarding invalid inventory event")
		mb.record("unknown", OutcomeInvalid)
		mb.park(ctx, message, err)
		return
	}

	var event models.InventoryEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		mb.logger.WithError(err).WithField("offset", message.Offset).Warn("Failed to unmarshal inventory event")
		mb.record("unknown", OutcomeInvalid)
		mb.park(ctx, message, err)
		return
	}

	if err := mb.processWithRetry(ctx, event, handler); err != nil {
		mb.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":   event.EventID,
			"event_type": event.EventType,
		}).Error("Failed to process inventory event after retries")
		mb.record(event.EventType, OutcomeFailed)
		mb.park(ctx, message, err)
		return
	}

	mb.record(event.EventType, OutcomeProcessed)
}

func (mb *MessageBus) processWithRetry(ctx context.Context, event models.InventoryEvent, handler InventoryHandler) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"event_id": event.EventID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying inventory event")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if lastErr = mb.dispatch(ctx, event, handler); lastErr == nil {
			return nil
		}

		mb.logger.WithError(lastErr).WithFields(logrus.Fields{
			"event_id": event.EventID,
			"attempt":  attempt,
		}).Warn("Inventory event processing failed")
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (mb *MessageBus) dispatch(ctx context.Context, event models.InventoryEvent, handler InventoryHandler) error {
	switch event.EventType {
	case models.InventoryVehicleUpserted:
		if event.Vehicle == nil {
			return errors.New("vehicle payload is missing")
		}
		return handler.RefreshVehicle(ctx, *event.Vehicle)
	case models.InventoryVehicleRemoved:
		return handler.RemoveVehicle(ctx, event.VehicleID)
	case models.InventoryProfileUpdated:
		return handler.InvalidateUser(ctx, event.UserID)
	default:
		return fmt.Errorf("unsupported event type %q", event.EventType)
	}
}

func (mb *MessageBus) park(ctx context.Context, message kafka.Message, cause error) {
	if err := mb.sendToDLQ(ctx, message, cause); err != nil {
		mb.logger.WithError(err).Error("Failed to send message to DLQ")
	}
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, message kafka.Message, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(validJSONOrString(message.Value)),
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	dlqID := uuid.New().String()
	kafkaMessage := kafka.Message{
		Key:   message.Key,
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "dlq_id", Value: []byte(dlqID)},
			{Key: "original_topic", Value: []byte(mb.inventoryTopic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := mb.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"dlq_id": dlqID,
		"offset": message.Offset,
		"error":  originalError.Error(),
	}).Warn("Message sent to DLQ")

	return nil
}

func (mb *MessageBus) record(eventType, outcome string) {
	if mb.recorder != nil {
		mb.recorder.RecordInventoryEvent(eventType, outcome)
	}
}

func (mb *MessageBus) Close() error {
	var errs []error

	if err := mb.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}

	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}

	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	return errors.Join(errs...)
}

// GetMetrics returns Kafka consumer statistics for monitoring
func (mb *MessageBus) GetMetrics() map[string]interface{} {
	reader, ok := mb.reader.(*kafka.Reader)
	if !ok {
		return map[string]interface{}{}
	}
	stats := reader.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}

func validJSONOrString(value []byte) []byte {
	if json.Valid(value) {
		return value
	}
	quoted, _ := json.Marshal(string(value))
	return quoted
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
