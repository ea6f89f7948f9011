package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/langchou/chargegazer/internal/models"
	"github.com/langchou/chargegazer/internal/service"
)

// Ingester 接收已校验的遥测记录
type Ingester interface {
	Ingest(ctx context.Context, rec models.TelemetryRecord) (*service.IngestResult, error)
}

// Config Kafka 消费配置
type Config struct {
	Brokers        []string
	GroupID        string
	MeterTopic     string
	VehicleTopic   string
	MessageTimeout time.Duration // 单条消息写入超时
}

// messageReader kafka.Reader 中消费者用到的部分
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type topicReader struct {
	kind   models.DeviceKind
	topic  string
	reader messageReader
}

// Consumer 从电表与车辆两个主题消费遥测并写入
type Consumer struct {
	logger   *zap.Logger
	ingester Ingester
	readers  []topicReader
	timeout  time.Duration

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewConsumer 为每个主题创建一个消费组 Reader
func NewConsumer(cfg Config, ingester Ingester, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka consumer group must not be empty")
	}

	topics := []struct {
		kind  models.DeviceKind
		topic string
	}{
		{models.KindMeter, cfg.MeterTopic},
		{models.KindVehicle, cfg.VehicleTopic},
	}

	var readers []topicReader
	for _, t := range topics {
		if strings.TrimSpace(t.topic) == "" {
			continue
		}
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       t.topic,
			StartOffset: kafka.FirstOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
		readers = append(readers, topicReader{kind: t.kind, topic: t.topic, reader: r})
	}
	if len(readers) == 0 {
		return nil, errors.New("no kafka topic configured")
	}

	return newConsumer(readers, ingester, logger, cfg.MessageTimeout), nil
}

func newConsumer(readers []topicReader, ingester Ingester, logger *zap.Logger, timeout time.Duration) *Consumer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Consumer{
		logger:     logger,
		ingester:   ingester,
		readers:    readers,
		timeout:    timeout,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run 阻塞消费直到 ctx 取消或 Reader 关闭
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, tr := range c.readers {
		tr := tr
		g.Go(func() error {
			return c.consume(gctx, tr)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Close 关闭所有 Reader
func (c *Consumer) Close() error {
	var errs []error
	for _, tr := range c.readers {
		if err := tr.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s reader: %w", tr.topic, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Consumer) consume(ctx context.Context, tr topicReader) error {
	logger := c.logger.With(zap.String("topic", tr.topic), zap.String("kind", string(tr.kind)))
	logger.Info("Kafka consumer started")
	defer logger.Info("Kafka consumer stopped")

	for {
		msg, err := tr.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			logger.Error("Failed to fetch message", zap.Error(err))
			if !sleep(ctx, c.minBackoff) {
				return ctx.Err()
			}
			continue
		}

		if !c.process(ctx, logger, tr.kind, msg) {
			return ctx.Err()
		}

		if err := tr.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Failed to commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process 处理单条消息，返回 true 表示可以提交位点
// 载荷非法时跳过；存储失败时退避重试同一条消息，直到成功或 ctx 取消
func (c *Consumer) process(ctx context.Context, logger *zap.Logger, kind models.DeviceKind, msg kafka.Message) bool {
	rec, err := decodeRecord(kind, msg.Value)
	if err != nil {
		logger.Warn("Skipping invalid telemetry message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return true
	}

	backoff := c.minBackoff
	for {
		err := c.ingestOnce(ctx, rec)
		if err == nil {
			return true
		}
		if errors.Is(err, models.ErrValidation) {
			logger.Warn("Skipping rejected telemetry message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return true
		}

		logger.Error("Failed to ingest message, retrying",
			zap.String("device_id", rec.DeviceID()),
			zap.Int64("offset", msg.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if !sleep(ctx, backoff) {
			return false
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Consumer) ingestOnce(ctx context.Context, rec models.TelemetryRecord) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.ingester.Ingest(ctx, rec)
	return err
}

// decodeRecord 按主题类型解析并校验 JSON 载荷
func decodeRecord(kind models.DeviceKind, raw []byte) (models.TelemetryRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	switch kind {
	case models.KindMeter:
		var p models.MeterTelemetry
		if err := dec.Decode(&p); err != nil {
			return nil, models.Validationf("decode meter payload: %v", err)
		}
		r, err := p.ToReading()
		if err != nil {
			return nil, err
		}
		return r, nil
	case models.KindVehicle:
		var p models.VehicleTelemetry
		if err := dec.Decode(&p); err != nil {
			return nil, models.Validationf("decode vehicle payload: %v", err)
		}
		r, err := p.ToReading()
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown device kind %q", kind)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
