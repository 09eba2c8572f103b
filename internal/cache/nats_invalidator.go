package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator рассылает инвалидации чанков между узлами через NATS Pub/Sub.
//
// Подписчики того же процесса получают уведомление напрямую, без NATS;
// сообщения, пришедшие от своего узла, отбрасываются.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  *InvalidatorConfig
	subject string
	nodeID  string

	local *LocalInvalidator
	log   *logging.Logger

	mu           sync.Mutex
	subscription *nats.Subscription

	received atomic.Int64
	errors   atomic.Int64
}

// InvalidatorConfig содержит конфигурацию для NATS invalidator.
type InvalidatorConfig struct {
	// NATS подключение
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`

	// Retry настройки
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`

	// Timeouts
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

func (c *InvalidatorConfig) applyDefaults() {
	if c.NATSURL == "" {
		c.NATSURL = nats.DefaultURL
	}
	if c.Subject == "" {
		c.Subject = "voxel.invalidation"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// NewNATSInvalidator подключается к NATS и подписывается на subject.
//
// Параметры:
//
//	config - конфигурация NATS соединения
//	nodeID - уникальный идентификатор узла
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	cfg := *config
	cfg.applyDefaults()
	log := logging.For(logging.ComponentCache)

	// Настройки NATS соединения
	opts := []nats.Option{
		nats.Name("voxel-world " + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := &NATSInvalidator{
		conn:    conn,
		config:  &cfg,
		subject: cfg.Subject,
		nodeID:  nodeID,
		local:   NewLocalInvalidator(),
		log:     log,
	}

	sub, err := conn.Subscribe(n.subject, n.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub

	log.Info("NATS invalidator initialized: %s (subject: %s)", cfg.NATSURL, cfg.Subject)
	return n, nil
}

// NodeID возвращает идентификатор узла
func (n *NATSInvalidator) NodeID() string { return n.nodeID }

// PublishInvalidation уведомляет подписчиков процесса и отправляет ключ в NATS.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	origin := world.OriginFrom(ctx)
	if err := n.local.PublishInvalidation(ctx, key); err != nil {
		return err
	}

	msg := &InvalidationMessage{
		Key:       key,
		Timestamp: time.Now(),
		NodeID:    n.nodeID,
		Origin:    origin,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		n.errors.Add(1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		n.errors.Add(1)
		n.log.Error("Failed to publish invalidation for key %s: %v", key, err)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	// Publish только буферизует сообщение; Flush с таймаутом ждёт сервер
	flushCtx, cancel := context.WithTimeout(ctx, n.config.PublishTimeout)
	defer cancel()
	if err := n.conn.FlushWithContext(flushCtx); err != nil {
		n.errors.Add(1)
		return fmt.Errorf("failed to flush invalidation: %w", err)
	}

	n.log.Trace("Published invalidation for key: %s", key)
	return nil
}

// SubscribeInvalidations регистрирует обработчик до отмены ctx
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler world.InvalidationHandler) error {
	return n.local.SubscribeInvalidations(ctx, handler)
}

// handleMessage обрабатывает входящие сообщения об инвалидации.
func (n *NATSInvalidator) handleMessage(msg *nats.Msg) {
	n.received.Add(1)

	var m InvalidationMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		n.errors.Add(1)
		n.log.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}

	// Свои сообщения уже доставлены напрямую
	if m.NodeID == n.nodeID {
		return
	}

	n.local.deliver("", m.Key)
}

// Stats возвращает счётчики
func (n *NATSInvalidator) Stats() InvalidatorStats {
	s := n.local.Stats()
	s.Received = n.received.Load()
	s.Errors += n.errors.Load()
	s.Connected = n.conn.IsConnected()
	return s
}

// Close отписывается и закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subscription != nil {
		if err := n.subscription.Unsubscribe(); err != nil {
			n.log.Error("Failed to unsubscribe from invalidations: %v", err)
		}
		n.subscription = nil
	}
	_ = n.local.Close()
	n.conn.Close()
	n.log.Info("NATS invalidator closed")
	return nil
}
