package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/distant-lod/internal/logging"
)

// NATSInvalidator рассылает инвалидации ячеек между процессами через NATS Pub/Sub.
// После перезапекания инструмент публикует ключи ячеек, серверы выгружают их
// и на следующем тике загружают заново.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  InvalidatorConfig
	subject string
	nodeID  string
	logger  *logging.Logger

	subscription *nats.Subscription
	handler      InvalidationHandler
	subMu        sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Дедупликация
	recentKeys map[string]time.Time
	keysMutex  sync.RWMutex

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig содержит конфигурацию NATS.
type InvalidatorConfig struct {
	NATSURL       string        `yaml:"nats_url"`
	Subject       string        `yaml:"subject"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
}

func (c *InvalidatorConfig) applyDefaults() {
	if c.Subject == "" {
		c.Subject = "lod.cells.invalidate"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = time.Second
	}
}

// InvalidationMessage - сообщение об инвалидации ячейки.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Reason    string    `json:"reason,omitempty"`
}

// NewNATSInvalidator подключается к NATS. nodeID отличает собственные сообщения.
func NewNATSInvalidator(config InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	config.applyDefaults()
	logger := logging.GetComponentLogger("cache")

	opts := []nats.Option{
		nats.Name("distant-lod/" + nodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := newInvalidator(config, nodeID, logger)
	n.conn = conn
	n.startDedupeCleanup()

	logger.Info("NATS invalidator initialized: %s (subject: %s)", config.NATSURL, config.Subject)
	return n, nil
}

func newInvalidator(config InvalidatorConfig, nodeID string, logger *logging.Logger) *NATSInvalidator {
	config.applyDefaults()
	return &NATSInvalidator{
		config:     config,
		subject:    config.Subject,
		nodeID:     nodeID,
		logger:     logger,
		stopCh:     make(chan struct{}),
		recentKeys: make(map[string]time.Time),
	}
}

// PublishInvalidation отправляет уведомление об инвалидации ключа ячейки.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if n.isDuplicate(key) {
		return nil
	}

	data, err := json.Marshal(InvalidationMessage{
		Key:       key,
		Timestamp: time.Now(),
		NodeID:    n.nodeID,
		Reason:    "rebaked",
	})
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	n.recordKey(key)
	atomic.AddInt64(&n.publishedCount, 1)
	return nil
}

// Flush дожидается отправки опубликованных сообщений
func (n *NATSInvalidator) Flush(ctx context.Context) error {
	return n.conn.FlushWithContext(ctx)
}

// SubscribeInvalidations подписывается на уведомления; подписка снимается по ctx или Close.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription != nil {
		return fmt.Errorf("already subscribed to invalidations")
	}
	n.handler = handler

	sub, err := n.conn.Subscribe(n.subject, n.handleInvalidationMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()

	n.logger.Info("Subscribed to cell invalidations on subject: %s", n.subject)
	return nil
}

// Close закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
	n.unsubscribe()
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}

// GetMetrics возвращает метрики invalidator.
func (n *NATSInvalidator) GetMetrics() map[string]interface{} {
	m := map[string]interface{}{
		"published_count": atomic.LoadInt64(&n.publishedCount),
		"received_count":  atomic.LoadInt64(&n.receivedCount),
		"errors_count":    atomic.LoadInt64(&n.errorsCount),
	}
	if n.conn != nil {
		m["connected"] = n.conn.IsConnected()
	}
	return m
}

func (n *NATSInvalidator) handleInvalidationMessage(msg *nats.Msg) {
	atomic.AddInt64(&n.receivedCount, 1)

	var im InvalidationMessage
	if err := json.Unmarshal(msg.Data, &im); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.logger.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}

	// Собственные сообщения уже применены локально
	if im.NodeID == n.nodeID {
		return
	}
	if n.isDuplicate(im.Key) {
		return
	}
	n.recordKey(im.Key)

	if n.handler != nil {
		if err := n.handler(im.Key); err != nil {
			atomic.AddInt64(&n.errorsCount, 1)
			n.logger.Error("Invalidation handler failed for key %s: %v", im.Key, err)
		}
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription != nil {
		if err := n.subscription.Unsubscribe(); err != nil {
			n.logger.Debug("Unsubscribe: %v", err)
		}
		n.subscription = nil
	}
}

func (n *NATSInvalidator) isDuplicate(key string) bool {
	n.keysMutex.RLock()
	defer n.keysMutex.RUnlock()

	lastSeen, exists := n.recentKeys[key]
	return exists && time.Since(lastSeen) < n.config.DedupeWindow
}

func (n *NATSInvalidator) recordKey(key string) {
	n.keysMutex.Lock()
	defer n.keysMutex.Unlock()
	n.recentKeys[key] = time.Now()
}

func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.cleanupDedupe()
			case <-n.stopCh:
				return
			}
		}
	}()
}

func (n *NATSInvalidator) cleanupDedupe() {
	n.keysMutex.Lock()
	defer n.keysMutex.Unlock()

	now := time.Now()
	for key, ts := range n.recentKeys {
		if now.Sub(ts) > n.config.DedupeWindow {
			delete(n.recentKeys, key)
		}
	}
}
