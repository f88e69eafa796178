package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"barcode-scanner/internal/application"
	"barcode-scanner/internal/domain"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected публикация без подключения к брокеру
var ErrNotConnected = errors.New("mqtt не подключен")

// MQTTConfig параметры подключения к брокеру
type MQTTConfig struct {
	Broker   string // host:port или URL брокера
	ClientID string
	Topic    string // корневой топик, события уходят в <Topic>/<kind>
}

// MQTTPublisher публикует события сканера в MQTT брокер
type MQTTPublisher struct {
	cfg       MQTTConfig
	logger    application.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool
	published map[string]uint64
	errors    uint64
}

// NewMQTTPublisher создает публикатор, подключение выполняет Connect
func NewMQTTPublisher(cfg MQTTConfig, logger application.Logger) *MQTTPublisher {
	if cfg.Topic == "" {
		cfg.Topic = "barcode-scanner/events"
	}
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")

	return &MQTTPublisher{
		cfg:       cfg,
		logger:    logger,
		newClient: mqtt.NewClient,
		published: make(map[string]uint64),
	}
}

// Connect подключается к брокеру с автоматическим переподключением
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	broker := p.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("Подключено к MQTT брокеру %s (client id %s)", broker, p.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("Потеряно подключение к MQTT брокеру: %v, ожидаем переподключения", err)
	}

	client := p.newClient(opts)

	p.logger.Info("Подключение к MQTT брокеру %s", broker)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("таймаут подключения к mqtt %s", broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("подключение к mqtt: %w", err)
	}

	p.mu.Lock()
	p.client = client
	p.connected = true
	p.mu.Unlock()

	return nil
}

// Publish отправляет событие в топик <Topic>/<kind>
func (p *MQTTPublisher) Publish(ctx context.Context, event domain.ScanEvent) error {
	p.mu.RLock()
	client, connected := p.client, p.connected
	p.mu.RUnlock()

	if !connected || client == nil {
		p.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.countError()
		return fmt.Errorf("сериализация события: %w", err)
	}

	topic := p.cfg.Topic + "/" + event.Kind
	qos := qosFor(event.Kind)

	timeout := publishTimeout
	if d, ok := ctx.Deadline(); ok && time.Until(d) < timeout {
		timeout = time.Until(d)
	}

	token := client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(timeout) {
		p.countError()
		return fmt.Errorf("таймаут публикации в %s", topic)
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("публикация в %s: %w", topic, err)
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()

	p.logger.Debug("Событие опубликовано: топик %s, qos %d, %d байт", topic, qos, len(payload))
	return nil
}

// qosFor результаты сканирования доставляются хотя бы раз, остальное по возможности
func qosFor(kind string) byte {
	if kind == domain.EventScanSuccess {
		return 1
	}
	return 0
}

// Stats возвращает число публикаций по топикам и число ошибок
func (p *MQTTPublisher) Stats() (map[string]uint64, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	published := make(map[string]uint64, len(p.published))
	for topic, n := range p.published {
		published[topic] = n
	}
	return published, p.errors
}

// Close отключается от брокера
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.connected = false
	p.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
		p.logger.Info("Отключено от MQTT брокера")
	}
	return nil
}

func (p *MQTTPublisher) setConnected(connected bool) {
	p.mu.Lock()
	p.connected = connected
	p.mu.Unlock()
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
