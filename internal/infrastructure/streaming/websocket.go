package streaming

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"barcode-scanner/internal/application"
	"barcode-scanner/internal/domain"
)

const writeTimeout = 5 * time.Second

// ErrNotConnected публикация без подключения к ретранслятору
var ErrNotConnected = errors.New("нет подключения к ретранслятору")

// WebSocketPublisher отправляет события сканера на ретранслятор через WebSocket
type WebSocketPublisher struct {
	conn         *websocket.Conn
	logger       application.Logger
	connected    bool
	mutex        sync.Mutex
	eventCounter int
	startTime    time.Time
	debugMode    bool
}

// NewWebSocketPublisher создает новый WebSocket публикатор
func NewWebSocketPublisher(logger application.Logger, debugMode bool) *WebSocketPublisher {
	return &WebSocketPublisher{
		logger:    logger,
		debugMode: debugMode,
	}
}

// Connect подключается к ретранслятору, закрывая прежнее подключение
func (p *WebSocketPublisher) Connect(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		p.logger.Error("Некорректный URL ретранслятора: %v", err)
		return err
	}

	p.Close()

	p.logger.Info("Подключение к %s", u.String())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		p.logger.Error("Ошибка подключения к ретранслятору: %v", err)
		return err
	}

	p.mutex.Lock()
	p.conn = conn
	p.connected = true
	p.eventCounter = 0
	p.startTime = time.Now()
	p.mutex.Unlock()

	p.logger.Info("Подключено к ретранслятору")
	return nil
}

// Publish отправляет событие JSON-сообщением
func (p *WebSocketPublisher) Publish(ctx context.Context, event domain.ScanEvent) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.connected || p.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	p.conn.SetWriteDeadline(deadline)

	if err := p.conn.WriteJSON(event); err != nil {
		return err
	}

	p.eventCounter++

	// Отладочная информация
	if p.debugMode && p.eventCounter%10 == 0 {
		elapsed := time.Since(p.startTime).Seconds()
		p.logger.Debug("Отправлено событий: %d, в секунду: %.2f, последнее: %s",
			p.eventCounter, float64(p.eventCounter)/elapsed, event.Kind)
	}

	return nil
}

// IsConnected возвращает статус подключения
func (p *WebSocketPublisher) IsConnected() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.connected
}

// Sent возвращает число отправленных событий
func (p *WebSocketPublisher) Sent() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.eventCounter
}

// Close закрывает подключение
func (p *WebSocketPublisher) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.connected || p.conn == nil {
		return nil
	}

	// Отправляем сообщение о закрытии
	err := p.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	if err != nil {
		p.logger.Error("Ошибка закрытия WebSocket: %v", err)
	}

	p.conn.Close()
	p.conn = nil
	p.connected = false

	return nil
}
