package application

import (
	"sync"
	"sync/atomic"
)

// Emitter типизированный канал уведомлений с несколькими подписчиками.
//
// Publish не блокируется: если буфер подписчика заполнен, значение
// для него отбрасывается и учитывается в статистике.
type Emitter[T any] struct {
	name string

	mu          sync.RWMutex
	subscribers map[uint64]chan T
	nextID      uint64
	closed      bool

	published atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// EmitterStats статистика канала уведомлений
type EmitterStats struct {
	Name        string
	Subscribers int
	Published   uint64
	Sent        uint64
	Dropped     uint64
}

// NewEmitter создает новый канал уведомлений
func NewEmitter[T any](name string) *Emitter[T] {
	return &Emitter[T]{
		name:        name,
		subscribers: make(map[uint64]chan T),
	}
}

// Subscribe регистрирует подписчика с буфером заданного размера.
// Возвращает канал и функцию отписки, которая закрывает канал.
// У закрытого эмиттера канал возвращается уже закрытым.
func (e *Emitter[T]) Subscribe(buffer int) (<-chan T, func()) {
	ch := make(chan T, buffer)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextID
	e.nextID++
	e.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { e.unsubscribe(id) })
	}
}

func (e *Emitter[T]) unsubscribe(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.subscribers[id]; ok {
		delete(e.subscribers, id)
		close(ch)
	}
}

// Publish отправляет значение всем подписчикам
func (e *Emitter[T]) Publish(value T) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}

	e.published.Add(1)
	for _, ch := range e.subscribers {
		select {
		case ch <- value:
			e.sent.Add(1)
		default:
			e.dropped.Add(1)
		}
	}
}

// Close закрывает все каналы подписчиков. Повторный вызов ничего не делает.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
}

// Stats возвращает снимок статистики
func (e *Emitter[T]) Stats() EmitterStats {
	e.mu.RLock()
	subscribers := len(e.subscribers)
	e.mu.RUnlock()

	return EmitterStats{
		Name:        e.name,
		Subscribers: subscribers,
		Published:   e.published.Load(),
		Sent:        e.sent.Load(),
		Dropped:     e.dropped.Load(),
	}
}
