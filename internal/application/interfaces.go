package application

import (
	"context"
	"image"
	"time"

	"barcode-scanner/internal/domain"
)

// CameraManager интерфейс для управления камерой
type CameraManager interface {
	// EnumerationSupported сообщает, умеет ли платформа перечислять устройства
	EnumerationSupported() bool

	// ListDevices возвращает список медиаустройств платформы
	ListDevices(ctx context.Context) ([]domain.MediaDeviceInfo, error)

	// OpenCamera открывает камеру с заданными ограничениями.
	// Отказ в доступе оборачивает domain.ErrNotAllowed, отсутствие камеры - domain.ErrNotFound.
	OpenCamera(ctx context.Context, constraints domain.VideoConstraints) (domain.MediaStream, error)
}

// Decoder интерфейс внешней библиотеки распознавания.
// Ошибки классифицируются через *domain.DecodeError.
type Decoder interface {
	Decode(img image.Image) (*domain.ScanResult, error)
}

// PermissionChecker проверяет доступ к камере
type PermissionChecker interface {
	CheckPermission(ctx context.Context) (domain.Permission, error)
}

// PreviewSink приёмник снимков для предпросмотра
type PreviewSink interface {
	Configure(opts domain.PreviewOptions)
	Present(img image.Image)
	Clear()
}

// EventPublisher отправляет события сканера во внешнюю систему
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ScanEvent) error
	Close() error
}

// Timer отложенный вызов
type Timer interface {
	Stop() bool
}

// Clock источник времени и таймеров
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Logger интерфейс для логирования
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

type systemClock struct{}

// SystemClock часы на основе пакета time
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type nopPreview struct{}

func (nopPreview) Configure(domain.PreviewOptions) {}
func (nopPreview) Present(image.Image)             {}
func (nopPreview) Clear()                          {}
