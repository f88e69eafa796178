package domain

import (
	"image"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceKind тип медиаустройства
type DeviceKind string

const (
	DeviceKindVideoInput  DeviceKind = "videoinput"
	DeviceKindAudioInput  DeviceKind = "audioinput"
	DeviceKindAudioOutput DeviceKind = "audiooutput"

	// DeviceKindVideo устаревшее имя видеовхода, встречается у старых платформ
	DeviceKindVideo DeviceKind = "video"
)

// NoPermissionLabel подпись камеры, для которой платформа не отдала имя
const NoPermissionLabel = "Camera (no-permission)"

// MediaDeviceInfo запись об устройстве в том виде, в каком её отдаёт платформа
type MediaDeviceInfo struct {
	DeviceID   string     // Идентификатор устройства (может быть пустым)
	InternalID string     // Внутренний идентификатор платформы
	Label      string     // Имя устройства (пустое без разрешения)
	Kind       DeviceKind // Тип устройства
}

// VideoDevice представляет устройство захвата видео
type VideoDevice struct {
	ID    string     `json:"id" yaml:"id"`       // Уникальный идентификатор устройства
	Label string     `json:"label" yaml:"label"` // Человекочитаемое имя устройства
	Kind  DeviceKind `json:"kind" yaml:"kind"`   // Тип устройства, всегда videoinput
}

// NormalizeVideoDevice приводит запись платформы к дескриптору видеоустройства.
// Второе значение false, если запись не является видеовходом или у неё нет идентификатора.
func NormalizeVideoDevice(info MediaDeviceInfo) (VideoDevice, bool) {
	kind := info.Kind
	if kind == DeviceKindVideo {
		kind = DeviceKindVideoInput
	}
	if kind != DeviceKindVideoInput {
		return VideoDevice{}, false
	}

	id := info.DeviceID
	if id == "" {
		id = info.InternalID
	}
	if id == "" {
		return VideoDevice{}, false
	}

	label := info.Label
	if label == "" {
		label = NoPermissionLabel
	}

	return VideoDevice{
		ID:    id,
		Label: label,
		Kind:  kind,
	}, true
}

// NormalizeVideoDevices отбирает видеовходы из списка устройств платформы
func NormalizeVideoDevices(infos []MediaDeviceInfo) []VideoDevice {
	devices := make([]VideoDevice, 0, len(infos))
	for _, info := range infos {
		if device, ok := NormalizeVideoDevice(info); ok {
			devices = append(devices, device)
		}
	}
	return devices
}

var environmentLabels = []string{"back", "rear", "environment"}

// IsEnvironmentFacing сообщает, похожа ли камера по имени на тыловую
func IsEnvironmentFacing(label string) bool {
	label = strings.ToLower(label)
	for _, marker := range environmentLabels {
		if strings.Contains(label, marker) {
			return true
		}
	}
	return false
}

// VideoConstraints ограничения для получения видеопотока
type VideoConstraints struct {
	DeviceID          string // Точный ID устройства, пустой - любое
	PreferEnvironment bool   // Предпочитать тыловую камеру, если ID не задан
	Width             int    // Желаемая ширина, 0 - на усмотрение драйвера
	Height            int    // Желаемая высота, 0 - на усмотрение драйвера
}

// Point точка результата в координатах снимка
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScanResult результат успешного распознавания
type ScanResult struct {
	Text      string    // Текст штрихкода
	Format    string    // Формат штрихкода, например QR_CODE
	RawBytes  []byte    // Сырые байты, если декодер их отдал
	Points    []Point   // Опорные точки символа
	SessionID uuid.UUID // Сессия захвата, в которой получен результат
	Timestamp time.Time // Время распознавания
}

// SessionState состояние цикла захвата
type SessionState int

const (
	StateIdle SessionState = iota
	StateStreaming
	StateDestroyed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Permission ответ платформы на запрос доступа к камере
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
	PermissionNoDevice
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionNoDevice:
		return "no-device"
	default:
		return "unknown"
	}
}

// PreviewOptions настройки элемента предпросмотра
type PreviewOptions struct {
	Class       string // CSS-класс элемента
	Autofocus   bool
	Autoplay    bool
	Muted       bool
	PlaysInline bool
}

// ScanEvent событие сканера для отправки во внешние системы
type ScanEvent struct {
	Kind       string        `json:"kind"`
	SessionID  string        `json:"session_id,omitempty"`
	Text       string        `json:"text,omitempty"`
	Format     string        `json:"format,omitempty"`
	Error      string        `json:"error,omitempty"`
	Devices    []VideoDevice `json:"devices,omitempty"`
	Permission string        `json:"permission,omitempty"`
	Time       time.Time     `json:"time"`
}

// Типы событий ScanEvent
const (
	EventScanSuccess     = "scan.success"
	EventScanError       = "scan.error"
	EventCamerasFound    = "cameras.found"
	EventCamerasNotFound = "cameras.not_found"
	EventPermission      = "permission"
)

// MediaStream видеопоток, полученный от платформы
type MediaStream interface {
	ID() string
	Tracks() []VideoTrack
}

// FrameReader интерфейс для чтения видеокадров
type FrameReader interface {
	// Read возвращает текущий кадр и функцию освобождения его буфера
	Read() (image.Image, func(), error)
	Close() error
}

// VideoTrack представляет видеотрек
type VideoTrack interface {
	ID() string
	Close() error
	CreateReader() (FrameReader, error)
}
