package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // Регистрируем драйвер камеры
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	"barcode-scanner/internal/application"
	"barcode-scanner/internal/domain"
)

// MediaDevicesManager реализация CameraManager с использованием библиотеки mediadevices
type MediaDevicesManager struct {
	logger       application.Logger
	enumerate    func() []mediadevices.MediaDeviceInfo
	getUserMedia func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
}

// NewMediaDevicesManager создает новый менеджер медиаустройств
func NewMediaDevicesManager(logger application.Logger) *MediaDevicesManager {
	return &MediaDevicesManager{
		logger:       logger,
		enumerate:    mediadevices.EnumerateDevices,
		getUserMedia: mediadevices.GetUserMedia,
	}
}

// EnumerationSupported драйверы mediadevices всегда умеют перечислять устройства
func (m *MediaDevicesManager) EnumerationSupported() bool {
	return true
}

// ListDevices возвращает список доступных устройств
func (m *MediaDevicesManager) ListDevices(ctx context.Context) ([]domain.MediaDeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices := m.enumerate()
	result := make([]domain.MediaDeviceInfo, 0, len(devices))

	for i, device := range devices {
		result = append(result, domain.MediaDeviceInfo{
			DeviceID:   device.DeviceID,
			InternalID: string(device.DeviceType) + "-" + strconv.Itoa(i),
			Label:      device.Label,
			Kind:       deviceKind(device.Kind),
		})
	}

	return result, nil
}

func deviceKind(kind mediadevices.MediaDeviceType) domain.DeviceKind {
	switch kind {
	case mediadevices.VideoInput:
		return domain.DeviceKindVideoInput
	case mediadevices.AudioInput:
		return domain.DeviceKindAudioInput
	case mediadevices.AudioOutput:
		return domain.DeviceKindAudioOutput
	default:
		return domain.DeviceKind("unknown")
	}
}

// environmentDeviceID ищет тыловую камеру по имени
func (m *MediaDevicesManager) environmentDeviceID() string {
	for _, device := range m.enumerate() {
		if device.Kind == mediadevices.VideoInput && domain.IsEnvironmentFacing(device.Label) {
			return device.DeviceID
		}
	}
	return ""
}

func (m *MediaDevicesManager) hasVideoInput() bool {
	for _, device := range m.enumerate() {
		if device.Kind == mediadevices.VideoInput {
			return true
		}
	}
	return false
}

// OpenCamera открывает камеру с заданными ограничениями, только видео
func (m *MediaDevicesManager) OpenCamera(ctx context.Context, constraints domain.VideoConstraints) (domain.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deviceID := constraints.DeviceID
	if deviceID == "" && constraints.PreferEnvironment {
		deviceID = m.environmentDeviceID()
		if deviceID != "" {
			m.logger.Debug("Выбрана тыловая камера %s", deviceID)
		}
	}

	// Задаем предпочтительные параметры, но не строгие
	mediaStream, err := m.getUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if constraints.Width > 0 {
				c.Width = prop.Int(int32(constraints.Width))
			}
			if constraints.Height > 0 {
				c.Height = prop.Int(int32(constraints.Height))
			}
			if deviceID != "" {
				c.DeviceID = prop.String(deviceID)
			}
		},
	})
	if err != nil && (constraints.Width > 0 || constraints.Height > 0) {
		m.logger.Error("Ошибка с исходными ограничениями: %v", err)

		// Пробуем без ограничений на размер кадра
		m.logger.Info("Пробуем с минимальными ограничениями...")
		mediaStream, err = m.getUserMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				if deviceID != "" {
					c.DeviceID = prop.String(deviceID)
				}
			},
		})
	}
	if err != nil {
		m.logger.Error("Не удалось получить доступ к медиа-устройству: %v", err)
		return nil, m.translateError(err)
	}

	videoTracks := mediaStream.GetVideoTracks()
	if len(videoTracks) == 0 {
		m.logger.Error("Видеотрек не обнаружен")
		for _, track := range mediaStream.GetTracks() {
			track.Close()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrNotFound, domain.ErrNoVideoTrack)
	}

	tracks := make([]domain.VideoTrack, 0, len(videoTracks))
	for _, track := range videoTracks {
		tracks = append(tracks, &MediaDevicesTrack{
			track:  track,
			logger: m.logger,
		})
	}

	return &MediaDevicesStream{
		id:     uuid.NewString(),
		tracks: tracks,
	}, nil
}

// translateError приводит ошибку драйвера к ErrNotAllowed или ErrNotFound
func (m *MediaDevicesManager) translateError(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(strings.ToLower(err.Error()), "permission denied"):
		return fmt.Errorf("%w: %v", domain.ErrNotAllowed, err)
	case !m.hasVideoInput():
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	default:
		return err
	}
}

// MediaDevicesStream поток, полученный от mediadevices
type MediaDevicesStream struct {
	id     string
	tracks []domain.VideoTrack
}

// ID возвращает идентификатор потока
func (s *MediaDevicesStream) ID() string {
	return s.id
}

// Tracks возвращает видеотреки потока
func (s *MediaDevicesStream) Tracks() []domain.VideoTrack {
	return s.tracks
}

// MediaDevicesTrack обертка для MediaDevices Track
type MediaDevicesTrack struct {
	track  mediadevices.Track
	logger application.Logger
}

// ID возвращает идентификатор трека
func (t *MediaDevicesTrack) ID() string {
	return t.track.ID()
}

// Close закрывает трек
func (t *MediaDevicesTrack) Close() error {
	return t.track.Close()
}

// CreateReader создает ридер несжатых кадров
func (t *MediaDevicesTrack) CreateReader() (domain.FrameReader, error) {
	videoTrack, ok := t.track.(*mediadevices.VideoTrack)
	if !ok {
		return nil, fmt.Errorf("трек %s не является видеотреком", t.track.ID())
	}

	return &MediaDevicesReader{
		reader: videoTrack.NewReader(false),
		logger: t.logger,
	}, nil
}

// MediaDevicesReader обертка для ридера кадров mediadevices
type MediaDevicesReader struct {
	reader      video.Reader
	logger      application.Logger
	frameNumber int
}

// Read читает следующий кадр
func (r *MediaDevicesReader) Read() (image.Image, func(), error) {
	img, release, err := r.reader.Read()
	if err != nil {
		return nil, nil, err
	}

	r.frameNumber++
	if r.frameNumber%100 == 0 {
		r.logger.Debug("Прочитано кадров: %d, размер %v", r.frameNumber, img.Bounds().Size())
	}

	return img, release, nil
}

// Close ридер живет, пока жив трек; кадры освобождаются через release
func (r *MediaDevicesReader) Close() error {
	return nil
}
