package application

import (
	"context"
	"errors"

	"barcode-scanner/internal/domain"
)

// StreamPermissionChecker запрашивает доступ, открывая камеру и сразу
// останавливая все её треки
type StreamPermissionChecker struct {
	cameras CameraManager
	logger  Logger
}

// NewStreamPermissionChecker создает проверку доступа через открытие потока
func NewStreamPermissionChecker(cameras CameraManager, logger Logger) *StreamPermissionChecker {
	return &StreamPermissionChecker{
		cameras: cameras,
		logger:  logger,
	}
}

// CheckPermission возвращает ответ платформы на запрос доступа к камере
func (c *StreamPermissionChecker) CheckPermission(ctx context.Context) (domain.Permission, error) {
	stream, err := c.cameras.OpenCamera(ctx, domain.VideoConstraints{})
	if err != nil {
		c.logger.Warn("Запрос доступа к камере не удался: %v", err)
		switch {
		case errors.Is(err, domain.ErrNotAllowed):
			return domain.PermissionDenied, err
		case errors.Is(err, domain.ErrNotFound):
			return domain.PermissionNoDevice, err
		default:
			return domain.PermissionUnknown, err
		}
	}

	// Поток нужен только для запроса доступа
	if err := stopTracks(stream); err != nil {
		c.logger.Error("Ошибка остановки потока после запроса доступа: %v", err)
		return domain.PermissionUnknown, err
	}

	return domain.PermissionGranted, nil
}
