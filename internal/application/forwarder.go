package application

import (
	"context"

	"barcode-scanner/internal/domain"
)

const forwardBuffer = 16

// ForwardEvents пересылает события сканера всем издателям,
// пока не отменен контекст или сканер не уничтожен
func ForwardEvents(ctx context.Context, scanner *Scanner, clock Clock, logger Logger, publishers ...EventPublisher) {
	if clock == nil {
		clock = SystemClock()
	}

	complete, unsubComplete := scanner.ScanComplete.Subscribe(forwardBuffer)
	defer unsubComplete()
	scanErrors, unsubErrors := scanner.ScanError.Subscribe(forwardBuffer)
	defer unsubErrors()
	found, unsubFound := scanner.CamerasFound.Subscribe(forwardBuffer)
	defer unsubFound()
	notFound, unsubNotFound := scanner.CamerasNotFound.Subscribe(forwardBuffer)
	defer unsubNotFound()
	permissions, unsubPermissions := scanner.PermissionResponse.Subscribe(forwardBuffer)
	defer unsubPermissions()

	publish := func(event domain.ScanEvent) {
		event.Time = clock.Now()
		for _, publisher := range publishers {
			if err := publisher.Publish(ctx, event); err != nil {
				logger.Error("Ошибка отправки события %s: %v", event.Kind, err)
			}
		}
	}

	for complete != nil || scanErrors != nil || found != nil || notFound != nil || permissions != nil {
		select {
		case <-ctx.Done():
			return

		case result, ok := <-complete:
			if !ok {
				complete = nil
				continue
			}
			if result == nil {
				continue
			}
			publish(domain.ScanEvent{
				Kind:      domain.EventScanSuccess,
				SessionID: result.SessionID.String(),
				Text:      result.Text,
				Format:    result.Format,
			})

		case err, ok := <-scanErrors:
			if !ok {
				scanErrors = nil
				continue
			}
			publish(domain.ScanEvent{
				Kind:  domain.EventScanError,
				Error: errorText(err),
			})

		case devices, ok := <-found:
			if !ok {
				found = nil
				continue
			}
			publish(domain.ScanEvent{
				Kind:    domain.EventCamerasFound,
				Devices: devices,
			})

		case err, ok := <-notFound:
			if !ok {
				notFound = nil
				continue
			}
			publish(domain.ScanEvent{
				Kind:  domain.EventCamerasNotFound,
				Error: errorText(err),
			})

		case permission, ok := <-permissions:
			if !ok {
				permissions = nil
				continue
			}
			publish(domain.ScanEvent{
				Kind:       domain.EventPermission,
				Permission: permission.String(),
			})
		}
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
