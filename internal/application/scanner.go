package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"barcode-scanner/internal/domain"
)

// DefaultScanThrottling пауза между попытками у сканера по умолчанию
const DefaultScanThrottling = 1500 * time.Millisecond

// ScannerOptions входные параметры сканера
type ScannerOptions struct {
	Throttling time.Duration // Пауза между попытками
	Enabled    bool          // Разрешено ли сканирование
	CSSClass   string        // Класс элемента предпросмотра
	Autofocus  bool          // Автофокус элемента предпросмотра
	Reader     ReaderOptions // Настройки цикла, Delay берется из Throttling
}

// DefaultScannerOptions возвращает настройки сканера по умолчанию
func DefaultScannerOptions() ScannerOptions {
	reader := DefaultReaderOptions()
	reader.ContinueAfterSuccess = true

	return ScannerOptions{
		Throttling: DefaultScanThrottling,
		Enabled:    true,
		Autofocus:  true,
		Reader:     reader,
	}
}

// Scanner компонент сканера: выбор камеры, запрос доступа и рассылка событий.
// Само сканирование делегируется CodeReader.
type Scanner struct {
	cameras     CameraManager
	permissions PermissionChecker
	decoder     Decoder
	clock       Clock
	logger      Logger
	preview     PreviewSink

	mu         sync.Mutex
	opts       ScannerOptions
	device     *domain.VideoDevice
	devices    []domain.VideoDevice
	permission domain.Permission
	reader     *CodeReader
	destroyed  bool

	ScanSuccess        *Emitter[string]
	ScanFailure        *Emitter[error]
	ScanError          *Emitter[error]
	ScanComplete       *Emitter[*domain.ScanResult]
	CamerasFound       *Emitter[[]domain.VideoDevice]
	CamerasNotFound    *Emitter[error]
	PermissionResponse *Emitter[domain.Permission]
}

// NewScanner создает новый сканер
func NewScanner(cameras CameraManager, permissions PermissionChecker, decoder Decoder, clock Clock, preview PreviewSink, logger Logger, opts ScannerOptions) *Scanner {
	if clock == nil {
		clock = SystemClock()
	}
	if preview == nil {
		preview = nopPreview{}
	}

	s := &Scanner{
		cameras:     cameras,
		permissions: permissions,
		decoder:     decoder,
		clock:       clock,
		logger:      logger,
		preview:     preview,
		opts:        opts,

		ScanSuccess:        NewEmitter[string]("scanSuccess"),
		ScanFailure:        NewEmitter[error]("scanFailure"),
		ScanError:          NewEmitter[error]("scanError"),
		ScanComplete:       NewEmitter[*domain.ScanResult]("scanComplete"),
		CamerasFound:       NewEmitter[[]domain.VideoDevice]("camerasFound"),
		CamerasNotFound:    NewEmitter[error]("camerasNotFound"),
		PermissionResponse: NewEmitter[domain.Permission]("permissionResponse"),
	}
	s.reader = s.newCodeReader(opts.Throttling)

	return s
}

func (s *Scanner) newCodeReader(throttling time.Duration) *CodeReader {
	readerOpts := s.opts.Reader
	readerOpts.Delay = throttling

	reader := NewCodeReader(s.cameras, s.decoder, s.clock, s.logger, readerOpts)
	reader.SetPreview(s.preview)
	return reader
}

// Init запрашивает доступ к камере, перечисляет устройства и запускает
// сканирование выбранного устройства
func (s *Scanner) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return domain.ErrDestroyed
	}

	s.preview.Configure(s.previewOptions())

	if s.askForPermission(ctx) != domain.PermissionGranted {
		s.logger.Warn("Пользователь не дал доступ к камере")
		return nil
	}

	devices, err := s.enumerateVideoDevices(ctx)
	if err == nil {
		if len(devices) > 0 {
			s.CamerasFound.Publish(devices)
		} else {
			s.CamerasNotFound.Publish(nil)
		}
	}

	s.startScan(ctx, s.device)
	return nil
}

func (s *Scanner) previewOptions() domain.PreviewOptions {
	return domain.PreviewOptions{
		Class:       s.opts.CSSClass,
		Autofocus:   s.opts.Autofocus,
		Autoplay:    false,
		Muted:       true,
		PlaysInline: true,
	}
}

// AskForPermission запрашивает доступ к камере и сообщает ответ подписчикам
func (s *Scanner) AskForPermission(ctx context.Context) domain.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.askForPermission(ctx)
}

func (s *Scanner) askForPermission(ctx context.Context) domain.Permission {
	permission, err := s.permissions.CheckPermission(ctx)

	switch permission {
	case domain.PermissionGranted:
		s.permission = domain.PermissionGranted
		s.PermissionResponse.Publish(domain.PermissionGranted)
	case domain.PermissionDenied:
		s.permission = domain.PermissionDenied
		s.PermissionResponse.Publish(domain.PermissionDenied)
	case domain.PermissionNoDevice:
		s.CamerasNotFound.Publish(err)
	default:
		s.permission = domain.PermissionUnknown
		s.PermissionResponse.Publish(domain.PermissionUnknown)
	}

	return permission
}

// Permission возвращает последний ответ на запрос доступа
func (s *Scanner) Permission() domain.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

// EnumerateDevices заново перечисляет видеоустройства
func (s *Scanner) EnumerateDevices(ctx context.Context) ([]domain.VideoDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enumerateVideoDevices(ctx)
}

func (s *Scanner) enumerateVideoDevices(ctx context.Context) ([]domain.VideoDevice, error) {
	if !s.cameras.EnumerationSupported() {
		s.logger.Error("Невозможно перечислить устройства: метод не поддерживается")
		return nil, domain.ErrEnumerationUnsupported
	}

	infos, err := s.cameras.ListDevices(ctx)
	if err != nil {
		s.logger.Error("Ошибка получения списка устройств: %v", err)
		return nil, err
	}

	s.devices = domain.NormalizeVideoDevices(infos)

	devices := make([]domain.VideoDevice, len(s.devices))
	copy(devices, s.devices)
	return devices, nil
}

// Devices возвращает устройства последнего перечисления
func (s *Scanner) Devices() []domain.VideoDevice {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := make([]domain.VideoDevice, len(s.devices))
	copy(devices, s.devices)
	return devices
}

// Device возвращает выбранное устройство
func (s *Scanner) Device() (domain.VideoDevice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return domain.VideoDevice{}, false
	}
	return *s.device, true
}

// State возвращает состояние цикла распознавания
func (s *Scanner) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return domain.StateDestroyed
	}
	return s.reader.State()
}

// SetEnabled включает или выключает сканирование выбранного устройства
func (s *Scanner) SetEnabled(ctx context.Context, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	s.opts.Enabled = enabled
	if !enabled {
		s.resetScan()
		return
	}
	if s.device != nil {
		s.scan(ctx, s.device.ID)
	}
}

// SetDevice выбирает устройство; nil останавливает сканирование
func (s *Scanner) SetDevice(ctx context.Context, device *domain.VideoDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	if device == nil {
		s.logger.Warn("Устройство не выбрано")
		s.device = nil
		s.resetScan()
		return
	}
	s.changeDevice(ctx, *device)
}

// SetThrottling пересоздает цикл распознавания с новой паузой
func (s *Scanner) SetThrottling(ctx context.Context, throttling time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	wasStreaming := s.reader.State() == domain.StateStreaming
	s.reader.Destroy()

	s.opts.Throttling = throttling
	s.reader = s.newCodeReader(throttling)

	if wasStreaming {
		s.startScan(ctx, s.device)
	}
}

// SetCSSClass меняет класс элемента предпросмотра
func (s *Scanner) SetCSSClass(class string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opts.CSSClass = class
	s.preview.Configure(s.previewOptions())
}

// SetAutofocus включает или выключает автофокус предпросмотра
func (s *Scanner) SetAutofocus(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opts.Autofocus = enabled
	s.preview.Configure(s.previewOptions())
}

// ChangeDevice переключает сканирование на указанное устройство
func (s *Scanner) ChangeDevice(ctx context.Context, device domain.VideoDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.changeDevice(ctx, device)
}

// ChangeDeviceByID переключает сканирование на устройство с указанным ID
func (s *Scanner) ChangeDeviceByID(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return domain.ErrDestroyed
	}

	device, ok := s.deviceByID(deviceID)
	if !ok {
		return domain.ErrDeviceNotFound
	}
	s.changeDevice(ctx, device)
	return nil
}

func (s *Scanner) deviceByID(deviceID string) (domain.VideoDevice, bool) {
	for _, device := range s.devices {
		if device.ID == deviceID {
			return device, true
		}
	}
	return domain.VideoDevice{}, false
}

// PreferredDevice возвращает тыловую камеру, если она есть, иначе первую
func (s *Scanner) PreferredDevice() (domain.VideoDevice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.devices) == 0 {
		return domain.VideoDevice{}, false
	}
	for _, device := range s.devices {
		if domain.IsEnvironmentFacing(device.Label) {
			return device, true
		}
	}
	return s.devices[0], true
}

func (s *Scanner) changeDevice(ctx context.Context, device domain.VideoDevice) {
	s.device = &device
	s.startScan(ctx, &device)
}

func (s *Scanner) startScan(ctx context.Context, device *domain.VideoDevice) {
	if s.opts.Enabled && device != nil {
		s.scan(ctx, device.ID)
	}
}

// scan запускает непрерывное сканирование устройства
func (s *Scanner) scan(ctx context.Context, deviceID string) {
	err := s.reader.DecodeFromInputVideoDevice(ctx, s.handleAttempt, deviceID)
	if err == nil || errors.Is(err, domain.ErrReaderReset) {
		return
	}
	s.dispatchScanError(err)
	s.dispatchScanComplete(nil)
}

func (s *Scanner) handleAttempt(result *domain.ScanResult, err error) {
	switch {
	case err == nil && result != nil:
		s.dispatchScanSuccess(result)
	case domain.IsScanFailure(err):
		s.dispatchScanFailure(err)
	default:
		s.dispatchScanError(err)
	}
	s.dispatchScanComplete(result)
}

// resetScan останавливает сканирование
func (s *Scanner) resetScan() {
	s.reader.Reset()
}

// Destroy останавливает сканирование и закрывает все каналы уведомлений
func (s *Scanner) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.destroyed = true
	s.reader.Destroy()

	s.ScanSuccess.Close()
	s.ScanFailure.Close()
	s.ScanError.Close()
	s.ScanComplete.Close()
	s.CamerasFound.Close()
	s.CamerasNotFound.Close()
	s.PermissionResponse.Close()
}

func (s *Scanner) dispatchScanSuccess(result *domain.ScanResult) {
	s.ScanSuccess.Publish(result.Text)
}

func (s *Scanner) dispatchScanFailure(err error) {
	s.ScanFailure.Publish(err)
}

func (s *Scanner) dispatchScanError(err error) {
	s.ScanError.Publish(err)
}

func (s *Scanner) dispatchScanComplete(result *domain.ScanResult) {
	s.ScanComplete.Publish(result)
}
