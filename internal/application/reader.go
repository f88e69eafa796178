package application

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"barcode-scanner/internal/domain"
)

// DefaultScanDelay пауза между попытками распознавания по умолчанию
const DefaultScanDelay = 500 * time.Millisecond

// DecodeCallback вызывается после каждой попытки распознавания.
// Ровно одно из значений не nil.
type DecodeCallback func(result *domain.ScanResult, err error)

// ReaderOptions настройки цикла распознавания
type ReaderOptions struct {
	Delay                        time.Duration // Пауза между попытками
	RetryIfNotFound              bool          // Повторять, если код не найден
	RetryIfChecksumOrFormatError bool          // Повторять при ошибке контрольной суммы или формата
	ContinueAfterSuccess         bool          // Продолжать сканирование после успешного результата
	Width                        int           // Желаемая ширина кадра
	Height                       int           // Желаемая высота кадра
}

// DefaultReaderOptions возвращает настройки по умолчанию
func DefaultReaderOptions() ReaderOptions {
	return ReaderOptions{
		Delay:                        DefaultScanDelay,
		RetryIfNotFound:              true,
		RetryIfChecksumOrFormatError: true,
	}
}

// frameSource источник снимков: видеопоток или статичное изображение
type frameSource interface {
	Snapshot() (image.Image, func(), error)
	Close() error
}

type videoSource struct {
	reader domain.FrameReader
}

func (s *videoSource) Snapshot() (image.Image, func(), error) {
	img, release, err := s.reader.Read()
	if err != nil {
		return nil, nil, err
	}
	if release == nil {
		release = func() {}
	}
	return img, release, nil
}

func (s *videoSource) Close() error {
	return s.reader.Close()
}

type imageSource struct {
	img image.Image
}

func (s *imageSource) Snapshot() (image.Image, func(), error) {
	return s.img, func() {}, nil
}

func (s *imageSource) Close() error {
	return nil
}

// CodeReader цикл захвата и распознавания: держит поток камеры,
// источник кадров, поверхность захвата и таймер повтора.
//
// Все попытки последовательны: следующая планируется только после
// завершения предыдущей. Каждая попытка помечена поколением, сброс
// увеличивает поколение, и устаревшие вызовы таймера ничего не делают.
type CodeReader struct {
	cameras CameraManager
	decoder Decoder
	clock   Clock
	logger  Logger
	preview PreviewSink
	opts    ReaderOptions

	acquire sync.Mutex // сериализует захват камеры

	mu         sync.Mutex
	state      domain.SessionState
	generation uint64
	sessionID  uuid.UUID
	stream     domain.MediaStream
	source     frameSource
	surface    *image.RGBA
	timer      Timer
}

// NewCodeReader создает новый цикл распознавания
func NewCodeReader(cameras CameraManager, decoder Decoder, clock Clock, logger Logger, opts ReaderOptions) *CodeReader {
	if clock == nil {
		clock = SystemClock()
	}
	return &CodeReader{
		cameras: cameras,
		decoder: decoder,
		clock:   clock,
		logger:  logger,
		preview: nopPreview{},
		opts:    opts,
		state:   domain.StateIdle,
	}
}

// SetPreview подключает приёмник предпросмотра
func (r *CodeReader) SetPreview(preview PreviewSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if preview == nil {
		preview = nopPreview{}
	}
	r.preview = preview
}

// Options возвращает текущие настройки
func (r *CodeReader) Options() ReaderOptions {
	return r.opts
}

// State возвращает состояние цикла
func (r *CodeReader) State() domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SessionID возвращает идентификатор текущей сессии захвата
func (r *CodeReader) SessionID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// DecodeFromInputVideoDevice открывает камеру и запускает непрерывное распознавание.
// Пустой deviceID означает тыловую камеру, если такая есть.
// Ошибка захвата возвращается вызывающему и не повторяется.
func (r *CodeReader) DecodeFromInputVideoDevice(ctx context.Context, callback DecodeCallback, deviceID string) error {
	r.Reset()

	r.acquire.Lock()
	defer r.acquire.Unlock()

	r.mu.Lock()
	if r.state == domain.StateDestroyed {
		r.mu.Unlock()
		return domain.ErrDestroyed
	}
	gen := r.generation
	r.mu.Unlock()

	constraints := domain.VideoConstraints{
		DeviceID:          deviceID,
		PreferEnvironment: deviceID == "",
		Width:             r.opts.Width,
		Height:            r.opts.Height,
	}

	stream, err := r.cameras.OpenCamera(ctx, constraints)
	if err != nil {
		r.logger.Error("Ошибка открытия камеры %q: %v", deviceID, err)
		return fmt.Errorf("открытие камеры: %w", err)
	}

	return r.startDecodeFromStream(gen, stream, callback)
}

// startDecodeFromStream привязывает поток к источнику кадров и планирует первую попытку
func (r *CodeReader) startDecodeFromStream(gen uint64, stream domain.MediaStream, callback DecodeCallback) error {
	tracks := stream.Tracks()
	if len(tracks) == 0 {
		r.stopStream(stream)
		return domain.ErrNoVideoTrack
	}

	reader, err := tracks[0].CreateReader()
	if err != nil {
		r.logger.Error("Ошибка создания ридера: %v", err)
		r.stopStream(stream)
		return fmt.Errorf("создание ридера: %w", err)
	}

	r.mu.Lock()
	if gen != r.generation || r.state == domain.StateDestroyed {
		r.mu.Unlock()
		r.logger.Debug("Захват камеры устарел, поток освобождается")
		reader.Close()
		r.stopStream(stream)
		return domain.ErrReaderReset
	}

	r.stream = stream
	r.source = &videoSource{reader: reader}
	r.state = domain.StateStreaming
	r.sessionID = uuid.New()
	r.logger.Info("Используется камера: %s (сессия %s)", tracks[0].ID(), r.sessionID)

	r.scheduleLocked(gen, callback)
	r.mu.Unlock()

	return nil
}

// DecodeFromImage распознает статичное изображение один раз, без повторов
func (r *CodeReader) DecodeFromImage(img image.Image) (*domain.ScanResult, error) {
	r.Reset()

	r.mu.Lock()
	if r.state == domain.StateDestroyed {
		r.mu.Unlock()
		return nil, domain.ErrDestroyed
	}
	r.source = &imageSource{img: img}
	r.sessionID = uuid.New()
	gen := r.generation
	sessionID := r.sessionID
	r.mu.Unlock()

	defer r.Reset()

	result, err := r.decodeSnapshot(gen, img)
	if err != nil {
		return nil, err
	}
	result.SessionID = sessionID
	return result, nil
}

// scheduleLocked планирует следующую попытку. Вызывается под r.mu.
func (r *CodeReader) scheduleLocked(gen uint64, callback DecodeCallback) {
	if r.source == nil {
		return
	}
	r.timer = r.clock.AfterFunc(r.opts.Delay, func() {
		r.decode(gen, callback)
	})
}

func (r *CodeReader) reschedule(gen uint64, callback DecodeCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || r.state != domain.StateStreaming {
		return
	}
	r.scheduleLocked(gen, callback)
}

// current сообщает, что попытка поколения gen всё ещё актуальна
func (r *CodeReader) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.generation && r.state == domain.StateStreaming
}

// decode выполняет одну попытку распознавания текущего кадра
func (r *CodeReader) decode(gen uint64, callback DecodeCallback) {
	r.mu.Lock()
	if gen != r.generation || r.state != domain.StateStreaming || r.source == nil {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	src := r.source
	sessionID := r.sessionID
	r.mu.Unlock()

	img, release, err := src.Snapshot()
	if err != nil {
		if !r.current(gen) {
			return
		}
		r.logger.Error("Ошибка чтения кадра: %v", err)
		callback(nil, fmt.Errorf("чтение кадра: %w", err))
		return
	}

	result, err := r.decodeSnapshot(gen, img)
	release()

	if !r.current(gen) {
		return
	}

	if err == nil {
		result.SessionID = sessionID
		r.logger.Debug("Код распознан: %q", result.Text)
		callback(result, nil)
		if r.opts.ContinueAfterSuccess {
			r.reschedule(gen, callback)
		}
		return
	}

	retry := false
	switch domain.Classify(err) {
	case domain.FailureNotFound:
		if r.opts.RetryIfNotFound {
			r.logger.Debug("Код не найден, повторная попытка...")
			retry = true
		}
	case domain.FailureChecksum, domain.FailureFormat:
		if r.opts.RetryIfChecksumOrFormatError {
			r.logger.Warn("Ошибка контрольной суммы или формата, повторная попытка: %v", err)
			retry = true
		}
	}

	callback(nil, err)
	if retry {
		r.reschedule(gen, callback)
	}
}

var errStaleAttempt = errors.New("попытка устарела")

// decodeSnapshot рисует снимок на поверхности захвата и передает её декодеру
func (r *CodeReader) decodeSnapshot(gen uint64, img image.Image) (*domain.ScanResult, error) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return nil, errStaleAttempt
	}
	if r.surface == nil {
		r.surface = prepareCaptureSurface(img.Bounds())
	}
	surface := r.surface
	preview := r.preview
	r.mu.Unlock()

	drawSnapshot(surface, img)
	preview.Present(surface)

	result, err := r.decoder.Decode(surface)
	if err != nil {
		return nil, err
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = r.clock.Now()
	}
	return result, nil
}

// prepareCaptureSurface создает поверхность захвата по размерам первого кадра
func prepareCaptureSurface(bounds image.Rectangle) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
}

func drawSnapshot(surface *image.RGBA, img image.Image) {
	sb := img.Bounds()
	if sb.Dx() == surface.Bounds().Dx() && sb.Dy() == surface.Bounds().Dy() {
		draw.Copy(surface, image.Point{}, img, sb, draw.Src, nil)
		return
	}
	// Разрешение камеры изменилось после создания поверхности
	draw.ApproxBiLinear.Scale(surface, surface.Bounds(), img, sb, draw.Src, nil)
}

// Stop останавливает сканирование и поток камеры
func (r *CodeReader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *CodeReader) stopLocked() {
	r.generation++

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	if r.stream != nil {
		r.stopStream(r.stream)
		r.stream = nil
	}

	if r.state == domain.StateStreaming {
		r.state = domain.StateIdle
	}
}

// Reset останавливает сканирование и забывает источник кадров и поверхность захвата
func (r *CodeReader) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *CodeReader) resetLocked() {
	r.stopLocked()

	if r.source != nil {
		if err := r.source.Close(); err != nil {
			r.logger.Error("Ошибка закрытия ридера: %v", err)
		}
		r.source = nil
	}

	r.surface = nil
	r.preview.Clear()
}

// Destroy сбрасывает цикл и запрещает дальнейшие запуски
func (r *CodeReader) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	r.state = domain.StateDestroyed
}

// stopStream останавливает все треки потока
func (r *CodeReader) stopStream(stream domain.MediaStream) {
	if err := stopTracks(stream); err != nil {
		r.logger.Error("Ошибка закрытия трека: %v", err)
	}
}

func stopTracks(stream domain.MediaStream) error {
	var errs []error
	for _, track := range stream.Tracks() {
		if err := track.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
