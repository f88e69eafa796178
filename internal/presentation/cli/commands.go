package cli

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Регистрируем декодеры изображений
	_ "image/png"
	"io"
	"os"
	"os/signal"

	"barcode-scanner/internal/application"
	"barcode-scanner/internal/domain"
)

// CLI представляет CLI интерфейс приложения
type CLI struct {
	cameras    application.CameraManager
	decoder    application.Decoder
	preview    application.PreviewSink
	publishers []application.EventPublisher
	logger     application.Logger
	config     *Config
	out        io.Writer
}

// NewCLI создает новый CLI интерфейс
func NewCLI(cameras application.CameraManager, decoder application.Decoder, logger application.Logger) *CLI {
	return &CLI{
		cameras: cameras,
		decoder: decoder,
		logger:  logger,
		out:     os.Stdout,
	}
}

// SetConfig устанавливает конфигурацию напрямую
func (c *CLI) SetConfig(config *Config) {
	c.config = config
}

// SetPreview подключает превью поверхности захвата
func (c *CLI) SetPreview(preview application.PreviewSink) {
	c.preview = preview
}

// AddPublisher добавляет получателя событий сканера
func (c *CLI) AddPublisher(publisher application.EventPublisher) {
	c.publishers = append(c.publishers, publisher)
}

// ParseFlags парсит аргументы командной строки
func (c *CLI) ParseFlags() *Config {
	config, err := ParseConfig(os.Args[0], os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(2)
	}

	c.config = config
	return config
}

// Run запускает CLI
func (c *CLI) Run() error {
	// Если нужно вывести список устройств
	if c.config.ListDevices {
		return c.listDevices(context.Background())
	}

	if c.config.ImagePath != "" {
		return c.decodeImage(c.config.ImagePath)
	}

	// Настраиваем обработку сигналов завершения
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return c.scan(ctx)
}

// scannerOptions переводит конфигурацию в настройки сканера
func (c *CLI) scannerOptions() application.ScannerOptions {
	opts := application.DefaultScannerOptions()
	opts.Throttling = c.config.Throttling
	opts.CSSClass = c.config.CSSClass
	opts.Autofocus = c.config.Autofocus
	opts.Reader.Width = c.config.Width
	opts.Reader.Height = c.config.Height
	return opts
}

// scan запускает сканер и печатает распознанные коды до прерывания
func (c *CLI) scan(ctx context.Context) error {
	clock := application.SystemClock()
	permissions := application.NewStreamPermissionChecker(c.cameras, c.logger)
	scanner := application.NewScanner(c.cameras, permissions, c.decoder, clock, c.preview, c.logger, c.scannerOptions())
	defer scanner.Destroy()

	results, unsubscribeResults := scanner.ScanComplete.Subscribe(16)
	defer unsubscribeResults()
	scanErrors, unsubscribeErrors := scanner.ScanError.Subscribe(16)
	defer unsubscribeErrors()

	if len(c.publishers) > 0 {
		go application.ForwardEvents(ctx, scanner, clock, c.logger, c.publishers...)
	}

	if err := scanner.Init(ctx); err != nil {
		return err
	}

	switch scanner.Permission() {
	case domain.PermissionGranted:
	case domain.PermissionDenied:
		return domain.ErrNotAllowed
	default:
		return fmt.Errorf("доступ к камере не получен: %s", scanner.Permission())
	}

	if err := c.selectDevice(ctx, scanner); err != nil {
		return err
	}

	c.logger.Info("Сканирование запущено, для выхода нажмите Ctrl+C")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Прерывание получено, закрытие...")
			return nil
		case result, ok := <-results:
			if !ok {
				return nil
			}
			if result == nil {
				continue
			}
			fmt.Fprintln(c.out, result.Text)
			c.logger.Debug("Распознан %s в сессии %s", result.Format, result.SessionID)
			if c.config.Once {
				return nil
			}
		case err, ok := <-scanErrors:
			if !ok {
				return nil
			}
			c.logger.Error("Ошибка сканирования: %v", err)
		}
	}
}

// selectDevice выбирает камеру из флага -device или тыловую по умолчанию
func (c *CLI) selectDevice(ctx context.Context, scanner *application.Scanner) error {
	if c.config.DeviceID != "" {
		if err := scanner.ChangeDeviceByID(ctx, c.config.DeviceID); err != nil {
			return fmt.Errorf("устройство %q: %w", c.config.DeviceID, err)
		}
		return nil
	}

	device, ok := scanner.PreferredDevice()
	if !ok {
		return domain.ErrNotFound
	}
	c.logger.Info("Используется камера %s (%s)", device.Label, device.ID)
	scanner.ChangeDevice(ctx, device)
	return nil
}

// decodeImage распознает штрихкод на файле изображения
func (c *CLI) decodeImage(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return fmt.Errorf("чтение изображения %s: %w", path, err)
	}

	reader := application.NewCodeReader(c.cameras, c.decoder, application.SystemClock(), c.logger, application.DefaultReaderOptions())
	defer reader.Destroy()

	result, err := reader.DecodeFromImage(img)
	if err != nil {
		if domain.IsScanFailure(err) {
			return fmt.Errorf("штрихкод не найден на %s: %w", path, err)
		}
		return err
	}

	fmt.Fprintf(c.out, "%s\t%s\n", result.Format, result.Text)
	return nil
}

// listDevices выводит список доступных устройств
func (c *CLI) listDevices(ctx context.Context) error {
	if !c.cameras.EnumerationSupported() {
		return domain.ErrEnumerationUnsupported
	}

	infos, err := c.cameras.ListDevices(ctx)
	if err != nil {
		return err
	}

	devices := domain.NormalizeVideoDevices(infos)
	if len(devices) == 0 {
		return errors.New("камеры не найдены")
	}

	fmt.Fprintln(c.out, "Доступные устройства:")
	for i, device := range devices {
		fmt.Fprintf(c.out, "[%d] %s (%s) id=%s\n", i, device.Label, device.Kind, device.ID)
	}

	return nil
}
