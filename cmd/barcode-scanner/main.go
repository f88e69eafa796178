package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/google/uuid"

	"barcode-scanner/internal/infrastructure/camera"
	"barcode-scanner/internal/infrastructure/decoder"
	"barcode-scanner/internal/infrastructure/logger"
	"barcode-scanner/internal/infrastructure/messaging"
	"barcode-scanner/internal/infrastructure/preview"
	"barcode-scanner/internal/infrastructure/streaming"
	"barcode-scanner/internal/presentation/cli"
)

func main() {
	// Создаем CLI интерфейс для парсинга флагов
	cliApp := cli.NewCLI(nil, nil, nil)

	// Парсим флаги
	config := cliApp.ParseFlags()

	// Инициализируем логгер
	stdLogger := logger.NewStdLogger(config.Debug)

	// Инициализируем инфраструктурные компоненты
	cameraManager := camera.NewMediaDevicesManager(stdLogger.WithPrefix("camera"))
	zxing, err := decoder.NewZXingDecoder(decoder.ParseFormats(config.Formats), true, stdLogger.WithPrefix("decoder"))
	if err != nil {
		log.Fatalf("Ошибка: %v", err)
	}

	// Внедряем зависимости в CLI без повторного парсинга флагов
	cliApp = cli.NewCLI(cameraManager, zxing, stdLogger)
	cliApp.SetConfig(config) // Устанавливаем конфигурацию напрямую без парсинга

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if config.PreviewAddr != "" {
		httpPreview := preview.NewHTTPPreview(config.Throttling, stdLogger.WithPrefix("preview"))
		cliApp.SetPreview(httpPreview)
		go func() {
			if err := httpPreview.Serve(ctx, config.PreviewAddr); err != nil {
				stdLogger.Error("Превью остановлено: %v", err)
			}
		}()
	}

	if config.Relay != "" {
		relay := streaming.NewWebSocketPublisher(stdLogger.WithPrefix("relay"), config.Debug)
		if err := relay.Connect(ctx, fmt.Sprintf("ws://%s/ws", config.Relay)); err != nil {
			log.Fatalf("Ошибка: %v", err)
		}
		defer relay.Close()
		cliApp.AddPublisher(relay)
	}

	if config.MQTTBroker != "" {
		mqttPublisher := messaging.NewMQTTPublisher(messaging.MQTTConfig{
			Broker:   config.MQTTBroker,
			ClientID: "barcode-scanner-" + uuid.NewString()[:8],
			Topic:    config.MQTTTopic,
		}, stdLogger.WithPrefix("mqtt"))
		if err := mqttPublisher.Connect(ctx); err != nil {
			log.Fatalf("Ошибка: %v", err)
		}
		defer mqttPublisher.Close()
		cliApp.AddPublisher(mqttPublisher)
	}

	// Запускаем CLI
	if err := cliApp.Run(); err != nil {
		stdLogger.Error("%v", err)
		stop()
		os.Exit(1)
	}
}
