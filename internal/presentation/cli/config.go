package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"barcode-scanner/internal/application"
)

// Config представляет конфигурацию CLI
type Config struct {
	ConfigFile  string `yaml:"-"`
	ListDevices bool   `yaml:"-"`
	ImagePath   string `yaml:"-"`
	Once        bool   `yaml:"-"`

	DeviceID   string        `yaml:"device"`
	Throttling time.Duration `yaml:"throttling"`
	Debug      bool          `yaml:"debug"`
	Formats    string        `yaml:"formats"`
	Width      int           `yaml:"width"`
	Height     int           `yaml:"height"`

	Relay      string `yaml:"relay"`
	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`

	PreviewAddr string `yaml:"preview_addr"`
	CSSClass    string `yaml:"css_class"`
	Autofocus   bool   `yaml:"autofocus"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Throttling: application.DefaultScanThrottling,
		Formats:    "qr,code128,code39,ean13,ean8,upca,upce,itf",
		Width:      640,
		Height:     480,
		MQTTTopic:  "barcode-scanner/events",
		Autofocus:  true,
	}
}

// LoadConfigFile дополняет config значениями из YAML файла
func LoadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return config.Validate()
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	if c.Throttling <= 0 {
		return errors.New("throttling должен быть больше нуля")
	}
	if c.Width < 0 || c.Height < 0 {
		return errors.New("размер кадра не может быть отрицательным")
	}
	return nil
}

func bindFlags(fs *flag.FlagSet, config *Config) {
	fs.StringVar(&config.ConfigFile, "config", config.ConfigFile, "путь к YAML файлу конфигурации")
	fs.StringVar(&config.DeviceID, "device", config.DeviceID, "ID устройства камеры для использования")
	fs.BoolVar(&config.ListDevices, "list-devices", config.ListDevices, "показать список доступных камер и выйти")
	fs.DurationVar(&config.Throttling, "throttling", config.Throttling, "пауза между попытками распознавания")
	fs.BoolVar(&config.Debug, "debug", config.Debug, "включить отладочные сообщения")
	fs.StringVar(&config.ImagePath, "image", config.ImagePath, "распознать штрихкод на изображении (PNG или JPEG) и выйти")
	fs.StringVar(&config.Formats, "formats", config.Formats, "форматы штрихкодов через запятую")
	fs.IntVar(&config.Width, "width", config.Width, "желаемая ширина кадра")
	fs.IntVar(&config.Height, "height", config.Height, "желаемая высота кадра")
	fs.StringVar(&config.Relay, "relay", config.Relay, "адрес ретранслятора событий (host:port)")
	fs.StringVar(&config.MQTTBroker, "mqtt-broker", config.MQTTBroker, "адрес MQTT брокера (host:port)")
	fs.StringVar(&config.MQTTTopic, "mqtt-topic", config.MQTTTopic, "корневой MQTT топик для событий")
	fs.StringVar(&config.PreviewAddr, "preview-addr", config.PreviewAddr, "адрес HTTP превью, пусто - отключено")
	fs.StringVar(&config.CSSClass, "css-class", config.CSSClass, "CSS-класс элемента превью")
	fs.BoolVar(&config.Autofocus, "autofocus", config.Autofocus, "автофокус элемента превью")
	fs.BoolVar(&config.Once, "once", config.Once, "завершить работу после первого распознанного кода")
}

// ParseConfig разбирает аргументы командной строки. Если задан -config,
// сначала читается файл, затем явно указанные флаги перекрывают его значения.
func ParseConfig(name string, args []string, output io.Writer) (*Config, error) {
	config := DefaultConfig()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	bindFlags(fs, config)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if config.ConfigFile != "" {
		fileConfig := DefaultConfig()
		if err := LoadConfigFile(config.ConfigFile, fileConfig); err != nil {
			return nil, err
		}

		overlay := flag.NewFlagSet(name, flag.ContinueOnError)
		overlay.SetOutput(io.Discard)
		bindFlags(overlay, fileConfig)
		if err := overlay.Parse(args); err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
