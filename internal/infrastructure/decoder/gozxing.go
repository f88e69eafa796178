package decoder

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"barcode-scanner/internal/application"
	"barcode-scanner/internal/domain"
)

// DefaultFormats форматы, которые распознаются без явной настройки
var DefaultFormats = []string{"qr", "code128", "code39", "ean13", "ean8", "upca", "upce", "itf"}

type format struct {
	barcode   gozxing.BarcodeFormat
	newReader func() gozxing.Reader
}

var knownFormats = map[string]format{
	"qr":      {gozxing.BarcodeFormat_QR_CODE, func() gozxing.Reader { return qrcode.NewQRCodeReader() }},
	"code128": {gozxing.BarcodeFormat_CODE_128, func() gozxing.Reader { return oned.NewCode128Reader() }},
	"code39":  {gozxing.BarcodeFormat_CODE_39, func() gozxing.Reader { return oned.NewCode39Reader() }},
	"ean13":   {gozxing.BarcodeFormat_EAN_13, func() gozxing.Reader { return oned.NewEAN13Reader() }},
	"ean8":    {gozxing.BarcodeFormat_EAN_8, func() gozxing.Reader { return oned.NewEAN8Reader() }},
	"upca":    {gozxing.BarcodeFormat_UPC_A, func() gozxing.Reader { return oned.NewUPCAReader() }},
	"upce":    {gozxing.BarcodeFormat_UPC_E, func() gozxing.Reader { return oned.NewUPCEReader() }},
	"itf":     {gozxing.BarcodeFormat_ITF, func() gozxing.Reader { return oned.NewITFReader() }},
}

// ZXingDecoder декодер штрихкодов на основе gozxing
type ZXingDecoder struct {
	mu      sync.Mutex
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
	logger  application.Logger
}

// NewZXingDecoder создает декодер для перечисленных форматов.
// Пустой список означает DefaultFormats.
func NewZXingDecoder(formats []string, tryHarder bool, logger application.Logger) (*ZXingDecoder, error) {
	if len(formats) == 0 {
		formats = DefaultFormats
	}

	d := &ZXingDecoder{
		hints:  make(map[gozxing.DecodeHintType]interface{}),
		logger: logger,
	}

	possible := make([]gozxing.BarcodeFormat, 0, len(formats))
	seen := make(map[string]bool)
	for _, name := range formats {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		f, ok := knownFormats[name]
		if !ok {
			return nil, fmt.Errorf("неизвестный формат штрихкода %q", name)
		}
		seen[name] = true
		d.readers = append(d.readers, f.newReader())
		possible = append(possible, f.barcode)
	}
	if len(d.readers) == 0 {
		return nil, errors.New("не задано ни одного формата штрихкода")
	}

	d.hints[gozxing.DecodeHintType_POSSIBLE_FORMATS] = possible
	if tryHarder {
		d.hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	return d, nil
}

// ParseFormats разбирает список форматов через запятую
func ParseFormats(list string) []string {
	var formats []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			formats = append(formats, name)
		}
	}
	return formats
}

// Decode ищет штрихкод на снимке, пробуя читатели по очереди
func (d *ZXingDecoder) Decode(img image.Image) (*domain.ScanResult, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("подготовка снимка: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var failure *domain.DecodeError
	for _, reader := range d.readers {
		result, err := reader.Decode(bmp, d.hints)
		reader.Reset()
		if err == nil && result != nil {
			return toScanResult(result), nil
		}

		candidate := classify(err)
		if failure == nil || rank(candidate.Kind) > rank(failure.Kind) {
			failure = candidate
		}
	}

	d.logger.Debug("Штрихкод не распознан: %v", failure)
	return nil, failure
}

// classify переводит исключения gozxing в категории ошибок распознавания
func classify(err error) *domain.DecodeError {
	var (
		notFound gozxing.NotFoundException
		checksum gozxing.ChecksumException
		format   gozxing.FormatException
	)
	switch {
	case err == nil:
		return domain.NewDecodeError(domain.FailureNotFound, gozxing.NewNotFoundException())
	case errors.As(err, &checksum):
		return domain.NewDecodeError(domain.FailureChecksum, err)
	case errors.As(err, &format):
		return domain.NewDecodeError(domain.FailureFormat, err)
	case errors.As(err, &notFound):
		return domain.NewDecodeError(domain.FailureNotFound, err)
	default:
		return domain.NewDecodeError(domain.FailureOther, err)
	}
}

// rank порядок важности: найденный, но битый символ важнее ненайденного.
// Прочие ошибки отдаются, только если ни один читатель не дал ничего лучше.
func rank(kind domain.FailureKind) int {
	switch kind {
	case domain.FailureChecksum, domain.FailureFormat:
		return 2
	case domain.FailureNotFound:
		return 1
	default:
		return 0
	}
}

func toScanResult(result *gozxing.Result) *domain.ScanResult {
	points := make([]domain.Point, 0, len(result.GetResultPoints()))
	for _, p := range result.GetResultPoints() {
		points = append(points, domain.Point{X: p.GetX(), Y: p.GetY()})
	}

	return &domain.ScanResult{
		Text:      result.GetText(),
		Format:    result.GetBarcodeFormat().String(),
		RawBytes:  result.GetRawBytes(),
		Points:    points,
		Timestamp: time.Now(),
	}
}
