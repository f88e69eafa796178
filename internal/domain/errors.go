package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAllowed платформа отказала в доступе к камере
	ErrNotAllowed = errors.New("доступ к камере запрещён")
	// ErrNotFound на устройстве нет подходящей камеры
	ErrNotFound = errors.New("камера не найдена")

	ErrEnumerationUnsupported = errors.New("перечисление устройств не поддерживается")
	ErrDeviceNotFound         = errors.New("устройство с таким ID не найдено")
	ErrNoVideoTrack           = errors.New("видеотрек не обнаружен")

	// ErrReaderReset захват прерван сбросом считывателя
	ErrReaderReset = errors.New("считыватель сброшен")
	ErrDestroyed   = errors.New("сканер уничтожен")
)

// FailureKind категория неудачной попытки распознавания
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureNotFound
	FailureChecksum
	FailureFormat
)

func (k FailureKind) String() string {
	switch k {
	case FailureNotFound:
		return "not-found"
	case FailureChecksum:
		return "checksum"
	case FailureFormat:
		return "format"
	default:
		return "other"
	}
}

// DecodeError ошибка распознавания с категорией
type DecodeError struct {
	Kind FailureKind
	Err  error
}

// NewDecodeError оборачивает ошибку декодера
func NewDecodeError(kind FailureKind, err error) *DecodeError {
	return &DecodeError{Kind: kind, Err: err}
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ошибка распознавания (%s)", e.Kind)
	}
	return fmt.Sprintf("ошибка распознавания (%s): %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Classify возвращает категорию ошибки распознавания.
// Всё, что не обёрнуто в DecodeError, считается FailureOther.
func Classify(err error) FailureKind {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Kind
	}
	return FailureOther
}

// IsScanFailure сообщает, что попытка просто не нашла читаемый код
func IsScanFailure(err error) bool {
	switch Classify(err) {
	case FailureNotFound, FailureChecksum, FailureFormat:
		return true
	}
	return false
}
