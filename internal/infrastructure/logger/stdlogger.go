package logger

import (
	"log"
)

// StdLogger простой логгер на основе стандартного log пакета
type StdLogger struct {
	prefix       string
	debugEnabled bool
}

// NewStdLogger создает новый логгер
func NewStdLogger(debugEnabled bool) *StdLogger {
	return &StdLogger{
		debugEnabled: debugEnabled,
	}
}

// WithPrefix возвращает логгер, добавляющий префикс компонента к каждому сообщению
func (l *StdLogger) WithPrefix(prefix string) *StdLogger {
	return &StdLogger{
		prefix:       "[" + prefix + "] ",
		debugEnabled: l.debugEnabled,
	}
}

// Info логирует информационное сообщение
func (l *StdLogger) Info(msg string, args ...interface{}) {
	log.Printf(l.prefix+msg, args...)
}

// Warn логирует предупреждение
func (l *StdLogger) Warn(msg string, args ...interface{}) {
	log.Printf(l.prefix+"ВНИМАНИЕ: "+msg, args...)
}

// Error логирует сообщение об ошибке
func (l *StdLogger) Error(msg string, args ...interface{}) {
	log.Printf(l.prefix+"ОШИБКА: "+msg, args...)
}

// Debug логирует отладочное сообщение
func (l *StdLogger) Debug(msg string, args ...interface{}) {
	if l.debugEnabled {
		log.Printf(l.prefix+"DEBUG: "+msg, args...)
	}
}
