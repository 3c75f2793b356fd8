// Package deadletter - хранилища dead letter записей для broker.Client
package deadletter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"statarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileSink дописывает записи в JSONL файл, по одной на строку.
// Файл открывается на каждую запись: долгоживущий дескриптор не нужен,
// записей мало.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink создает sink. Каталог файла создается при первой записи.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path возвращает путь к файлу
func (s *FileSink) Path() string {
	return s.path
}

// Record дописывает запись в конец файла
func (s *FileSink) Record(ctx context.Context, dl *models.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dead letter dir: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open dead letter file: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write dead letter: %w", err)
	}
	return f.Close()
}
