// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/meddispense/dispensing-module/internal/repository"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)

// FieldError — ошибка валидации одного поля.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError — набор ошибок валидации по полям.
// errors.Is(err, ErrValidation) истинно для ValidationError.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Is сопоставляет ValidationError с ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add добавляет ошибку поля.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// OrNil возвращает e, если ошибки есть, иначе nil.
func (e *ValidationError) OrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// fieldError — ValidationError с одним полем.
func fieldError(field, message string) error {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// notFoundOr переводит repository.ErrNotFound в ErrNotFound, прочие ошибки
// оборачивает сообщением msg.
func notFoundOr(err error, msg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
