package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation 输入不合法
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 窗口内无数据或设备不存在
	ErrNotFound = errors.New("not found")
	// ErrConflict 状态冲突（例如重复关闭配对）
	ErrConflict = errors.New("conflict")
)

// StorageError 存储层读写失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Timeout 是否由调用方的截止时间导致
func (e *StorageError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// NewStorageError 包装存储错误；NotFound/Conflict 原样透传
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Validationf 构造校验错误
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
