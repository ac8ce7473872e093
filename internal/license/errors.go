package license

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind 业务错误分类
type Kind int

const (
	// KindNotFound 序号/启用记录/事件不存在
	KindNotFound Kind = iota + 1
	// KindInvalidState 许可证状态不允许该操作
	KindInvalidState
	// KindLimitExceeded 启用数量已达上限
	KindLimitExceeded
	// KindForbidden KeyPro 不符、硬件在黑名单、或拉黑前置条件不满足
	KindForbidden
	// KindCryptoFailure 签名或加密失败，服务端问题，已提交的状态变更不回滚
	KindCryptoFailure
	// KindValidationError 请求格式错误
	KindValidationError
	// KindRateLimited 请求过于频繁（由外层限流触发）
	KindRateLimited
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus 映射到对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return fiber.StatusNotFound
	case KindInvalidState:
		return fiber.StatusBadRequest
	case KindLimitExceeded:
		return fiber.StatusForbidden
	case KindForbidden:
		return fiber.StatusForbidden
	case KindCryptoFailure:
		return fiber.StatusInternalServerError
	case KindValidationError:
		return fiber.StatusUnprocessableEntity
	case KindRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// AsError 取出业务错误，不是业务错误时返回 nil
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
