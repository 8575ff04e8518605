package xerr

import "errors"

// ProcessingError 标记任务处理错误是否可重试
type ProcessingError struct {
	Err       error
	Permanent bool
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return "processing error"
	}
	return e.Err.Error()
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Transient 可重试错误：超时、限流、依赖暂不可用
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Err: err}
}

// Permanent 不可重试错误：参数非法、数据不存在
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Err: err, Permanent: true}
}

// IsPermanent 未标记的错误按可重试处理
func IsPermanent(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}
