package errno

import "errors"

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage 复制一份错误码并替换提示信息
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: msg}
}

// Is 让 errors.Is 按错误码比较，WithMessage 之后依然能命中
func (e Errno) Is(target error) bool {
	var t Errno
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var typed Errno
	if errors.As(err, &typed) {
		return typed.Code, err.Error()
	}
	return InternalServerError.Code, err.Error()
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
	ErrSignature        = Errno{Code: 10005, Message: "Invalid request signature"}
)

// Business Errors (20000+)
var (
	ErrValidation        = Errno{Code: 20001, Message: "Validation failed"}
	ErrNotFound          = Errno{Code: 20002, Message: "Record not found"}
	ErrInvalidState      = Errno{Code: 20101, Message: "Donation is not in a state that allows this transition"}
	ErrStoryNotFound     = Errno{Code: 20102, Message: "Story not found"}
	ErrDuplicateEvent    = Errno{Code: 20201, Message: "Deposit event already recorded"}
	ErrUnmatchedDeposit  = Errno{Code: 20202, Message: "No pending donation matches the deposit"}
	ErrDepositConsumed   = Errno{Code: 20203, Message: "Deposit already consumed by another donation"}
	ErrExternalService   = Errno{Code: 20301, Message: "External service unavailable"}
	ErrSettlementPartial = Errno{Code: 20401, Message: "Settlement batch changed during marking"}
)
