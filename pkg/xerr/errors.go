package xerr

import "fmt"

// Business codes carried in common.Response.Code.
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	Conflict           = 409
	TooManyRequests    = 429
	ServerCommonError  = 500
	DbError            = 501
	UpstreamError      = 502
	NotConfigured      = 503
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "internal error"
	case RequestParamsError:
		return "invalid parameters"
	case DbError:
		return "database unavailable"
	case RecordNotFound:
		return "not found"
	case Conflict:
		return "already in progress"
	case TooManyRequests:
		return "too many requests"
	case UpstreamError:
		return "upstream request failed"
	case NotConfigured:
		return "not configured"
	default:
		return "unknown error"
	}
}
