package global

// ErrorBody HTTP 错误响应体
type ErrorBody struct {
	Detail string `json:"detail"`
}

func Fail(detail string) *ErrorBody {
	return &ErrorBody{Detail: detail}
}
