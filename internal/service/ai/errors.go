package ai

import (
	"errors"
	"fmt"
	"net/http"

	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
)

var (
	// ErrRateLimited 模型服务返回 429。
	ErrRateLimited = errors.New("ai: rate limit exceeded")
	// ErrQuotaExceeded 模型服务返回 402，账户额度不足。
	ErrQuotaExceeded = errors.New("ai: quota exceeded")
)

// ClassifyError 把 Ark 返回的 HTTP 状态映射为 ErrRateLimited / ErrQuotaExceeded，其余错误原样返回。
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	switch statusOf(err) {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	}
	return err
}

func statusOf(err error) int {
	var apiErr *arkmodel.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *arkmodel.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
