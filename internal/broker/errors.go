package broker

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrOrderNotFound - брокер не знает такого ордера (404)
var ErrOrderNotFound = errors.New("broker: order not found")

// APIError - ответ брокера с кодом 4xx, который не повторяется.
// Вызывающий классифицирует его методами IsDuplicateClientOrderID / IsWashTrade.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Code       int    // код ошибки брокера, если есть
	Message    string // message из тела или тело целиком
	// ExistingOrderID - ордер, на который указывает отказ wash trade
	ExistingOrderID string
	Body            []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker %s %s: HTTP %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
}

// IsDuplicateClientOrderID - брокер уже принял ордер с этим client_order_id
func (e *APIError) IsDuplicateClientOrderID() bool {
	if e.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "client_order_id") && strings.Contains(msg, "unique")
}

// IsWashTrade - отказ из-за встречного открытого ордера по тому же символу
func (e *APIError) IsWashTrade() bool {
	if e.StatusCode != http.StatusForbidden {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "wash trade") || strings.Contains(msg, "opposite side")
}

// newAPIError разбирает тело ответа {"code":..., "message":..., "existing_order_id":...}
func newAPIError(method, endpoint string, status int, body []byte) *APIError {
	e := &APIError{Method: method, Endpoint: endpoint, StatusCode: status, Body: body}

	var parsed struct {
		Code            int      `json:"code"`
		Message         string   `json:"message"`
		ExistingOrderID string   `json:"existing_order_id"`
		RelatedOrders   []string `json:"related_orders"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		e.Code = parsed.Code
		e.Message = parsed.Message
		e.ExistingOrderID = parsed.ExistingOrderID
		if e.ExistingOrderID == "" && len(parsed.RelatedOrders) > 0 {
			e.ExistingOrderID = parsed.RelatedOrders[0]
		}
		return e
	}

	e.Message = strings.TrimSpace(string(body))
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// ExhaustedRetriesError - все попытки запроса неудачны, dead letter уже записан
type ExhaustedRetriesError struct {
	Method     string
	Endpoint   string
	Attempts   int
	LastStatus int // 0 - ответа не было (сетевая ошибка)
	Err        error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("broker %s %s: gave up after %d attempts: %v", e.Method, e.Endpoint, e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Err
}

// ============================================================
// Ошибки одной попытки (повторяемые)
// ============================================================

// statusError - 429 или 5xx
type statusError struct {
	StatusCode    int
	Body          []byte
	retryAfter    time.Duration
	hasRetryAfter bool
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *statusError) Retryable() bool { return true }

// RetryAfter реализует retry.RetryAfterHint
func (e *statusError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.hasRetryAfter
}

// transportError - запрос не дошел или ответ не прочитан
type transportError struct {
	Err error
}

func (e *transportError) Error() string   { return e.Err.Error() }
func (e *transportError) Unwrap() error   { return e.Err }
func (e *transportError) Retryable() bool { return true }

// isRetryableStatus - 429 и весь диапазон 5xx
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// parseRetryAfter понимает секунды (в т.ч. дробные) и HTTP-date
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
