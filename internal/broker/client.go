package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"statarb/internal/models"
	"statarb/pkg/ratelimit"
	"statarb/pkg/retry"
	"statarb/pkg/utils"
)

// NoRetries в Request.MaxRetries или ClientConfig.MaxRetries - ровно одна попытка
const NoRetries = -1

// DeadLetterSink - хранилище запросов, исчерпавших попытки
type DeadLetterSink interface {
	Record(ctx context.Context, dl *models.DeadLetter) error
}

// ClientConfig - параметры устойчивого клиента
type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration // на одну попытку (default: 20s)
	MaxRetries  int           // повторы после первой попытки (0 = 6, NoRetries = без повторов)
	BaseBackoff time.Duration // база экспоненты (default: 500ms)

	// DefaultHeaders добавляются к каждому запросу (ключи API).
	// В dead letter не попадают.
	DefaultHeaders map[string]string
}

// Request - один логический запрос к брокеру
type Request struct {
	Method   string
	Endpoint string // путь относительно BaseURL или абсолютный URL
	Headers  map[string]string
	Params   url.Values
	Body     []byte

	// MaxRetries: 0 = значение клиента, NoRetries = одна попытка
	MaxRetries  int
	BaseBackoff time.Duration // 0 = значение клиента

	// Context - теги вызывающего (pair_id, leg, ...), идут в логи и dead letter
	Context map[string]interface{}
}

// Response - ответ брокера с не-повторяемым статусом (2xx или 4xx кроме 429)
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode разбирает JSON тело ответа
func (r *Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// OK - статус 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client - HTTP клиент брокера с ограничением частоты, повторами и dead letter.
//
// Ограничитель частоты принадлежит экземпляру и разделяется всеми копиями,
// полученными через WithRun.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *ratelimit.RateLimiter
	sink    DeadLetterSink
	logger  *utils.Logger
	run     models.RunInfo

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient создает клиента. httpClient == nil - транспорт по умолчанию.
func NewClient(cfg ClientConfig, httpClient *http.Client, limiter *ratelimit.RateLimiter, sink DeadLetterSink, logger *utils.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	switch {
	case cfg.MaxRetries == NoRetries:
		cfg.MaxRetries = 0
	case cfg.MaxRetries <= 0:
		cfg.MaxRetries = retry.DefaultConfig().MaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = retry.DefaultConfig().BaseDelay
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPClientConfig())
	}
	if limiter == nil {
		limiter = ratelimit.NewRateLimiter(0)
	}
	if logger == nil {
		logger = utils.L()
	}

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		sink:    sink,
		logger:  logger.WithComponent("broker_http"),
		now:     time.Now,
	}
	c.logger.Info("broker client configured",
		utils.Event("http_client_ready"),
		utils.String("base_url", cfg.BaseURL),
		utils.Dur("min_interval", limiter.MinInterval()),
		utils.Int("max_retries", cfg.MaxRetries),
		utils.Dur("timeout", cfg.Timeout),
	)
	return c
}

// WithRun возвращает копию клиента, помечающую логи и dead letter прогоном run
func (c *Client) WithRun(run models.RunInfo) *Client {
	cp := *c
	cp.run = run
	return &cp
}

// Run возвращает прогон, к которому привязан клиент
func (c *Client) Run() models.RunInfo {
	return c.run
}

// Send выполняет запрос.
//
// 429, 5xx и сетевые ошибки повторяются с backoff (Retry-After соблюдается
// точно). Остальные статусы возвращаются как *Response без ошибки. После
// последней неудачной попытки пишется ровно одна dead letter запись и
// возвращается *ExhaustedRetriesError.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	target, err := c.resolve(req.Endpoint)
	if err != nil {
		return nil, err
	}

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.cfg.MaxRetries
	switch {
	case req.MaxRetries == NoRetries:
		cfg.MaxRetries = 0
	case req.MaxRetries > 0:
		cfg.MaxRetries = req.MaxRetries
	}
	cfg.BaseDelay = c.cfg.BaseBackoff
	if req.BaseBackoff > 0 {
		cfg.BaseDelay = req.BaseBackoff
	}
	cfg.RetryIf = retry.RetryIfMarked
	cfg.Sleep = c.sleep

	var lastStatus int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		RetriesTotal.WithLabelValues(req.Method, statusLabel(lastStatus)).Inc()
		c.logger.Warn("broker request failed, retrying",
			utils.Event("http_retry"),
			utils.RunID(c.run.RunID),
			utils.Mode(c.run.Mode),
			utils.String("method", req.Method),
			utils.String("url", target),
			utils.HTTPStatus(lastStatus),
			utils.Attempt(attempt),
			utils.Dur("sleep", delay),
			utils.Any("context", req.Context),
			utils.Err(err),
		)
	}

	resp, err := retry.DoWithResult(ctx, func() (*Response, error) {
		r, err := c.attempt(ctx, req, target)
		var se *statusError
		switch {
		case errors.As(err, &se):
			lastStatus = se.StatusCode
		case err != nil:
			lastStatus = 0
		}
		return r, err
	}, cfg)
	if err == nil {
		return resp, nil
	}

	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		return nil, err
	}

	c.logger.Error("broker request gave up",
		utils.Event(models.EventHTTPDeadLetter),
		utils.RunID(c.run.RunID),
		utils.Mode(c.run.Mode),
		utils.String("method", req.Method),
		utils.String("url", target),
		utils.HTTPStatus(lastStatus),
		utils.Int("attempts", exhausted.Attempts),
		utils.Any("context", req.Context),
		utils.Err(exhausted.Err),
	)
	c.deadLetter(ctx, req, target, lastStatus, exhausted)

	return nil, &ExhaustedRetriesError{
		Method:     req.Method,
		Endpoint:   req.Endpoint,
		Attempts:   exhausted.Attempts,
		LastStatus: lastStatus,
		Err:        exhausted.Err,
	}
}

// attempt - одна попытка: ждет слот ограничителя и выполняет запрос
func (c *Client) attempt(ctx context.Context, req Request, target string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	full := target
	if len(req.Params) > 0 {
		full += "?" + req.Params.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, full, body)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	for k, v := range c.cfg.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		RequestDuration.WithLabelValues(req.Method, statusLabel(0)).Observe(time.Since(start).Seconds())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	RequestDuration.WithLabelValues(req.Method, statusLabel(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transportError{Err: fmt.Errorf("read body: %w", err)}
	}

	if isRetryableStatus(resp.StatusCode) {
		ra, ok := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, &statusError{
			StatusCode:    resp.StatusCode,
			Body:          data,
			retryAfter:    ra,
			hasRetryAfter: ok,
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// deadLetter пишет запись даже если контекст вызывающего уже отменен
func (c *Client) deadLetter(ctx context.Context, req Request, target string, status int, ex *retry.ExhaustedError) {
	DeadLettersTotal.WithLabelValues(req.Method).Inc()
	if c.sink == nil {
		return
	}

	dl := &models.DeadLetter{
		Event:     models.EventHTTPDeadLetter,
		RunID:     c.run.RunID,
		Mode:      c.run.Mode,
		Method:    req.Method,
		URL:       target,
		Error:     ex.Err.Error(),
		Attempts:  ex.Attempts,
		Headers:   redactHeaders(req.Headers),
		Params:    flattenParams(req.Params),
		Body:      string(req.Body),
		Context:   req.Context,
		CreatedAt: c.now().UTC(),
	}
	if status > 0 {
		s := status
		dl.Status = &s
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := c.sink.Record(writeCtx, dl); err != nil {
		DeadLetterWriteErrors.Inc()
		c.logger.Error("failed to write dead letter",
			utils.Event("dead_letter_write_failed"),
			utils.RunID(c.run.RunID),
			utils.Mode(c.run.Mode),
			utils.String("url", target),
			utils.Err(err),
		)
	}
}

func (c *Client) resolve(endpoint string) (string, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint, nil
	}
	if c.cfg.BaseURL == "" {
		return "", fmt.Errorf("broker: relative endpoint %q without base URL", endpoint)
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.cfg.BaseURL + endpoint, nil
}

// redactHeaders убирает из копии заголовков все, что похоже на секрет
func redactHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "secret") || strings.Contains(lk, "key") || strings.Contains(lk, "authorization") {
			v = "<redacted>"
		}
		out[k] = v
	}
	return out
}

func flattenParams(p url.Values) map[string]string {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = strings.Join(v, ",")
	}
	return out
}
