// Cliente HTTP saliente para la capacidad http de los plugins.

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ChatForge/chatforge-gateway/pkg/sdk"
	"go.uber.org/zap"
)

type RequestInterceptor func(req *http.Request) error

type ResponseInterceptor func(resp *sdk.HTTPResponse) error

// Client implementa sdk.HTTPClient: base URL, cadenas de
// interceptores request/response y timeout por abort de contexto.
type Client struct {
	base     string
	hc       *http.Client
	timeout  time.Duration
	reqInts  []RequestInterceptor
	respInts []ResponseInterceptor
	log      *zap.Logger
}

const defaultTimeout = 10 * time.Second

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
		timeout: timeout,
		log:     log,
	}
}

// UseRequest añade un interceptor de petición; corren en orden de registro.
func (c *Client) UseRequest(i RequestInterceptor) {
	c.reqInts = append(c.reqInts, i)
}

// UseResponse añade un interceptor de respuesta.
func (c *Client) UseResponse(i ResponseInterceptor) {
	c.respInts = append(c.respInts, i)
}

func (c *Client) Do(ctx context.Context, method, path string, body any) (*sdk.HTTPResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &sdk.TransportError{Op: method + " " + path, Err: err}
		}
		reader = bytes.NewReader(b)
	}

	url := c.base + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &sdk.TransportError{Op: method + " " + path, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, i := range c.reqInts {
		if err := i(req); err != nil {
			return nil, &sdk.TransportError{Op: method + " " + path, Err: err}
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, c.classify(method+" "+path, ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(method+" "+path, ctx, err)
	}

	out := &sdk.HTTPResponse{Status: resp.StatusCode, Header: resp.Header, Body: raw}
	for _, i := range c.respInts {
		if err := i(out); err != nil {
			return nil, &sdk.TransportError{Op: method + " " + path, Err: err}
		}
	}
	return out, nil
}

// classify etiqueta los aborts por deadline como timeout.
func (c *Client) classify(op string, ctx context.Context, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	c.log.Debug("outbound request failed",
		zap.String("op", op),
		zap.Bool("timeout", timeout),
		zap.Error(err))
	return &sdk.TransportError{Op: op, Timeout: timeout, Err: err}
}

func (c *Client) Get(ctx context.Context, path string) (*sdk.HTTPResponse, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (*sdk.HTTPResponse, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*sdk.HTTPResponse, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) (*sdk.HTTPResponse, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}
