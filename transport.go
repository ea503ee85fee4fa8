package couch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
)

// Request is a fully rendered HTTP request, ready for dispatch.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the raw result of a dispatched request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport sends a rendered request and reports the raw response.
// A Transport returns an error only for transport-level failures
// (connection refused, timeout); HTTP error statuses are regular responses.
//
// The default implementation is HTTPTransport. Custom implementations can
// be injected with WithTransport, e.g. for tests or request shaping.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport implements Transport on net/http.
type HTTPTransport struct {
	// Client to use, http.DefaultClient if nil.
	Client *http.Client
}

func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	for k, values := range req.Header {
		for _, v := range values {
			hreq.Header.Add(k, v)
		}
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	hresp, err := client.Do(hreq)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	defer hresp.Body.Close()
	respBody, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	return &Response{
		Status: hresp.StatusCode,
		Header: hresp.Header,
		Body:   respBody,
	}, nil
}

// RetryTransport decorates a Transport with exponential backoff for
// transport failures and 5xx responses. The client core itself never
// retries; wrap the transport only if your application wants a retry
// policy layered on top.
type RetryTransport struct {
	Next       Transport
	MaxRetries uint64 // 0 means no retries, i.e. a single attempt
}

// retryStatus carries a retryable response through the backoff loop.
type retryStatus struct {
	resp *Response
}

func (e *retryStatus) Error() string {
	return "couch: retryable status"
}

func (t *RetryTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	op := func() error {
		r, err := t.Next.Send(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		if r.Status >= 500 && r.Status <= 599 {
			return &retryStatus{resp: r}
		}
		resp = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), t.MaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var rs *retryStatus
		if errors.As(err, &rs) {
			// Retries exhausted on a 5xx, hand the response to the
			// classifier instead of reporting a transport failure.
			return rs.resp, nil
		}
		return nil, err
	}
	return resp, nil
}
