package couch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RequestOption tweaks the headers of a single request.
type RequestOption func(h http.Header)

// IfNoneMatch makes a fetch conditional on the given revision. If the
// document is unchanged, the operation fails with a NotModified error.
func IfNoneMatch(rev string) RequestOption {
	return func(h http.Header) {
		h.Set("If-None-Match", `"`+rev+`"`)
	}
}

// docPath joins path segments into an absolute path, escaping each segment
// individually. Document ids and attachment names may contain characters
// like '/', '?' or '#' which must not corrupt the path.
func docPath(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(escaped, "/")
}

// designPath returns the path to a view of a design document.
func designPath(dbName, designID, viewID string) string {
	return docPath(dbName, "_design", designID, "_view", viewID)
}

// do dispatches one request through the transport and classifies the
// outcome: 2xx responses are returned as-is, anything else becomes an
// *Error. Transport failures pass through as *TransportError, they never
// masquerade as database errors.
func (s *Server) do(ctx context.Context, cred *Credentials, method, path string, body []byte, opts ...RequestOption) (*Response, error) {
	header := make(http.Header)
	header.Set("Accept", "application/json")
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	if cred != nil {
		auth := base64.StdEncoding.EncodeToString([]byte(cred.user + ":" + cred.password))
		header.Set("Authorization", "Basic "+auth)
	}
	for _, opt := range opts {
		opt(header)
	}

	req := &Request{
		Method: method,
		URL:    s.url + path,
		Header: header,
		Body:   body,
	}
	resp, err := s.transport.Send(ctx, req)
	if err != nil {
		s.log.Debug("request failed", "method", method, "path", path, "error", err)
		return nil, err
	}
	s.log.Debug("request", "method", method, "path", path, "status", resp.Status)

	if resp.Status < 200 || resp.Status > 299 {
		return nil, classify(resp.Status, resp.Header, resp.Body)
	}
	return resp, nil
}

// doJSON encodes in as the JSON request body (if non-nil), dispatches the
// request and decodes the JSON response into out (if non-nil).
func (s *Server) doJSON(ctx context.Context, cred *Credentials, method, path string, in, out interface{}, opts ...RequestOption) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("couch: encode request body: %w", err)
		}
	}
	resp, err := s.do(ctx, cred, method, path, body, opts...)
	if err != nil {
		return err
	}
	if out != nil {
		return decodeJSON(resp.Body, out)
	}
	return nil
}

// decodeJSON unmarshals a response body, wrapping decode failures.
func decodeJSON(body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("couch: decode response body: %w", err)
	}
	return nil
}

// head probes a path, reporting whether it answered 200.
func (s *Server) head(ctx context.Context, cred *Credentials, path string) (bool, error) {
	_, err := s.do(ctx, cred, http.MethodHead, path, nil)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (db *Database) do(ctx context.Context, method, path string, body []byte, opts ...RequestOption) (*Response, error) {
	return db.server.do(ctx, db.Cred(), method, path, body, opts...)
}

func (db *Database) doJSON(ctx context.Context, method, path string, in, out interface{}, opts ...RequestOption) error {
	return db.server.doJSON(ctx, db.Cred(), method, path, in, out, opts...)
}
