// pkg/tool/lti/request.go
package lti

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const maxBodyBytes = 4 << 20

// Request is an inbound HTTP request reduced to what LTI processing needs.
type Request struct {
	Method string
	// URL is the absolute URL the client used, query included.
	URL         string
	Query       Params
	Form        Params // form-encoded body parameters
	Body        []byte // raw body when not form-encoded
	ContentType string
	Header      http.Header
}

// RequestFromHTTP reads the query, the form body or the raw body of r.
func RequestFromHTTP(r *http.Request) (*Request, error) {
	req := &Request{
		Method: r.Method,
		URL:    requestURL(r),
		Query:  ParamsFromValues(r.URL.Query()),
		Form:   Params{},
		Header: r.Header.Clone(),
	}
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return req, nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(b))
	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	req.ContentType = ct
	if ct == "application/x-www-form-urlencoded" || (ct == "" && len(b) > 0 && !bytes.HasPrefix(bytes.TrimSpace(b), []byte("{"))) {
		vals, err := url.ParseQuery(string(b))
		if err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		req.Form = ParamsFromValues(vals)
		return req, nil
	}
	req.Body = b
	return req, nil
}

// Params merges query and form parameters, the form taking precedence.
func (r *Request) Params() Params {
	p := r.Query.Clone()
	p.Merge(r.Form)
	return p
}

// MessageParams are the parameters carrying an LTI message: the form for
// POST requests, the query otherwise.
func (r *Request) MessageParams() Params {
	if r.Method == http.MethodPost {
		return r.Form.Clone()
	}
	return r.Query.Clone()
}

// RawQuery returns the query string of URL.
func (r *Request) RawQuery() string {
	if i := strings.IndexByte(r.URL, '?'); i >= 0 {
		return r.URL[i+1:]
	}
	return ""
}
