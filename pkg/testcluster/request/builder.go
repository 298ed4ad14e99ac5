// Package request builds HTTP calls against a test cluster's gateway. Every Builder carries its
// own client, so requests made from parallel tests never share connections.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/testcluster/pkg/clustererrors"
)

var placeholder = regexp.MustCompile(`\{[^/{}]+\}`)

// Builder describes one request to the gateway. The target is fixed when the Builder is created;
// headers and query parameters can be added until it is sent.
type Builder struct {
	client *http.Client
	target *url.URL
	header http.Header
	query  url.Values
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	return errors.Wrap(json.Unmarshal(r.Body, v), "failed to decode response body")
}

// New targets baseURL + path. path may not contain placeholders.
func New(baseURL string, path string) (*Builder, error) {
	return build(baseURL, path)
}

// NewWithTemplate targets baseURL + path after replacing the placeholder "{name}" in path with
// the path-escaped value, e.g. "/topics/{name}" with name "orders" targets "/topics/orders".
func NewWithTemplate(baseURL string, path string, name string, value string) (*Builder, error) {
	token := "{" + name + "}"
	if name == "" || !strings.Contains(path, token) {
		return nil, errors.WithStack(&clustererrors.ErrInvalidArgument{
			Name:    "templateName",
			Value:   name,
			Message: "path " + path + " has no such placeholder",
		})
	}
	return build(baseURL, strings.ReplaceAll(path, token, url.PathEscape(value)))
}

func build(baseURL string, path string) (*Builder, error) {
	if p := placeholder.FindString(path); p != "" {
		return nil, errors.WithStack(&clustererrors.ErrInvalidArgument{
			Name:    "path",
			Value:   path,
			Message: "placeholder " + p + " has no value",
		})
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target, err := url.Parse(strings.TrimSuffix(baseURL, "/") + path)
	if err != nil {
		return nil, errors.WithStack(&clustererrors.ErrInvalidArgument{Name: "path", Value: path, Message: err.Error()})
	}
	return &Builder{
		client: &http.Client{
			Transport: &http.Transport{DisableKeepAlives: true},
			Timeout:   30 * time.Second,
		},
		target: target,
		header: http.Header{},
		query:  target.Query(),
	}, nil
}

// URL returns the full request target.
func (b *Builder) URL() string {
	u := *b.target
	u.RawQuery = b.query.Encode()
	return u.String()
}

func (b *Builder) WithHeader(key string, value string) *Builder {
	b.header.Add(key, value)
	return b
}

func (b *Builder) WithQuery(key string, value string) *Builder {
	b.query.Add(key, value)
	return b
}

func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.client.Timeout = timeout
	return b
}

func (b *Builder) Get(ctx context.Context) (*Response, error) {
	return b.Do(ctx, http.MethodGet, nil)
}

func (b *Builder) Delete(ctx context.Context) (*Response, error) {
	return b.Do(ctx, http.MethodDelete, nil)
}

// Post sends body with the given content type.
func (b *Builder) Post(ctx context.Context, contentType string, body []byte) (*Response, error) {
	b.header.Set("Content-Type", contentType)
	return b.Do(ctx, http.MethodPost, bytes.NewReader(body))
}

// PostJSON sends v encoded as JSON.
func (b *Builder) PostJSON(ctx context.Context, v interface{}) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request body")
	}
	return b.Post(ctx, "application/json", body)
}

// Do sends the request and reads the whole response. Statuses other than 2xx are not errors;
// callers inspect Response.StatusCode.
func (b *Builder) Do(ctx context.Context, method string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.URL(), body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for key, values := range b.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s failed", method, b.URL())
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response of %s %s", method, b.URL())
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
