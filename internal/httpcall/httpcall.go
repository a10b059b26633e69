// Package httpcall executes HTTP requests against the management API of
// inventory devices.
package httpcall

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
)

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodOptions: true,
	http.MethodHead: true,
}

// Request describes one HTTP call to a device. At most one of JSON,
// Content, Form and Files may be set.
type Request struct {
	DeviceName  string            `json:"device_name"`
	Path        string            `json:"path"`
	Method      string            `json:"method"`
	Params      map[string]string `json:"params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	JSON        any               `json:"json,omitempty"`
	Content     string            `json:"content,omitempty"`
	Form        map[string]string `json:"data,omitempty"`
	Files       []FilePart        `json:"files,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	StatusCodes []int             `json:"status_code,omitempty"`
}

// FilePart is one file in a multipart upload body.
type FilePart struct {
	FieldName string `json:"field_name"`
	FileName  string `json:"file_name"`
	Content   []byte `json:"content"`
}

// Response carries the device's reply. JSON is set when the body
// decodes as JSON.
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	Data       string            `json:"data"`
	JSON       any               `json:"json,omitempty"`
}

// Options tune outbound HTTP behavior.
type Options struct {
	// InsecureTLS skips certificate verification. Device management
	// interfaces commonly run self-signed certificates.
	InsecureTLS bool
	Timeout     time.Duration
}

type Service struct {
	store  storage.Store
	opts   Options
	logger *slog.Logger
	client *http.Client
}

func NewService(store storage.Store, opts Options, logger *slog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureTLS},
	}
	return &Service{
		store:  store,
		opts:   opts,
		logger: logger,
		client: &http.Client{Transport: transport},
	}
}

// Call performs the request and checks the status code against
// req.StatusCodes (default 200).
func (s *Service) Call(ctx context.Context, req Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	d, err := s.device(ctx, req.DeviceName)
	if err != nil {
		return nil, err
	}

	httpReq, err := s.build(ctx, d, req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Debug("device http call", "device", d.Name, "method", httpReq.Method, "url", httpReq.URL.String())

	resp, err := s.client.Do(httpReq.WithContext(callCtx))
	if err != nil {
		return nil, errs.Connectionf("request to %s: %v", d.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.Operationf("reading response from %s: %v", d.Name, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Data:       string(body),
	}
	for _, c := range resp.Cookies() {
		if out.Cookies == nil {
			out.Cookies = map[string]string{}
		}
		out.Cookies[c.Name] = c.Value
	}
	var decoded any
	if json.Unmarshal(body, &decoded) == nil {
		out.JSON = decoded
	}

	expected := req.StatusCodes
	if len(expected) == 0 {
		expected = []int{http.StatusOK}
	}
	for _, code := range expected {
		if resp.StatusCode == code {
			return out, nil
		}
	}
	return out, errs.Operationf("status code %d not in %v", resp.StatusCode, expected)
}

func validate(req Request) error {
	if req.DeviceName == "" {
		return errs.Validationf("device_name is required")
	}
	if !strings.HasPrefix(req.Path, "/") {
		return errs.Validationf("path must start with /")
	}
	if !validMethods[strings.ToUpper(req.Method)] {
		return errs.Validationf("method %q is not valid", req.Method)
	}
	bodies := 0
	if req.JSON != nil {
		bodies++
	}
	if req.Content != "" {
		bodies++
	}
	if len(req.Form) > 0 {
		bodies++
	}
	if len(req.Files) > 0 {
		bodies++
	}
	if bodies > 1 {
		return errs.Validationf("json, content, data and files are mutually exclusive")
	}
	for _, f := range req.Files {
		if f.FieldName == "" || f.FileName == "" {
			return errs.Validationf("files entries need field_name and file_name")
		}
	}
	return nil
}

func (s *Service) device(ctx context.Context, name string) (*storage.Device, error) {
	d, err := s.store.GetDeviceByName(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, fmt.Errorf("device %q: %w", name, err))
	}
	if !d.Enabled {
		return nil, errs.Connectionf("device %q is disabled", name)
	}
	if !d.HTTP {
		return nil, errs.Validationf("device %q does not allow http", name)
	}
	return d, nil
}

// BaseURL returns the device's management URL without a path.
func BaseURL(d *storage.Device) string {
	scheme := d.HTTPScheme
	if scheme == "" {
		scheme = "https"
	}
	host := d.Host
	if d.HTTPPort != 0 {
		host = fmt.Sprintf("%s:%d", d.Host, d.HTTPPort)
	}
	return scheme + "://" + host
}

func (s *Service) build(ctx context.Context, d *storage.Device, req Request) (*http.Request, error) {
	u, err := url.Parse(BaseURL(d) + req.Path)
	if err != nil {
		return nil, errs.Validationf("building url: %v", err)
	}
	if len(req.Params) > 0 {
		q := u.Query()
		for k, v := range req.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.JSON != nil:
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, errs.Validationf("encoding json body: %v", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	case req.Content != "":
		body = strings.NewReader(req.Content)
	case len(req.Form) > 0:
		form := url.Values{}
		for k, v := range req.Form {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case len(req.Files) > 0:
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for _, f := range req.Files {
			part, err := mw.CreateFormFile(f.FieldName, f.FileName)
			if err != nil {
				return nil, errs.Validationf("building multipart body: %v", err)
			}
			if _, err := part.Write(f.Content); err != nil {
				return nil, errs.Validationf("building multipart body: %v", err)
			}
		}
		if err := mw.Close(); err != nil {
			return nil, errs.Validationf("building multipart body: %v", err)
		}
		body = &buf
		contentType = mw.FormDataContentType()
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), u.String(), body)
	if err != nil {
		return nil, errs.Validationf("building request: %v", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	return httpReq, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		out[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	return out
}
