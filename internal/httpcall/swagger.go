package httpcall

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
)

// specPaths are probed in order when a device does not advertise where
// its API document lives.
var specPaths = []string{"/openapi.json", "/swagger.json", "/apidocs/swagger.json"}

// Operation is one path+method pair from a device's API document.
type Operation struct {
	Path    string `json:"path"`
	Method  string `json:"method"`
	Summary string `json:"summary,omitempty"`
}

// SwaggerRequest invokes an operation from the device's API document.
// Parameters fill {placeholders} in the path template.
type SwaggerRequest struct {
	DeviceName  string            `json:"device_name"`
	Path        string            `json:"path"`
	Method      string            `json:"method"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	JSON        any               `json:"json,omitempty"`
	StatusCodes []int             `json:"status_code,omitempty"`
}

// Operations fetches the device's OpenAPI or Swagger document and lists
// the operations it declares.
func (s *Service) Operations(ctx context.Context, deviceName string) ([]Operation, error) {
	doc, err := s.fetchSpec(ctx, deviceName)
	if err != nil {
		return nil, err
	}

	var ops []Operation
	for p, raw := range doc.Paths {
		var methods map[string]struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal(raw, &methods); err != nil {
			continue
		}
		for m, meta := range methods {
			if !validMethods[strings.ToUpper(m)] {
				continue
			}
			ops = append(ops, Operation{Path: p, Method: strings.ToUpper(m), Summary: meta.Summary})
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Path != ops[j].Path {
			return ops[i].Path < ops[j].Path
		}
		return ops[i].Method < ops[j].Method
	})
	return ops, nil
}

// CallOperation expands the path template and performs the request.
func (s *Service) CallOperation(ctx context.Context, req SwaggerRequest) (*Response, error) {
	path, err := expandTemplate(req.Path, req.Parameters)
	if err != nil {
		return nil, err
	}
	return s.Call(ctx, Request{
		DeviceName:  req.DeviceName,
		Path:        path,
		Method:      req.Method,
		JSON:        req.JSON,
		StatusCodes: req.StatusCodes,
	})
}

type apiDoc struct {
	OpenAPI string                     `json:"openapi"`
	Swagger string                     `json:"swagger"`
	Paths   map[string]json.RawMessage `json:"paths"`
}

func (s *Service) fetchSpec(ctx context.Context, deviceName string) (*apiDoc, error) {
	var lastErr error
	for _, p := range specPaths {
		resp, err := s.Call(ctx, Request{
			DeviceName:  deviceName,
			Path:        p,
			Method:      "GET",
			StatusCodes: []int{200},
		})
		if err != nil {
			if errs.KindOf(err) == errs.KindValidation || errs.KindOf(err) == errs.KindNotFound {
				return nil, err
			}
			lastErr = err
			continue
		}
		var doc apiDoc
		if err := json.Unmarshal([]byte(resp.Data), &doc); err != nil || len(doc.Paths) == 0 {
			lastErr = errs.Operationf("%s is not a usable api document", p)
			continue
		}
		return &doc, nil
	}
	return nil, errs.Operationf("no api document found on %s: %v", deviceName, lastErr)
}

func expandTemplate(path string, params map[string]string) (string, error) {
	out := path
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	if i := strings.IndexByte(out, '{'); i >= 0 {
		end := strings.IndexByte(out[i:], '}')
		if end < 0 {
			end = len(out) - i - 1
		}
		return "", errs.Validationf("missing value for path parameter %s", out[i:i+end+1])
	}
	return out, nil
}
