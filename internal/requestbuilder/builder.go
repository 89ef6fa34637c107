package requestbuilder

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"messagepusher/internal/store"
)

// BuildChannelRequest constructs the outbound HTTP request a ChannelTemplate
// issues to deliver msg: it resolves the substitution environment, rewrites
// every placeholder in APIURL/Params/Headers, and encodes the body per Method
// and ContentType.
func BuildChannelRequest(ctx context.Context, tmpl *store.ChannelTemplate, msg *store.Message) (*http.Request, error) {
	maxLength := tmpl.MaxLength
	if maxLength == 0 {
		maxLength = store.DefaultMaxLength
	}
	env := BuildEnv(msg, tmpl.Placeholders, maxLength)
	params := SubstituteMap(tmpl.Params, env)
	headers := SubstituteMap(tmpl.Headers, env)

	return buildRequest(ctx, string(tmpl.Method), Substitute(tmpl.APIURL, env), string(tmpl.ContentType), params, headers)
}

// BuildAIRequest constructs the outbound HTTP request an AIChannelTemplate
// issues to process msg: the substitution environment additionally carries
// the template's model name, and the resolved prompt is folded into Params
// under the "prompt" key before encoding.
func BuildAIRequest(ctx context.Context, tmpl *store.AIChannelTemplate, msg *store.Message) (*http.Request, error) {
	env := BuildEnv(msg, tmpl.Placeholders, 0)
	env["model"] = tmpl.Model
	prompt := Substitute(tmpl.Prompt, env)
	env[KeyPrompt] = prompt

	params := SubstituteMap(tmpl.Params, env)
	if params == nil {
		params = map[string]string{}
	}
	params["prompt"] = prompt
	params["model"] = tmpl.Model
	headers := SubstituteMap(tmpl.Headers, env)

	return buildRequest(ctx, string(tmpl.Method), Substitute(tmpl.APIURL, env), string(store.ContentJSON), params, headers)
}

func buildRequest(ctx context.Context, method, apiURL, contentType string, params, headers map[string]string) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)

	switch method {
	case string(store.MethodGET), string(store.MethodDELETE):
		u, parseErr := url.Parse(apiURL)
		if parseErr != nil {
			return nil, fmt.Errorf("requestbuilder: parse api_url: %w", parseErr)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	case string(store.MethodPOST), string(store.MethodPUT):
		body, ct, encErr := encodeBody(contentType, params)
		if encErr != nil {
			return nil, fmt.Errorf("requestbuilder: encode body: %w", encErr)
		}
		req, err = http.NewRequestWithContext(ctx, method, apiURL, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", ct)
		}
	default:
		return nil, fmt.Errorf("requestbuilder: unsupported method %q", method)
	}
	if err != nil {
		return nil, fmt.Errorf("requestbuilder: build request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func encodeBody(contentType string, params map[string]string) ([]byte, string, error) {
	switch store.ContentType(contentType) {
	case store.ContentForm:
		v := url.Values{}
		for k, val := range params {
			v.Set(k, val)
		}
		return []byte(v.Encode()), "application/x-www-form-urlencoded", nil
	case store.ContentXML:
		b, err := encodeXML(params)
		return b, "application/xml", err
	case store.ContentJSON, "":
		b, err := json.Marshal(params)
		return b, "application/json", err
	default:
		return nil, "", fmt.Errorf("requestbuilder: unsupported content_type %q", contentType)
	}
}

// xmlField is the generic element used to serialise an arbitrary
// map[string]string into XML without a fixed schema, since a template's
// params keys are only known at runtime.
type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func encodeXML(params map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]xmlField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, xmlField{XMLName: xml.Name{Local: k}, Value: params[k]})
	}
	wrapper := struct {
		XMLName xml.Name `xml:"root"`
		Fields  []xmlField
	}{Fields: fields}
	return xml.Marshal(wrapper)
}
