package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"webim/internal/models"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownModule  = errors.New("unknown module")
)

// Request is one decoded inbound frame. The set of implementations is closed.
type Request interface {
	Module() models.Module
}

type LoginRequest struct {
	Username string
	Password string
	Token    string
}

type LogoutRequest struct{}

type RegisterRequest struct {
	Username string
	Password string
	Email    string
	Extra    map[string]string
}

type ForgetPwdRequest struct {
	Username string
}

type AppRequest struct{}

type ChatRequest struct {
	To   string
	Body string
}

func (LoginRequest) Module() models.Module     { return models.ModuleLogin }
func (LogoutRequest) Module() models.Module    { return models.ModuleLogout }
func (RegisterRequest) Module() models.Module  { return models.ModuleRegister }
func (ForgetPwdRequest) Module() models.Module { return models.ModuleForgetPwd }
func (AppRequest) Module() models.Module       { return models.ModuleApp }
func (ChatRequest) Module() models.Module      { return models.ModuleChat }

type inboundFrame struct {
	Module string          `json:"module"`
	Data   json.RawMessage `json:"data"`
}

type namedValue struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

var knownModules = map[models.Module]bool{
	models.ModuleLogin:     true,
	models.ModuleLogout:    true,
	models.ModuleRegister:  true,
	models.ModuleForgetPwd: true,
	models.ModuleApp:       true,
	models.ModuleChat:      true,
}

// registerFields are consumed by RegisterRequest; everything else becomes Extra.
var registerFields = map[string]bool{"username": true, "password": true, "email": true}

// Decode parses a raw frame. data may be an object of fields or an array of
// {name, value} pairs as produced by HTML form serialization.
func Decode(raw []byte) (Request, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	module := models.Module(strings.ToLower(strings.TrimSpace(frame.Module)))
	if !knownModules[module] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, frame.Module)
	}

	fields, err := decodeFields(frame.Data)
	if err != nil {
		return nil, err
	}

	switch module {
	case models.ModuleLogin:
		return LoginRequest{
			Username: strings.TrimSpace(fields["username"]),
			Password: fields["password"],
			Token:    fields["token"],
		}, nil
	case models.ModuleLogout:
		return LogoutRequest{}, nil
	case models.ModuleRegister:
		req := RegisterRequest{
			Username: fields["username"],
			Password: fields["password"],
			Email:    fields["email"],
		}
		for k, v := range fields {
			if registerFields[k] {
				continue
			}
			if req.Extra == nil {
				req.Extra = make(map[string]string)
			}
			req.Extra[k] = v
		}
		return req, nil
	case models.ModuleForgetPwd:
		return ForgetPwdRequest{Username: fields["username"]}, nil
	case models.ModuleApp:
		return AppRequest{}, nil
	case models.ModuleChat:
		return ChatRequest{
			To:   strings.TrimSpace(fields["to"]),
			Body: fields["body"],
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, frame.Module)
	}
}

func decodeFields(data json.RawMessage) (map[string]string, error) {
	fields := make(map[string]string)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fields, nil
	}

	switch trimmed[0] {
	case '[':
		var pairs []namedValue
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedFrame, err)
		}
		for _, p := range pairs {
			if p.Name == "" {
				continue
			}
			fields[p.Name] = scalar(p.Value)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMalformedFrame, err)
		}
		for k, v := range obj {
			fields[k] = scalar(v)
		}
	default:
		return nil, fmt.Errorf("%w: data must be an object or an array", ErrMalformedFrame)
	}

	return fields, nil
}

// scalar renders a JSON value as a field string: strings unquoted, null
// empty, anything else as its JSON text.
func scalar(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
