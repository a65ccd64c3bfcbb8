package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeObjectData(t *testing.T) {
	req, err := Decode([]byte(`{"module":"login","data":{"username":" alice ","password":"pw1"}}`))
	require.NoError(t, err)
	assert.Equal(t, LoginRequest{Username: "alice", Password: "pw1"}, req)
}

func TestDecodeNameValuePairs(t *testing.T) {
	raw := `{"module":"register","data":[
		{"name":"username","value":"alice"},
		{"name":"password","value":"pw1"},
		{"name":"email","value":"a@x.com"},
		{"name":"age","value":31},
		{"name":"","value":"ignored"}
	]}`

	req, err := Decode([]byte(raw))
	require.NoError(t, err)

	reg, ok := req.(RegisterRequest)
	require.True(t, ok)
	assert.Equal(t, "alice", reg.Username)
	assert.Equal(t, "pw1", reg.Password)
	assert.Equal(t, "a@x.com", reg.Email)
	assert.Equal(t, map[string]string{"age": "31"}, reg.Extra)
}

func TestDecodeModules(t *testing.T) {
	tests := []struct {
		raw  string
		want Request
	}{
		{`{"module":"logout"}`, LogoutRequest{}},
		{`{"module":"APP","data":null}`, AppRequest{}},
		{`{"module":"forgetpwd","data":{"username":"bob"}}`, ForgetPwdRequest{Username: "bob"}},
		{`{"module":"chat","data":{"to":"bob","body":"hi"}}`, ChatRequest{To: "bob", Body: "hi"}},
		{`{"module":"login","data":{"token":"t"}}`, LoginRequest{Token: "t"}},
		{`{"module":"register","data":{"username":"u","password":"p","email":"e"}}`, RegisterRequest{Username: "u", Password: "p", Email: "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			req, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, req)
			assert.Equal(t, tt.want.Module(), req.Module())
		})
	}
}

func TestDecodeUnknownModule(t *testing.T) {
	_, err := Decode([]byte(`{"module":"video","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownModule)

	_, err = Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownModule)

	// data is not looked at for modules that are not handled.
	for _, raw := range []string{
		`{"module":"video","data":5}`,
		`{"module":"video","data":"text"}`,
		`{"module":"video","data":[1,2]}`,
	} {
		_, err = Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrUnknownModule, raw)
		assert.NotErrorIs(t, err, ErrMalformedFrame, raw)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"module":"login","data":"string"}`,
		`{"module":"login","data":[1,2]}`,
		`[]`,
	} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedFrame, raw)
	}
}
