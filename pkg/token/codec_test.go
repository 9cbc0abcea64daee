package token

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

func TestGenerateValidateRoundTrip(t *testing.T) {
	codec := NewCodec()

	tok, err := codec.Generate("exec-1", "plan")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	payload, err := codec.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", payload.ExecutionID)
	assert.Equal(t, "plan", payload.StepName)
	assert.Len(t, payload.Nonce, 32) // 128 bits hex-encoded
}

func TestGenerateRequiresInputs(t *testing.T) {
	codec := NewCodec()

	_, err := codec.Generate("", "plan")
	require.Error(t, err)
	assert.Equal(t, errors.CodeMissingParameter, errors.CodeOf(err))

	_, err = codec.Generate("exec-1", "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeMissingParameter, errors.CodeOf(err))
}

func TestGenerateUniqueNonces(t *testing.T) {
	codec := NewCodec()

	a, err := codec.Generate("exec-1", "plan")
	require.NoError(t, err)
	b, err := codec.Generate("exec-1", "plan")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestValidateMalformed(t *testing.T) {
	codec := NewCodec()

	cases := map[string]string{
		"empty":          "",
		"not base64url":  "!!!not-base64!!!",
		"not json":       base64.RawURLEncoding.EncodeToString([]byte("hello")),
		"padded base64":  base64.URLEncoding.EncodeToString([]byte(`{"execution_id":"e"}`)) + "==",
	}

	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Validate(tok)
			require.Error(t, err)
			assert.Equal(t, errors.CodeTokenMalformed, errors.CodeOf(err))
		})
	}
}

func TestValidateSchema(t *testing.T) {
	codec := NewCodec()

	encode := func(p Payload) string {
		data, err := json.Marshal(p)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(data)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	cases := map[string]Payload{
		"missing execution_id": {StepName: "plan", IssuedAt: now, Nonce: "ab"},
		"missing step_name":    {ExecutionID: "e", IssuedAt: now, Nonce: "ab"},
		"missing issued_at":    {ExecutionID: "e", StepName: "plan", Nonce: "ab"},
		"missing nonce":        {ExecutionID: "e", StepName: "plan", IssuedAt: now},
		"bad timestamp":        {ExecutionID: "e", StepName: "plan", IssuedAt: "yesterday", Nonce: "ab"},
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Validate(encode(payload))
			require.Error(t, err)
			assert.Equal(t, errors.CodeTokenSchema, errors.CodeOf(err))
		})
	}
}

func TestDecodeSkipsAgeChecks(t *testing.T) {
	base := time.Now()
	codec := &Codec{Now: func() time.Time { return base.Add(-Lifetime - time.Hour) }}

	tok, err := codec.Generate("exec-9", "plan")
	require.NoError(t, err)

	codec.Now = func() time.Time { return base }
	payload, err := codec.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, "exec-9", payload.ExecutionID)
	assert.Equal(t, "plan", payload.StepName)

	_, err = codec.Validate(tok)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTokenExpired, errors.CodeOf(err))
}

func TestValidateExpired(t *testing.T) {
	base := time.Now()
	codec := &Codec{Now: func() time.Time { return base.Add(-Lifetime - time.Minute) }}

	tok, err := codec.Generate("exec-2", "plan")
	require.NoError(t, err)

	codec.Now = func() time.Time { return base }
	_, err = codec.Validate(tok)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTokenExpired, errors.CodeOf(err))
}

func TestValidateJustInsideLifetime(t *testing.T) {
	base := time.Now()
	codec := &Codec{Now: func() time.Time { return base.Add(-Lifetime + time.Minute) }}

	tok, err := codec.Generate("exec-2", "plan")
	require.NoError(t, err)

	codec.Now = func() time.Time { return base }
	_, err = codec.Validate(tok)
	assert.NoError(t, err)
}

func TestValidateFutureIssued(t *testing.T) {
	base := time.Now()
	codec := &Codec{Now: func() time.Time { return base.Add(time.Hour) }}

	tok, err := codec.Generate("exec-3", "plan")
	require.NoError(t, err)

	codec.Now = func() time.Time { return base }
	_, err = codec.Validate(tok)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTokenFutureIssued, errors.CodeOf(err))
}

func TestValidateSkewTolerance(t *testing.T) {
	base := time.Now()
	codec := &Codec{Skew: 5 * time.Minute, Now: func() time.Time { return base.Add(2 * time.Minute) }}

	tok, err := codec.Generate("exec-3", "plan")
	require.NoError(t, err)

	codec.Now = func() time.Time { return base }
	_, err = codec.Validate(tok)
	assert.NoError(t, err)
}
