// Package token implements the continuation-token codec.
//
// Tokens are opaque, single-use credentials binding a workflow execution to its
// currently running step. The encoding is deliberately simple: a JSON payload
// base64url-encoded without padding. The codec is not a MAC; unforgeability is
// provided structurally by the step executor's current-step cross-check, which
// rejects any token whose (execution_id, step_name) pair no longer matches the
// running step. A keyed MAC can be layered behind this interface without
// changing the protocol.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/conductor-mcp/conductor/pkg/domain/errors"
)

// Lifetime is how long a token remains valid after issuance.
const Lifetime = 24 * time.Hour

// nonceBytes is 128 bits of randomness per token.
const nonceBytes = 16

// Payload is the decoded content of a continuation token.
type Payload struct {
	ExecutionID string `json:"execution_id"`
	StepName    string `json:"step_name"`
	IssuedAt    string `json:"issued_at"`
	Nonce       string `json:"nonce"`
}

// issuedAt parses the payload timestamp.
func (p *Payload) issuedAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, p.IssuedAt)
}

// Codec generates and validates continuation tokens.
type Codec struct {
	// Skew is the tolerated clock skew when checking issued_at against now.
	Skew time.Duration
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewCodec returns a codec with the default zero skew.
func NewCodec() *Codec {
	return &Codec{Now: time.Now}
}

func (c *Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Generate issues a token binding executionID to stepName.
func (c *Codec) Generate(executionID, stepName string) (string, error) {
	if executionID == "" {
		return "", errors.New(errors.CodeMissingParameter, "token", "execution_id is required", nil)
	}
	if stepName == "" {
		return "", errors.New(errors.CodeMissingParameter, "token", "step_name is required", nil)
	}

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.New(errors.CodeInternalError, "token", "failed to generate nonce", err)
	}

	payload := Payload{
		ExecutionID: executionID,
		StepName:    stepName,
		IssuedAt:    c.now().UTC().Format(time.RFC3339Nano),
		Nonce:       hex.EncodeToString(nonce),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.New(errors.CodeInternalError, "token", "failed to encode payload", err)
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode unpacks a token and checks its shape without any age checks. Used
// where only the identity fields are needed before full validation runs.
func (c *Codec) Decode(tok string) (*Payload, error) {
	if tok == "" {
		return nil, errors.New(errors.CodeTokenMalformed, "token", "token is empty", nil)
	}

	data, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return nil, errors.New(errors.CodeTokenMalformed, "token", "token is not valid base64url", err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.New(errors.CodeTokenMalformed, "token", "token payload is not valid JSON", err)
	}

	if payload.ExecutionID == "" || payload.StepName == "" || payload.IssuedAt == "" || payload.Nonce == "" {
		return nil, errors.New(errors.CodeTokenSchema, "token", "token payload is missing required fields", nil)
	}
	return &payload, nil
}

// Validate decodes and checks a token. It verifies shape and age only; the
// caller is responsible for the current-step cross-check against the store.
func (c *Codec) Validate(tok string) (*Payload, error) {
	payload, err := c.Decode(tok)
	if err != nil {
		return nil, err
	}

	issued, err := payload.issuedAt()
	if err != nil {
		return nil, errors.New(errors.CodeTokenSchema, "token", "token issued_at is not a valid timestamp", err)
	}

	now := c.now()
	if issued.After(now.Add(c.Skew)) {
		return nil, errors.New(errors.CodeTokenFutureIssued, "token", "token issued_at is in the future", nil)
	}
	if now.Sub(issued) > Lifetime {
		return nil, errors.New(errors.CodeTokenExpired, "token", "token has expired", nil)
	}

	return payload, nil
}
