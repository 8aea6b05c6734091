package clearnode

import (
	"encoding/json"
	"fmt"

	"github.com/scikido/meter/internal/domain"
)

const (
	methodAuthRequest   = "auth_request"
	methodAuthChallenge = "auth_challenge"
	methodAuthVerify    = "auth_verify"
	methodCreateSession = "create_app_session"
	methodSubmitState   = "submit_app_state"
	methodCloseSession  = "close_app_session"
	methodError         = "error"
)

// envelope is the NitroRPC wire frame. Requests carry the req array,
// responses the res array; sig holds the signatures over the array bytes.
type envelope struct {
	Req json.RawMessage    `json:"req,omitempty"`
	Res json.RawMessage    `json:"res,omitempty"`
	Sig []domain.Signature `json:"sig"`
}

// marshalRequestBody produces the canonical request array. Signatures cover
// these exact bytes, so the body is marshalled once and embedded verbatim
// in the frame.
func marshalRequestBody(id uint64, method string, params any, timestampMS int64) ([]byte, error) {
	body, err := json.Marshal([]any{id, method, []any{params}, timestampMS})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}
	return body, nil
}

// message is a parsed inbound frame.
type message struct {
	requestID uint64
	method    string
	params    json.RawMessage
}

func parseEnvelope(data []byte) (*message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	body := env.Res
	if body == nil {
		body = env.Req
	}
	if body == nil {
		return nil, fmt.Errorf("frame carries neither req nor res")
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, fmt.Errorf("rpc body is not an array: %w", err)
	}
	if len(parts) < 3 {
		return nil, fmt.Errorf("rpc body has %d elements, want at least 3", len(parts))
	}

	var msg message
	if err := json.Unmarshal(parts[0], &msg.requestID); err != nil {
		return nil, fmt.Errorf("invalid request id: %w", err)
	}
	if err := json.Unmarshal(parts[1], &msg.method); err != nil {
		return nil, fmt.Errorf("invalid method: %w", err)
	}
	msg.params = parts[2]

	return &msg, nil
}

// firstParam decodes the first element of the params array into target.
func (m *message) firstParam(target any) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(m.params, &elems); err != nil {
		return fmt.Errorf("params is not an array: %w", err)
	}
	if len(elems) == 0 {
		return fmt.Errorf("params array is empty")
	}
	if err := json.Unmarshal(elems[0], target); err != nil {
		return fmt.Errorf("failed to decode %s params: %w", m.method, err)
	}
	return nil
}

// errorText extracts the server's error description from an error response.
func (m *message) errorText() string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := m.firstParam(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return string(m.params)
}
