package gifts

import "fmt"

// AuthError indicates the remote API rejected our credentials or token.
// Not retryable without new credentials.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "gifts: auth: " + e.Reason
}

// NetworkError covers transport failures and unexpected HTTP statuses.
type NetworkError struct {
	Status int
	Body   string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gifts: network: %v", e.Err)
	}
	return fmt.Sprintf("gifts: http %d: %s", e.Status, e.Body)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates a malformed or unrecognizable remote response.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "gifts: protocol: " + e.Msg
}

// APIError indicates the remote payload reported a business-rule failure
// (success=false) on an operation that has no typed result to carry it.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "gifts: api: " + e.Message
}
