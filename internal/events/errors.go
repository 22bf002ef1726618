package events

import "fmt"

// DecodeError reports a delivery whose payload does not have the expected
// shape. It maps to a 400 response.
type DecodeError struct {
	Platform string
	Kind     string
	Msg      string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s %q event: %s: %v", e.Platform, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("decode %s %q event: %s", e.Platform, e.Kind, e.Msg)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
