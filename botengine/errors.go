package botengine

import "fmt"

// TransientError marks a model failure that could succeed on retry
// (rate limits, upstream outages). The pipeline does not auto-retry; it
// surfaces a user-facing failure message.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient llm error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a misconfiguration (bad key, unknown model). The
// API layer surfaces it as a 5xx.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent llm error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
