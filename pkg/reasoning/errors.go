package reasoning

import "fmt"

// OracleError reports a failed oracle exchange after retries were exhausted.
type OracleError struct {
	Operation string
	Message   string
	Err       error
}

func (e *OracleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[Oracle:%s] %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[Oracle:%s] %s", e.Operation, e.Message)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}
