package oracle

import "fmt"

// OracleCallError is a failed contract read: transport failure, revert,
// an ABI that could not be fetched or parsed, or an undecodable result.
// Callers treat it as transient.
type OracleCallError struct {
	Method string
	Err    error
}

func (e *OracleCallError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("oracle call: %v", e.Err)
	}
	return fmt.Sprintf("oracle call %s: %v", e.Method, e.Err)
}

func (e *OracleCallError) Unwrap() error { return e.Err }

// OracleDataError is a reading that cannot produce a positive price.
type OracleDataError struct {
	Method string
	Reason string
}

func (e *OracleDataError) Error() string {
	return fmt.Sprintf("oracle data %s: %s", e.Method, e.Reason)
}

// FetchError is returned by the block explorer when the ABI endpoint answers
// with a non-2xx status or a body that is not an ABI.
type FetchError struct {
	Address    string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch abi %s: status %d: %v", e.Address, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch abi %s: %v", e.Address, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
