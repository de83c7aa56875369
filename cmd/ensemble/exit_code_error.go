package main

// ExitCodeError carries a process exit code. Quiet errors have already been
// reported to the user.
type ExitCodeError struct {
	Code  int
	Err   error
	Quiet bool
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
