// Package hixlstatus defines the engine's stable status codes (spec
// §6). It lives under internal so every other internal package can
// return and compare Status values without importing the root
// package, which itself re-exports these names for callers.
package hixlstatus

import "strconv"

// Status is the engine's stable error-code type. Values are fixed
// integers so they remain stable across releases and can cross the
// wire unchanged.
type Status int32

const (
	Success           Status = 0
	ParamInvalid      Status = 103900
	Timeout           Status = 103901
	NotConnected      Status = 103902
	AlreadyConnected  Status = 103903
	NotifyFailed      Status = 103904
	Unsupported       Status = 103905
	Failed            Status = 503900
	ResourceExhausted Status = 203900
)

var text = map[Status]string{
	Success:           "success",
	ParamInvalid:      "invalid parameter",
	Timeout:           "timeout",
	NotConnected:      "not connected",
	AlreadyConnected:  "already connected",
	NotifyFailed:      "notify failed",
	Unsupported:       "unsupported",
	Failed:            "failed",
	ResourceExhausted: "resource exhausted",
}

// Error implements the error interface so a Status can be returned and
// wrapped (e.g. with github.com/pkg/errors) like any other error while
// call sites can still compare it by value.
func (s Status) Error() string {
	if t, ok := text[s]; ok {
		return t
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// OK reports whether s is Success.
func (s Status) OK() bool { return s == Success }

// TransferStatus is the result of polling a Request's completion.
type TransferStatus int32

const (
	Waiting TransferStatus = iota
	Completed
	TimedOut
	TransferFailed
)

func (t TransferStatus) String() string {
	switch t {
	case Waiting:
		return "Waiting"
	case Completed:
		return "Completed"
	case TimedOut:
		return "Timeout"
	case TransferFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
