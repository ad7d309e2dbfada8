package hixl

import "github.com/ascend-hixl/hixl/internal/hixlstatus"

// Status is the engine's stable error-code type (spec §6). Values are
// fixed integers so they remain stable across releases and can cross
// the wire unchanged.
type Status = hixlstatus.Status

const (
	StatusSuccess           = hixlstatus.Success
	StatusParamInvalid      = hixlstatus.ParamInvalid
	StatusTimeout           = hixlstatus.Timeout
	StatusNotConnected      = hixlstatus.NotConnected
	StatusAlreadyConnected  = hixlstatus.AlreadyConnected
	StatusNotifyFailed      = hixlstatus.NotifyFailed
	StatusUnsupported       = hixlstatus.Unsupported
	StatusFailed            = hixlstatus.Failed
	StatusResourceExhausted = hixlstatus.ResourceExhausted
)

// TransferStatus is the result of polling a Request's completion.
type TransferStatus = hixlstatus.TransferStatus

const (
	Waiting        = hixlstatus.Waiting
	Completed      = hixlstatus.Completed
	TimedOut       = hixlstatus.TimedOut
	TransferFailed = hixlstatus.TransferFailed
)
