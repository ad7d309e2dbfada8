package xfer

import (
	"time"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
)

const statusPollInterval = time.Millisecond

// TransferSync polls req at 1 ms intervals until it reports Completed,
// the deadline elapses, or abort() starts returning true (spec §4.6.1:
// "polls GetTransferStatus at 1 ms intervals until all sub-requests are
// Completed or the per-call deadline elapses; the deadline returns
// TIMEOUT. A concurrent Finalize flips a shared flag that causes the
// polling loop to return FAILED").
func TransferSync(req *Request, deadline time.Duration, abort func() bool) (hixlstatus.TransferStatus, error) {
	end := time.Now().Add(deadline)
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		if abort != nil && abort() {
			return hixlstatus.TransferFailed, hixlstatus.Failed
		}
		st, err := req.Poll()
		if err != nil {
			return hixlstatus.TransferFailed, err
		}
		if st == hixlstatus.Completed || st == hixlstatus.TransferFailed {
			return st, nil
		}
		if time.Now().After(end) {
			return hixlstatus.TimedOut, hixlstatus.Timeout
		}
		<-ticker.C
	}
}
