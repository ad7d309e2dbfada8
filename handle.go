package hixl

import "github.com/ascend-hixl/hixl/internal/xfer"

// Request is the handle returned by TransferAsync (spec §3 "Request
// handle"). The tagged-sum demux between the legacy flag path and the
// device slot path lives entirely in internal/xfer.Request; this
// wrapper only carries the remote engine name ClientManager needs to
// evict the routing entry once the request reaches a terminal status.
type Request struct {
	remote string
	inner  *xfer.Request
}
