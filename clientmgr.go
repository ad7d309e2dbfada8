package hixl

import (
	ratomic "sync/atomic"

	"github.com/ascend-hixl/hixl/internal/xfer"
)

// reqRoutes maps an outstanding async request to the remote engine it
// targets (spec §4.7: "Async req → remote_engine mapping lets
// GetTransferStatus route to the right client and is evicted once the
// request completes").
type reqRoutes map[*xfer.Request]string

// ClientManager tracks that routing table with a copy-on-write,
// atomically-swapped map, the same idiom the teacher's
// transport/bundle.Streams uses for its node-ID-keyed stream bundle
// (there: ratomic.Pointer[bundle] rebuilt and swapped on every Smap
// change; here: rebuilt and swapped on every track/evict).
type ClientManager struct {
	routes ratomic.Pointer[reqRoutes]
}

func newClientManager() *ClientManager {
	cm := &ClientManager{}
	empty := make(reqRoutes)
	cm.routes.Store(&empty)
	return cm
}

func (cm *ClientManager) track(req *xfer.Request, remote string) {
	for {
		old := cm.routes.Load()
		next := make(reqRoutes, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[req] = remote
		if cm.routes.CompareAndSwap(old, &next) {
			return
		}
	}
}

// evict forgets req and reports which remote engine it had targeted.
func (cm *ClientManager) evict(req *xfer.Request) (remote string, ok bool) {
	for {
		old := cm.routes.Load()
		remote, ok = (*old)[req]
		if !ok {
			return "", false
		}
		next := make(reqRoutes, len(*old))
		for k, v := range *old {
			if k != req {
				next[k] = v
			}
		}
		if cm.routes.CompareAndSwap(old, &next) {
			return remote, true
		}
	}
}

// pending returns the number of requests awaiting a terminal status,
// used by Finalize to refuse to proceed while async transfers remain
// posted (spec §5 "Cancellation and timeouts").
func (cm *ClientManager) pending() int {
	return len(*cm.routes.Load())
}
