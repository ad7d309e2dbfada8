package transport

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ascend-hixl/hixl/internal/wirepb"
)

// EndpointHandle uniquely identifies a local endpoint serving a channel
// (spec §4.4 CreateChannelResp's dst_ep_handle).
type EndpointHandle string

// EndpointStore tracks every local endpoint a server or engine owns.
// Grounded on original_source/src/hixl/cs/endpoint_store.{h,cc}.
type EndpointStore struct {
	mu        sync.Mutex
	endpoints map[EndpointHandle]*Endpoint
}

func NewEndpointStore() *EndpointStore {
	return &EndpointStore{endpoints: make(map[EndpointHandle]*Endpoint)}
}

func (s *EndpointStore) CreateEndpoint(desc EndpointDesc, tr Transport) (EndpointHandle, *Endpoint) {
	ep := NewEndpoint(desc, tr)
	h := EndpointHandle(uuid.NewString())
	s.mu.Lock()
	s.endpoints[h] = ep
	s.mu.Unlock()
	return h, ep
}

func (s *EndpointStore) GetEndpoint(h EndpointHandle) (*Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[h]
	return ep, ok
}

func (s *EndpointStore) AllHandles() []EndpointHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EndpointHandle, 0, len(s.endpoints))
	for h := range s.endpoints {
		out = append(out, h)
	}
	return out
}

// MatchEndpoint finds the local endpoint matching dst (spec §4.4:
// "equal if protocol matches and, for HCCS, the numeric IDs match;
// other protocols match on protocol alone").
func (s *EndpointStore) MatchEndpoint(dst EndpointDesc) (EndpointHandle, *Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, ep := range s.endpoints {
		if endpointDescsMatch(ep.Desc, dst) {
			return h, ep, true
		}
	}
	return "", nil, false
}

func endpointDescsMatch(lhs, rhs EndpointDesc) bool {
	if lhs.Protocol != rhs.Protocol {
		return false
	}
	if lhs.Protocol == wirepb.ProtoHCCS {
		return lhs.CommID == rhs.CommID
	}
	return true
}

// Finalize destroys every owned endpoint's channels and clears the store.
func (s *EndpointStore) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, ep := range s.endpoints {
		for _, ch := range ep.Channels() {
			_ = ep.DestroyChannel(ch)
		}
		delete(s.endpoints, h)
	}
}
