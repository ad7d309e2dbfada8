package hixlcli

import (
	"github.com/pkg/errors"

	"github.com/ascend-hixl/hixl/internal/hixlstatus"
	"github.com/ascend-hixl/hixl/internal/segtable"
	"github.com/ascend-hixl/hixl/internal/transport"
	"github.com/ascend-hixl/hixl/internal/wirepb"
)

// pair is one matched (local, remote) endpoint and the transport class
// the channel between them will carry (spec §4.5.1).
type pair struct {
	local  transport.LocalEndpoint
	remote transport.EndpointDesc
	class  segtable.CommType
}

// pairEndpoints implements the decision tree of spec §4.5.1.
func pairEndpoints(locals []transport.LocalEndpoint, remoteCatalog []wirepb.EndpointDesc, forceRoCE bool) ([]pair, error) {
	if len(locals) == 0 || len(remoteCatalog) == 0 {
		return nil, errors.Wrap(hixlstatus.Failed, "hixlcli: empty endpoint list")
	}
	remotes := make([]transport.EndpointDesc, len(remoteCatalog))
	for i, r := range remoteCatalog {
		remotes[i] = fromCatalogDesc(r)
	}

	netMismatch := locals[0].Desc.NetInstanceID != remotes[0].NetInstanceID
	if forceRoCE || netMismatch {
		return pairRoCE(locals, remotes)
	}
	pairs, err := pairUB(locals, remotes)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, errors.Wrap(hixlstatus.Failed, "hixlcli: no UB channel could be paired")
	}
	return pairs, nil
}

func pairRoCE(locals []transport.LocalEndpoint, remotes []transport.EndpointDesc) ([]pair, error) {
	var l *transport.LocalEndpoint
	for i := range locals {
		if locals[i].Desc.Protocol == wirepb.ProtoRoCE {
			l = &locals[i]
			break
		}
	}
	var r *transport.EndpointDesc
	for i := range remotes {
		if remotes[i].Protocol == wirepb.ProtoRoCE {
			r = &remotes[i]
			break
		}
	}
	if l == nil || r == nil {
		return nil, errors.Wrap(hixlstatus.Failed, "hixlcli: RoCE forced but one side lacks a RoCE endpoint")
	}
	return []pair{{local: *l, remote: *r, class: segtable.CommRoCE}}, nil
}

// pairUB attempts up to four UB channels, one per CommType (spec
// §4.5.1 step 2). The query key is (local.comm_id, local.plane,
// placement), matched against the remote index keyed by
// (dst_eid, plane, placement); an empty comm_id or dst_eid on either
// side matches any.
func pairUB(locals []transport.LocalEndpoint, remotes []transport.EndpointDesc) ([]pair, error) {
	var ub []transport.EndpointDesc
	for _, r := range remotes {
		if r.Protocol == wirepb.ProtoUBCTP || r.Protocol == wirepb.ProtoUBTP {
			ub = append(ub, r)
		}
	}

	used := map[segtable.CommType]bool{}
	var pairs []pair
	for _, l := range locals {
		if l.Desc.Protocol != wirepb.ProtoUBCTP && l.Desc.Protocol != wirepb.ProtoUBTP {
			continue
		}
		for _, placement := range [...]wirepb.Placement{wirepb.PlacementDevice, wirepb.PlacementHost} {
			match, ok := findUBMatch(ub, l.Desc.Plane, l.Desc.CommID, placement)
			if !ok {
				continue
			}
			class := commTypeFromPlacements(l.Desc.Placement, placement)
			if used[class] {
				continue
			}
			pairs = append(pairs, pair{local: l, remote: match, class: class})
			used[class] = true
		}
	}
	return pairs, nil
}

func findUBMatch(ub []transport.EndpointDesc, plane, commID string, placement wirepb.Placement) (transport.EndpointDesc, bool) {
	for _, r := range ub {
		if r.Placement != placement || r.Plane != plane {
			continue
		}
		if commID != "" && r.DstEID != "" && commID != r.DstEID {
			continue
		}
		return r, true
	}
	return transport.EndpointDesc{}, false
}

// commTypeFromPlacements derives the transport class from the local and
// remote placements of a UB pair (spec §4.6's D2D/H2D/D2H/H2H naming:
// first letter is the local side, second the remote).
func commTypeFromPlacements(local, remote wirepb.Placement) segtable.CommType {
	switch {
	case local == wirepb.PlacementDevice && remote == wirepb.PlacementDevice:
		return segtable.CommD2D
	case local == wirepb.PlacementHost && remote == wirepb.PlacementDevice:
		return segtable.CommH2D
	case local == wirepb.PlacementDevice && remote == wirepb.PlacementHost:
		return segtable.CommD2H
	default:
		return segtable.CommH2H
	}
}

func fromCatalogDesc(d wirepb.EndpointDesc) transport.EndpointDesc {
	return transport.EndpointDesc{
		Protocol:      d.Protocol,
		Placement:     d.Placement,
		CommID:        d.CommID,
		Plane:         d.Plane,
		DstEID:        d.DstEID,
		NetInstanceID: d.NetInstanceID,
	}
}
