package hixlcli

import (
	"testing"

	"github.com/ascend-hixl/hixl/internal/segtable"
	"github.com/ascend-hixl/hixl/internal/transport"
	"github.com/ascend-hixl/hixl/internal/wirepb"
)

func TestPairEndpointsForcedRoCE(t *testing.T) {
	locals := []transport.LocalEndpoint{
		{Desc: transport.EndpointDesc{Protocol: wirepb.ProtoRoCE, CommID: "local"}},
	}
	remotes := []wirepb.EndpointDesc{
		{Protocol: wirepb.ProtoRoCE, CommID: "remote"},
	}
	pairs, err := pairEndpoints(locals, remotes, true /* forceRoCE */)
	if err != nil {
		t.Fatalf("pairEndpoints: %v", err)
	}
	if len(pairs) != 1 || pairs[0].class != segtable.CommRoCE {
		t.Fatalf("pairs = %+v, want one CommRoCE pair", pairs)
	}
}

func TestPairEndpointsNetInstanceMismatchForcesRoCE(t *testing.T) {
	locals := []transport.LocalEndpoint{
		{Desc: transport.EndpointDesc{Protocol: wirepb.ProtoRoCE, NetInstanceID: "1"}},
	}
	remotes := []wirepb.EndpointDesc{
		{Protocol: wirepb.ProtoRoCE, NetInstanceID: "2"},
	}
	pairs, err := pairEndpoints(locals, remotes, false)
	if err != nil {
		t.Fatalf("pairEndpoints: %v", err)
	}
	if len(pairs) != 1 || pairs[0].class != segtable.CommRoCE {
		t.Fatalf("pairs = %+v, want RoCE fallback on net_instance_id mismatch", pairs)
	}
}

func TestPairEndpointsUBMatchesByPlaneAndPlacement(t *testing.T) {
	locals := []transport.LocalEndpoint{
		{Desc: transport.EndpointDesc{Protocol: wirepb.ProtoUBCTP, Placement: wirepb.PlacementDevice, Plane: "p0"}},
	}
	remotes := []wirepb.EndpointDesc{
		{Protocol: wirepb.ProtoUBCTP, Placement: wirepb.PlacementDevice, Plane: "p0"},
		{Protocol: wirepb.ProtoUBCTP, Placement: wirepb.PlacementHost, Plane: "p0"},
	}
	pairs, err := pairEndpoints(locals, remotes, false)
	if err != nil {
		t.Fatalf("pairEndpoints: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs = %+v, want one D2D and one D2H pair", pairs)
	}
	classes := map[segtable.CommType]bool{}
	for _, p := range pairs {
		classes[p.class] = true
	}
	if !classes[segtable.CommD2D] || !classes[segtable.CommD2H] {
		t.Fatalf("pairs = %+v, want D2D and D2H", pairs)
	}
}

func TestPairEndpointsNoUBMatchFails(t *testing.T) {
	locals := []transport.LocalEndpoint{
		{Desc: transport.EndpointDesc{Protocol: wirepb.ProtoUBCTP, Placement: wirepb.PlacementDevice, Plane: "p0"}},
	}
	remotes := []wirepb.EndpointDesc{
		{Protocol: wirepb.ProtoUBCTP, Placement: wirepb.PlacementDevice, Plane: "other-plane"},
	}
	if _, err := pairEndpoints(locals, remotes, false); err == nil {
		t.Fatalf("expected failure when no UB channel can be paired")
	}
}
