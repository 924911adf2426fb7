package wire_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/pim/wire"
	"github.com/stretchr/testify/require"
)

func TestHelloRoundTrip(t *testing.T) {
	msg := &wire.Message{
		Header: wire.Header{Version: wire.Version, Type: wire.TypeHello},
		Hello: &wire.HelloMessage{
			Holdtime:        105,
			HasHoldtime:     true,
			HasDRPriority:   true,
			DRPriority:      1,
			HasGenerationID: true,
			GenerationID:    0xdeadbeef,
			SecondaryAddrs:  []ipaddr.IPvX{ipaddr.MustParse("10.0.0.2")},
		},
	}
	b := msg.Serialize()

	decoded, err := wire.Decode(b)
	require.NoError(t, err)
	require.Equal(t, wire.TypeHello, decoded.Header.Type)
	if diff := cmp.Diff(msg.Hello, decoded.Hello, cmp.Comparer(func(a, b ipaddr.IPvX) bool { return a.Equal(b) })); diff != "" {
		t.Fatalf("hello mismatch (-want +got):\n%s", diff)
	}
}

func TestHelloPreservesUnknownOption(t *testing.T) {
	msg := &wire.Message{
		Header: wire.Header{Version: wire.Version, Type: wire.TypeHello},
		Hello: &wire.HelloMessage{
			Unknown: []wire.HelloOption{{Type: 0x00FF, Value: []byte{1, 2, 3, 4}}},
		},
	}
	b := msg.Serialize()
	decoded, err := wire.Decode(b)
	require.NoError(t, err)
	require.Len(t, decoded.Hello.Unknown, 1)
	require.Equal(t, wire.OptionType(0x00FF), decoded.Hello.Unknown[0].Type)
	require.Equal(t, []byte{1, 2, 3, 4}, decoded.Hello.Unknown[0].Value)
}

func TestJoinPruneRoundTrip(t *testing.T) {
	group, err := ipaddr.NewNet(ipaddr.MustParse("239.1.1.1"), 32)
	require.NoError(t, err)
	src, err := ipaddr.NewNet(ipaddr.MustParse("10.0.0.5"), 32)
	require.NoError(t, err)

	msg := &wire.Message{
		Header: wire.Header{Version: wire.Version, Type: wire.TypeJoinPrune},
		JoinPrune: &wire.JoinPruneMessage{
			UpstreamNeighbor: ipaddr.MustParse("10.0.0.1"),
			Holdtime:         210,
			Groups: []wire.JoinPruneGroup{
				{
					Group: wire.EncodedGroupAddr{Group: group},
					Joins: []wire.EncodedSourceAddr{
						{Source: src, Flags: wire.SourceFlags{Sparse: true, WildCard: false, RPT: false}},
					},
				},
			},
		},
	}
	b := msg.Serialize()

	decoded, err := wire.Decode(b)
	require.NoError(t, err)
	require.Len(t, decoded.JoinPrune.Groups, 1)
	require.Len(t, decoded.JoinPrune.Groups[0].Joins, 1)
	require.True(t, decoded.JoinPrune.Groups[0].Joins[0].Flags.Sparse)
	require.True(t, decoded.JoinPrune.Groups[0].Group.Group.Equal(group))
}

func TestAssertRoundTripRPTBit(t *testing.T) {
	group, _ := ipaddr.NewNet(ipaddr.MustParse("239.1.1.1"), 32)
	msg := &wire.Message{
		Header: wire.Header{Version: wire.Version, Type: wire.TypeAssert},
		Assert: &wire.AssertMessage{
			Group:      wire.EncodedGroupAddr{Group: group},
			Source:     wire.EncodedUnicastAddr{Addr: ipaddr.MustParse("10.0.0.9")},
			RPTBit:     true,
			MetricPref: 100,
			Metric:     10,
		},
	}
	b := msg.Serialize()
	decoded, err := wire.Decode(b)
	require.NoError(t, err)
	require.True(t, decoded.Assert.RPTBit)
	require.Equal(t, uint32(100), decoded.Assert.MetricPref)
	require.Equal(t, uint32(10), decoded.Assert.Metric)
}

func TestRegisterChecksumCoversHeaderOnly(t *testing.T) {
	msg := &wire.Message{
		Header: wire.Header{Version: wire.Version, Type: wire.TypeRegister},
		Register: &wire.RegisterMessage{
			BorderBit:   true,
			InnerPacket: []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE},
		},
	}
	b := msg.Serialize()
	// Corrupting the inner packet must not invalidate the checksum.
	b[len(b)-1] ^= 0xFF

	decoded, err := wire.Decode(b)
	require.NoError(t, err)
	require.True(t, decoded.Register.BorderBit)
}

func TestRegisterStopRoundTrip(t *testing.T) {
	group, _ := ipaddr.NewNet(ipaddr.MustParse("239.2.2.2"), 32)
	msg := &wire.Message{
		Header: wire.Header{Version: wire.Version, Type: wire.TypeRegisterStop},
		RegisterStop: &wire.RegisterStopMessage{
			Group:  wire.EncodedGroupAddr{Group: group},
			Source: wire.EncodedUnicastAddr{Addr: ipaddr.MustParse("10.0.0.10")},
		},
	}
	b := msg.Serialize()
	decoded, err := wire.Decode(b)
	require.NoError(t, err)
	require.True(t, decoded.RegisterStop.Group.Group.Equal(group))
}

func TestBootstrapRoundTripMultipleGroupsAndRPs(t *testing.T) {
	g1, _ := ipaddr.NewNet(ipaddr.MustParse("239.0.0.0"), 8)
	g2, _ := ipaddr.NewNet(ipaddr.MustParse("238.0.0.0"), 8)
	msg := &wire.Message{
		Header: wire.Header{Version: wire.Version, Type: wire.TypeBootstrap},
		Bootstrap: &wire.BootstrapMessage{
			FragmentTag: 7,
			HashMaskLen: 30,
			BSRPriority: 5,
			BSRAddress:  wire.EncodedUnicastAddr{Addr: ipaddr.MustParse("10.0.0.1")},
			Groups: []wire.BootstrapGroup{
				{
					Group: wire.EncodedGroupAddr{Group: g1},
					RPs: []wire.BootstrapRP{
						{Address: wire.EncodedUnicastAddr{Addr: ipaddr.MustParse("10.0.0.2")}, Holdtime: 150, Priority: 1},
						{Address: wire.EncodedUnicastAddr{Addr: ipaddr.MustParse("10.0.0.3")}, Holdtime: 150, Priority: 2},
					},
				},
				{
					Group: wire.EncodedGroupAddr{Group: g2},
					RPs: []wire.BootstrapRP{
						{Address: wire.EncodedUnicastAddr{Addr: ipaddr.MustParse("10.0.0.4")}, Holdtime: 150, Priority: 0},
					},
				},
			},
		},
	}
	b := msg.Serialize()
	decoded, err := wire.Decode(b)
	require.NoError(t, err)
	require.Len(t, decoded.Bootstrap.Groups, 2)
	require.Len(t, decoded.Bootstrap.Groups[0].RPs, 2)
	require.Equal(t, uint8(2), decoded.Bootstrap.Groups[0].RPs[1].Priority)
	require.Equal(t, uint16(7), decoded.Bootstrap.FragmentTag)
}

func TestCandRPAdvRoundTrip(t *testing.T) {
	g1, _ := ipaddr.NewNet(ipaddr.MustParse("239.0.0.0"), 8)
	g2, _ := ipaddr.NewNet(ipaddr.MustParse("238.0.0.0"), 8)
	msg := &wire.Message{
		Header: wire.Header{Version: wire.Version, Type: wire.TypeCandRPAdv},
		CandRPAdv: &wire.CandRPAdvMessage{
			Priority:  192,
			Holdtime:  150,
			RPAddress: wire.EncodedUnicastAddr{Addr: ipaddr.MustParse("10.0.0.1")},
			Groups:    []wire.EncodedGroupAddr{{Group: g1}, {Group: g2}},
		},
	}
	b := msg.Serialize()
	decoded, err := wire.Decode(b)
	require.NoError(t, err)
	require.Len(t, decoded.CandRPAdv.Groups, 2)
	require.Equal(t, uint8(192), decoded.CandRPAdv.Priority)
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := wire.Decode([]byte{0x20})
	require.Error(t, err)
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	msg := &wire.Message{
		Header: wire.Header{Version: wire.Version, Type: wire.TypeHello},
		Hello:  &wire.HelloMessage{HasHoldtime: true, Holdtime: 105},
	}
	b := msg.Serialize()
	b[len(b)-1] ^= 0xFF
	_, err := wire.Decode(b)
	require.ErrorIs(t, err, wire.ErrBadChecksum)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	msg := &wire.Message{
		Header: wire.Header{Version: 1, Type: wire.TypeHello},
		Hello:  &wire.HelloMessage{},
	}
	b := msg.Serialize()
	_, err := wire.Decode(b)
	require.ErrorIs(t, err, wire.ErrBadVersion)
}
