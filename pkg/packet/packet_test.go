package packet

import (
	"bytes"
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/psaab/vtnflow/pkg/flow"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

	payload = gopacket.Payload("a payload long enough to avoid Ethernet padding")

	equateAddr = cmpopts.EquateComparable(netip.Addr{})
)

func mustSerialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	for _, l := range ls {
		if tl, ok := l.(interface {
			SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
		}); ok {
			for _, n := range ls {
				if nl, ok := n.(gopacket.NetworkLayer); ok {
					if err := tl.SetNetworkLayerForChecksum(nl); err != nil {
						t.Fatal(err)
					}
				}
			}
		}
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func tcpFrame(t *testing.T, vlan bool, src, dst net.IP, tos uint8, sport, dport layers.TCPPort) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Id: 1, TOS: tos, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
	tcp := &layers.TCP{SrcPort: sport, DstPort: dport, Seq: 100, SYN: true, Window: 1024}
	if !vlan {
		return mustSerialize(t, eth, ip, tcp, payload)
	}
	eth.EthernetType = layers.EthernetTypeDot1Q
	tag := &layers.Dot1Q{Priority: 2, VLANIdentifier: 100, Type: layers.EthernetTypeIPv4}
	return mustSerialize(t, eth, tag, ip, tcp, payload)
}

func TestDecode(t *testing.T) {
	frame := tcpFrame(t, true, net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, 46<<2, 40000, 80)
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := flow.HeaderFields{
		SrcMAC:    flow.MAC{0x02, 0, 0, 0, 0, 1},
		DstMAC:    flow.MAC{0x02, 0, 0, 0, 0, 2},
		Vlans:     []flow.VlanTag{{TPID: flow.TPIDCTag, ID: 100, PCP: 2}},
		EtherType: flow.EtherTypeIPv4,
		SrcIP:     netip.MustParseAddr("10.0.0.1"),
		DstIP:     netip.MustParseAddr("10.0.0.2"),
		Protocol:  flow.ProtoTCP,
		DSCP:      46,
		SrcPort:   40000,
		DstPort:   80,
	}
	if diff := cmp.Diff(want, got, equateAddr); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeICMPAndUDP(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: net.IP{192, 0, 2, 1}, DstIP: net.IP{192, 0, 2, 2}}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(8, 0), Id: 1, Seq: 1}
	f, err := Decode(mustSerialize(t, eth, ip, icmp, payload))
	if err != nil {
		t.Fatal(err)
	}
	if !f.IsICMP() || f.ICMPType != 8 || f.ICMPCode != 0 {
		t.Errorf("icmp fields = %s", &f)
	}

	ip6 := &layers.IPv6{Version: 6, HopLimit: 64, TrafficClass: 10 << 2, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2")}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	eth6 := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv6}
	f, err = Decode(mustSerialize(t, eth6, ip6, udp, payload))
	if err != nil {
		t.Fatal(err)
	}
	if f.EtherType != flow.EtherTypeIPv6 || f.SrcIP != netip.MustParseAddr("2001:db8::1") ||
		f.Protocol != flow.ProtoUDP || f.DSCP != 10 || f.DstPort != 53 {
		t.Errorf("ipv6 fields = %s", &f)
	}
}

func TestApplicationPayloadNotInspected(t *testing.T) {
	notDNS := gopacket.Payload("hello, not dns")
	tests := []struct {
		name  string
		sport layers.UDPPort
		dport layers.UDPPort
	}{
		{"dns port", 40000, 53},
		{"dns source port", 53, 40000},
		{"vxlan port", 40000, 4789},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
			ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IP{192, 0, 2, 1}, DstIP: net.IP{198, 51, 100, 1}}
			udp := &layers.UDP{SrcPort: tt.sport, DstPort: tt.dport}
			frame := mustSerialize(t, eth, ip, udp, notDNS)

			f, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if f.Protocol != flow.ProtoUDP || f.SrcPort != uint16(tt.sport) || f.DstPort != uint16(tt.dport) {
				t.Errorf("fields = %s", &f)
			}

			f.DstPort = 5353
			out, err := Rewrite(frame, f)
			if err != nil {
				t.Fatalf("Rewrite: %v", err)
			}
			if !bytes.Contains(out, notDNS) {
				t.Errorf("payload not preserved: %x", out)
			}
			back, err := Decode(out)
			if err != nil {
				t.Fatalf("Decode rewritten: %v", err)
			}
			if back.DstPort != 5353 || back.SrcPort != uint16(tt.sport) {
				t.Errorf("rewritten fields = %s", &back)
			}
		})
	}
}

func TestDecodeStackedVlans(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeQinQ}
	outer := &layers.Dot1Q{Priority: 3, VLANIdentifier: 200, Type: layers.EthernetTypeDot1Q}
	inner := &layers.Dot1Q{Priority: 1, VLANIdentifier: 10, Type: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	tcp := &layers.TCP{SrcPort: 1000, DstPort: 22, Window: 512}
	f, err := Decode(mustSerialize(t, eth, outer, inner, ip, tcp, payload))
	if err != nil {
		t.Fatal(err)
	}
	want := []flow.VlanTag{
		{TPID: flow.TPIDSTag, ID: 200, PCP: 3},
		{TPID: flow.TPIDCTag, ID: 10, PCP: 1},
	}
	if diff := cmp.Diff(want, f.Vlans); diff != "" {
		t.Errorf("vlan stack mismatch (-want +got):\n%s", diff)
	}
	if f.EtherType != flow.EtherTypeIPv4 || f.DstPort != 22 {
		t.Errorf("fields = %s", &f)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02}); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestRewrite(t *testing.T) {
	frame := tcpFrame(t, false, net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, 0, 40000, 80)
	f, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}

	newDst, _ := flow.ParseMAC("00:00:5e:00:53:01")
	actions := []flow.Action{
		must(flow.NewSetDlDst(0, newDst)),
		must(flow.NewSetInet4Dst(1, netip.MustParseAddr("192.0.2.10"))),
		must(flow.NewSetInetDscp(2, 46)),
		must(flow.NewSetTpDst(3, 8080)),
	}
	flow.Apply(actions, &f)

	got, err := Rewrite(frame, f)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: net.HardwareAddr(newDst[:]), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Id: 1, TOS: 46 << 2, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{192, 0, 2, 10}}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 8080, Seq: 100, SYN: true, Window: 1024}
	want := mustSerialize(t, eth, ip, tcp, payload)
	if !bytes.Equal(got, want) {
		t.Errorf("rewritten frame differs\n got: %x\nwant: %x", got, want)
	}

	back, err := Decode(got)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f, back, equateAddr); diff != "" {
		t.Errorf("decode of rewritten frame mismatch (-want +got):\n%s", diff)
	}
}

func TestRewriteVlanStack(t *testing.T) {
	frame := tcpFrame(t, false, net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, 0, 1, 2)
	f, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	f.Vlans = []flow.VlanTag{{TPID: flow.TPIDCTag, ID: 7, PCP: 5}}
	tagged, err := Rewrite(frame, f)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(tagged)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Tagged() || got.VlanID() != 7 || got.VlanPCP() != 5 || got.EtherType != flow.EtherTypeIPv4 {
		t.Errorf("tagged fields = %s", &got)
	}

	got.Vlans = nil
	untagged, err := Rewrite(tagged, got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(untagged, frame) {
		t.Errorf("pop did not restore original frame\n got: %x\nwant: %x", untagged, frame)
	}
}

func must(a flow.Action, err error) flow.Action {
	if err != nil {
		panic(err)
	}
	return a
}
