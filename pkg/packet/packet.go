// Package packet converts raw Ethernet frames to flow header fields and
// re-encodes frames after flow filter actions have modified those fields.
package packet

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/psaab/vtnflow/pkg/flow"
)

// ErrNotEthernet is returned for frames too short to hold an Ethernet header.
var ErrNotEthernet = errors.New("frame has no Ethernet header")

// frameLayers holds the header layers of one frame. Decoding stops at the
// first layer above the transport header, which is kept as opaque payload.
type frameLayers struct {
	eth     layers.Ethernet
	vlans   []*layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	icmp    layers.ICMPv4
	decoded []gopacket.LayerType
	payload []byte
}

func decodeLayers(frame []byte) (*frameLayers, error) {
	fl := &frameLayers{}
	if err := fl.eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return nil, ErrNotEthernet
	}
	fl.decoded = append(fl.decoded, layers.LayerTypeEthernet)

	next, data := fl.eth.NextLayerType(), fl.eth.LayerPayload()
	for len(data) > 0 {
		var dl gopacket.DecodingLayer
		if fl.tunnelled(next) {
			next = gopacket.LayerTypePayload
		}
		switch next {
		case layers.LayerTypeDot1Q:
			tag := &layers.Dot1Q{}
			fl.vlans = append(fl.vlans, tag)
			dl = tag
		case layers.LayerTypeIPv4:
			dl = &fl.ip4
		case layers.LayerTypeIPv6:
			dl = &fl.ip6
		case layers.LayerTypeTCP:
			dl = &fl.tcp
		case layers.LayerTypeUDP:
			dl = &fl.udp
		case layers.LayerTypeICMPv4:
			dl = &fl.icmp
		default:
			fl.payload = data
			return fl, nil
		}
		if err := dl.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("decode frame: %s: %w", next, err)
		}
		fl.decoded = append(fl.decoded, next)
		next, data = dl.NextLayerType(), dl.LayerPayload()
	}
	return fl, nil
}

func (fl *frameLayers) has(t gopacket.LayerType) bool {
	return slices.Contains(fl.decoded, t)
}

// tunnelled reports whether next repeats a header already decoded, as in
// IP-in-IP. Inner headers are carried as payload.
func (fl *frameLayers) tunnelled(next gopacket.LayerType) bool {
	switch next {
	case layers.LayerTypeDot1Q:
		return false
	case layers.LayerTypeIPv4, layers.LayerTypeIPv6:
		return fl.has(layers.LayerTypeIPv4) || fl.has(layers.LayerTypeIPv6)
	}
	return fl.has(next)
}

// Decode extracts the header fields of an Ethernet frame. Application
// payloads are not inspected.
func Decode(frame []byte) (flow.HeaderFields, error) {
	var f flow.HeaderFields
	fl, err := decodeLayers(frame)
	if err != nil {
		return f, err
	}

	f.SrcMAC = flow.MACFromSlice(fl.eth.SrcMAC)
	f.DstMAC = flow.MACFromSlice(fl.eth.DstMAC)
	etherType := fl.eth.EthernetType
	for _, tag := range fl.vlans {
		f.Vlans = append(f.Vlans, flow.VlanTag{
			TPID: uint16(etherType),
			ID:   tag.VLANIdentifier,
			PCP:  tag.Priority,
		})
		etherType = tag.Type
	}
	f.EtherType = uint16(etherType)

	switch {
	case fl.has(layers.LayerTypeIPv4):
		f.SrcIP = addr4(fl.ip4.SrcIP)
		f.DstIP = addr4(fl.ip4.DstIP)
		f.Protocol = uint8(fl.ip4.Protocol)
		f.DSCP = fl.ip4.TOS >> 2
	case fl.has(layers.LayerTypeIPv6):
		f.SrcIP, _ = netip.AddrFromSlice(fl.ip6.SrcIP.To16())
		f.DstIP, _ = netip.AddrFromSlice(fl.ip6.DstIP.To16())
		f.Protocol = uint8(fl.ip6.NextHeader)
		f.DSCP = fl.ip6.TrafficClass >> 2
	}
	switch {
	case fl.has(layers.LayerTypeTCP):
		f.SrcPort = uint16(fl.tcp.SrcPort)
		f.DstPort = uint16(fl.tcp.DstPort)
	case fl.has(layers.LayerTypeUDP):
		f.SrcPort = uint16(fl.udp.SrcPort)
		f.DstPort = uint16(fl.udp.DstPort)
	case fl.has(layers.LayerTypeICMPv4):
		f.ICMPType = fl.icmp.TypeCode.Type()
		f.ICMPCode = fl.icmp.TypeCode.Code()
	}
	return f, nil
}

func addr4(ip net.IP) netip.Addr {
	if v4 := ip.To4(); v4 != nil {
		return netip.AddrFrom4([4]byte(v4))
	}
	return netip.Addr{}
}

// Rewrite re-encodes frame with the values in f. The VLAN tag stack is
// rebuilt from f.Vlans; lengths and checksums are recomputed. Bytes above
// the transport header are copied unchanged.
func Rewrite(frame []byte, f flow.HeaderFields) ([]byte, error) {
	fl, err := decodeLayers(frame)
	if err != nil {
		return nil, err
	}

	e := fl.eth
	e.SrcMAC = hardwareAddr(f.SrcMAC)
	e.DstMAC = hardwareAddr(f.DstMAC)
	e.EthernetType = layers.EthernetType(f.EtherType)
	if len(f.Vlans) > 0 {
		e.EthernetType = layers.EthernetType(f.Vlans[0].TPID)
	}
	out := []gopacket.SerializableLayer{&e}
	for i, tag := range f.Vlans {
		next := f.EtherType
		if i+1 < len(f.Vlans) {
			next = f.Vlans[i+1].TPID
		}
		out = append(out, &layers.Dot1Q{
			Priority:       tag.PCP,
			VLANIdentifier: tag.ID,
			Type:           layers.EthernetType(next),
		})
	}

	var network gopacket.NetworkLayer
	switch {
	case fl.has(layers.LayerTypeIPv4):
		ip := fl.ip4
		if f.SrcIP.Is4() {
			ip.SrcIP = f.SrcIP.AsSlice()
		}
		if f.DstIP.Is4() {
			ip.DstIP = f.DstIP.AsSlice()
		}
		ip.TOS = f.DSCP<<2 | ip.TOS&0x03
		network = &ip
		out = append(out, &ip)
	case fl.has(layers.LayerTypeIPv6):
		ip := fl.ip6
		ip.TrafficClass = f.DSCP<<2 | ip.TrafficClass&0x03
		network = &ip
		out = append(out, &ip)
	}

	switch {
	case fl.has(layers.LayerTypeTCP):
		tcp := fl.tcp
		tcp.SrcPort = layers.TCPPort(f.SrcPort)
		tcp.DstPort = layers.TCPPort(f.DstPort)
		if network != nil {
			if err := tcp.SetNetworkLayerForChecksum(network); err != nil {
				return nil, err
			}
		}
		out = append(out, &tcp)
	case fl.has(layers.LayerTypeUDP):
		udp := fl.udp
		udp.SrcPort = layers.UDPPort(f.SrcPort)
		udp.DstPort = layers.UDPPort(f.DstPort)
		if network != nil {
			if err := udp.SetNetworkLayerForChecksum(network); err != nil {
				return nil, err
			}
		}
		out = append(out, &udp)
	case fl.has(layers.LayerTypeICMPv4):
		icmp := fl.icmp
		icmp.TypeCode = layers.CreateICMPv4TypeCode(f.ICMPType, f.ICMPCode)
		out = append(out, &icmp)
	}

	if len(fl.payload) > 0 {
		out = append(out, gopacket.Payload(fl.payload))
	}
	return serialize(out)
}

func serialize(ls []gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func hardwareAddr(m flow.MAC) net.HardwareAddr {
	return net.HardwareAddr(m[:])
}
