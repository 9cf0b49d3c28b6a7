package qdisc

// packet.go holds the item types that move through queue disciplines.
// A queue discipline only needs the size of an item; the marking disciplines
// additionally need access to the ECN codepoint carried in the IP header.

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ECNCodepoint is the two-bit ECN field of the IP header
type ECNCodepoint uint8

// The codepoint values are the ones carried on the wire (RFC 3168)
const (
	NotECT ECNCodepoint = 0x0
	ECT1   ECNCodepoint = 0x1
	ECT0   ECNCodepoint = 0x2
	CE     ECNCodepoint = 0x3
)

var ecnToStr map[ECNCodepoint]string = map[ECNCodepoint]string{NotECT: "NotECT", ECT1: "ECT1", ECT0: "ECT0", CE: "CE"}

func (ecn ECNCodepoint) String() string {
	str, present := ecnToStr[ecn&0x3]
	if !present {
		return "unknown"
	}
	return str
}

// ecnFromStr converts a configuration string into a codepoint
func ecnFromStr(code string) (ECNCodepoint, error) {
	for ecn, str := range ecnToStr {
		if strings.EqualFold(str, code) {
			return ecn, nil
		}
	}
	if code == "" {
		return NotECT, nil
	}
	return NotECT, fmt.Errorf("unrecognized ECN codepoint %q", code)
}

// NoClass is the class tag of a packet that carries no explicit class
const NoClass int = -1

// QueueItem is anything that can be held by a queue discipline
type QueueItem interface {
	// Size is the number of bytes the item occupies in a queue
	Size() int
}

// NetItem is a QueueItem with an IP header, which makes it markable
type NetItem interface {
	QueueItem
	ECN() ECNCodepoint
	SetECN(ECNCodepoint)
}

// dscpCarrier, portCarrier and classTagged expose the header fields filters look at
type dscpCarrier interface {
	DSCP() uint8
}

type portCarrier interface {
	Ports() (uint16, uint16)
}

type classTagged interface {
	ClassTag() (int, bool)
}

// Packet is the network-layer item used by the simulator and the tests.
// Only the TOS byte changes after creation, and only through SetECN / SetDSCP
type Packet struct {
	ID       int    // unique identifier, assigned by the creator
	FlowID   int    // identity of the flow the packet belongs to
	Len      int    // bytes on the wire
	Tos      uint8  // DSCP (6 bits) and ECN (2 bits)
	Protocol uint8  // IP protocol number
	SrcPort  uint16 // transport ports, zero when absent
	DstPort  uint16
	Class    int    // explicit class tag, NoClass when not tagged
	Payload  []byte // opaque transport payload

	ip *layers.IPv4 // decoded header, present when the packet came from DecodePacket
}

// CreatePacket is a constructor for a packet of the given size and codepoint
func CreatePacket(id, size int, ecn ECNCodepoint) *Packet {
	pckt := &Packet{ID: id, Len: size, Class: NoClass}
	pckt.SetECN(ecn)
	return pckt
}

// Size returns the length of the packet in bytes
func (pckt *Packet) Size() int {
	return pckt.Len
}

// ECN returns the congestion-notification codepoint
func (pckt *Packet) ECN() ECNCodepoint {
	return ECNCodepoint(pckt.Tos & 0x3)
}

// SetECN overwrites the congestion-notification codepoint
func (pckt *Packet) SetECN(ecn ECNCodepoint) {
	pckt.Tos = (pckt.Tos &^ 0x3) | uint8(ecn&0x3)
}

// DSCP returns the differentiated-services codepoint
func (pckt *Packet) DSCP() uint8 {
	return pckt.Tos >> 2
}

// SetDSCP overwrites the differentiated-services codepoint, leaving ECN alone
func (pckt *Packet) SetDSCP(dscp uint8) {
	pckt.Tos = (dscp << 2) | (pckt.Tos & 0x3)
}

// Ports returns source and destination transport ports
func (pckt *Packet) Ports() (uint16, uint16) {
	return pckt.SrcPort, pckt.DstPort
}

// ClassTag returns the explicit class carried by the packet, if any
func (pckt *Packet) ClassTag() (int, bool) {
	if pckt.Class < 0 {
		return NoClass, false
	}
	return pckt.Class, true
}

// DecodePacket builds a Packet from the bytes of an IPv4 datagram
func DecodePacket(id int, data []byte) (*Packet, error) {
	decoded := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
	if errLayer := decoded.ErrorLayer(); errLayer != nil {
		return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, errLayer.Error())
	}

	l := decoded.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return nil, fmt.Errorf("%w: not an IPv4 packet", ErrTypeMismatch)
	}
	ip := l.(*layers.IPv4)

	pckt := &Packet{ID: id, Len: len(data), Tos: ip.TOS, Protocol: uint8(ip.Protocol), Class: NoClass, ip: ip}
	pckt.Payload = ip.Payload

	if l := decoded.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		pckt.SrcPort, pckt.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
	} else if l := decoded.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		pckt.SrcPort, pckt.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
	}
	return pckt, nil
}

// Serialize returns the IPv4 datagram with the current TOS byte (so with any mark applied).
// Only packets created by DecodePacket have a header to serialize.
func (pckt *Packet) Serialize() ([]byte, error) {
	if pckt.ip == nil {
		return nil, fmt.Errorf("%w: packet %d has no IPv4 header", ErrTypeMismatch, pckt.ID)
	}
	ip := *pckt.ip
	ip.TOS = pckt.Tos

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &ip, gopacket.Payload(pckt.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// markCE sets the CE codepoint on an item.  Only ECT(1) packets are marked,
// anything else is reported and left untouched
func markCE(item QueueItem) error {
	netItem, ok := item.(NetItem)
	if !ok {
		return ErrTypeMismatch
	}
	if netItem.ECN() != ECT1 {
		return ErrMarkingIneligible
	}
	netItem.SetECN(CE)
	return nil
}
