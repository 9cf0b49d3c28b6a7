package qdisc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func portPacket(src, dst uint16) *Packet {
	pckt := CreatePacket(1, 100, ECT1)
	pckt.SrcPort, pckt.DstPort = src, dst
	return pckt
}

func TestFilters(t *testing.T) {
	tagged := CreatePacket(1, 100, ECT1)
	tagged.Class = 4

	tests := []struct {
		name    string
		filter  PacketFilter
		item    QueueItem
		class   int
		matched bool
	}{
		{"dscp identity", &DSCPFilter{}, dscpPacket(1, 100, 5), 5, true},
		{"dscp map", &DSCPFilter{Classes: map[uint8]int{46: 0}}, dscpPacket(1, 100, 46), 0, true},
		{"dscp unmapped", &DSCPFilter{Classes: map[uint8]int{46: 0}}, dscpPacket(1, 100, 10), NoClass, false},
		{"dscp on bare item", &DSCPFilter{}, bareItem(10), NoClass, false},
		{"dst port", &PortFilter{Ranges: []PortRange{{Low: 80, High: 89, Class: 2}}}, portPacket(9999, 85), 2, true},
		{"src port", &PortFilter{Ranges: []PortRange{{Low: 80, High: 89, Class: 2}}, BySrc: true}, portPacket(85, 9999), 2, true},
		{"port outside", &PortFilter{Ranges: []PortRange{{Low: 80, High: 89, Class: 2}}}, portPacket(85, 90), NoClass, false},
		{"first range wins", &PortFilter{Ranges: []PortRange{{Low: 0, High: 100, Class: 1}, {Low: 50, High: 60, Class: 2}}}, portPacket(0, 55), 1, true},
		{"tag", &TagFilter{}, tagged, 4, true},
		{"tag not allowed", &TagFilter{Allowed: []int{1, 2}}, tagged, NoClass, false},
		{"untagged", &TagFilter{}, ectPacket(1, 100), NoClass, false},
		{"const", &ConstFilter{Class: 3}, bareItem(10), 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, matched := tt.filter.Classify(tt.item)
			assert.Equal(t, tt.matched, matched)
			assert.Equal(t, tt.class, class)
		})
	}
}

func TestFilterChainFirstMatchWins(t *testing.T) {
	chain := FilterChain{
		&TagFilter{},
		FilterFunc(func(item QueueItem) (int, bool) { return 9, item.Size() > 1000 }),
		&ConstFilter{Class: 0},
	}

	tagged := CreatePacket(1, 2000, ECT1)
	tagged.Class = 1
	class, matched := chain.Classify(tagged)
	assert.True(t, matched)
	assert.Equal(t, 1, class)

	class, _ = chain.Classify(ectPacket(2, 2000))
	assert.Equal(t, 9, class)

	class, _ = chain.Classify(ectPacket(3, 100))
	assert.Equal(t, 0, class)

	class, matched = FilterChain{}.Classify(ectPacket(4, 100))
	assert.False(t, matched)
	assert.Equal(t, NoClass, class)
}
