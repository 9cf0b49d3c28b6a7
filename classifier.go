package qdisc

// classifier.go holds the packet filters that map an item to a class id.
// A discipline tries its filters in the order they were added, and the
// first one that matches decides the class

import (
	"golang.org/x/exp/slices"
)

// PacketFilter maps an item to a class id, or reports no match
type PacketFilter interface {
	Classify(item QueueItem) (int, bool)
}

// FilterChain is an ordered list of filters
type FilterChain []PacketFilter

// Classify returns the class of the first filter that matches
func (fc FilterChain) Classify(item QueueItem) (int, bool) {
	for _, filter := range fc {
		if class, matched := filter.Classify(item); matched {
			return class, true
		}
	}
	return NoClass, false
}

// FilterFunc adapts a function to the PacketFilter interface
type FilterFunc func(item QueueItem) (int, bool)

func (ff FilterFunc) Classify(item QueueItem) (int, bool) {
	return ff(item)
}

// DSCPFilter classifies by the DSCP of the packet.  With an empty Classes map the
// DSCP value is the class itself, which is how the PIAS senders tag their
// priority.  Otherwise unlisted codepoints do not match
type DSCPFilter struct {
	Classes map[uint8]int
}

func (df *DSCPFilter) Classify(item QueueItem) (int, bool) {
	dc, ok := item.(dscpCarrier)
	if !ok {
		return NoClass, false
	}
	dscp := dc.DSCP()
	if len(df.Classes) == 0 {
		return int(dscp), true
	}
	class, present := df.Classes[dscp]
	if !present {
		return NoClass, false
	}
	return class, true
}

// PortRange is an inclusive range of transport ports bound to a class
type PortRange struct {
	Low   uint16 `json:"low" yaml:"low"`
	High  uint16 `json:"high" yaml:"high"`
	Class int    `json:"class" yaml:"class"`
}

// PortFilter classifies by destination port, or by source port when BySrc is set.
// Ranges are tried in order
type PortFilter struct {
	Ranges []PortRange
	BySrc  bool
}

func (pf *PortFilter) Classify(item QueueItem) (int, bool) {
	pc, ok := item.(portCarrier)
	if !ok {
		return NoClass, false
	}
	src, dst := pc.Ports()
	port := dst
	if pf.BySrc {
		port = src
	}
	idx := slices.IndexFunc(pf.Ranges, func(pr PortRange) bool { return pr.Low <= port && port <= pr.High })
	if idx < 0 {
		return NoClass, false
	}
	return pf.Ranges[idx].Class, true
}

// TagFilter uses the class the packet carries explicitly.  If Allowed is not
// empty only those classes match
type TagFilter struct {
	Allowed []int
}

func (tf *TagFilter) Classify(item QueueItem) (int, bool) {
	tagged, ok := item.(classTagged)
	if !ok {
		return NoClass, false
	}
	class, present := tagged.ClassTag()
	if !present {
		return NoClass, false
	}
	if len(tf.Allowed) > 0 && !slices.Contains(tf.Allowed, class) {
		return NoClass, false
	}
	return class, true
}

// ConstFilter matches every item, assigning it Class.  Useful as the last
// filter of a chain
type ConstFilter struct {
	Class int
}

func (cf *ConstFilter) Classify(item QueueItem) (int, bool) {
	return cf.Class, true
}
