package qdisc

// traffic.go holds the traffic sources that offer packets to an egress port
// in the simulator.  A source emits packets of one flow at a fixed rate, with
// either constant or exponentially distributed interarrival times, carrying
// the flow's ECN codepoint, DSCP and ports

import (
	"fmt"
	"math"
	"strings"

	"github.com/iti/rngstream"
)

// arrivalDist selects the interarrival time distribution of a source
type arrivalDist int

const (
	constArrivals arrivalDist = iota
	expArrivals
)

func arrivalFromStr(dist string) (arrivalDist, error) {
	switch strings.ToLower(dist) {
	case "const", "constant", "":
		return constArrivals, nil
	case "exp", "expon", "exponential":
		return expArrivals, nil
	}
	return constArrivals, fmt.Errorf("unrecognized arrival distribution %q", dist)
}

// numPckts counts packets created by all sources, giving each a unique id
var numPckts int = 0

// nxtPcktID returns an id not used by any packet created so far
func nxtPcktID() int {
	numPckts += 1
	return numPckts
}

// expRV returns a sample of an exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV samples an interarrival time of a Poisson process, params[0] being the rate
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst returns the constant interarrival time 1/params[0]
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}

// PacketSink accepts packets from a source, reporting whether the packet was admitted
type PacketSink func(pckt *Packet) bool

// TrafficSource generates the packets of one flow
type TrafficSource struct {
	FlowID int
	Desc   FlowDesc

	sched EventScheduler
	rng   RandSource
	sink  PacketSink
	ecn   ECNCodepoint

	// computes interarrival times; the first argument is a U01 sample,
	// the second the parameters of the distribution
	sampleNxtArrival func(float64, []float64) float64

	event    *EventHandle
	sent     int
	accepted int
}

// CreateTrafficSource is a constructor.  With a nil random source the flow draws
// from an rngstream named after it
func CreateTrafficSource(flowID int, desc FlowDesc, sched EventScheduler, rng RandSource, sink PacketSink) (*TrafficSource, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	ts := &TrafficSource{FlowID: flowID, Desc: desc, sched: sched, sink: sink}
	ts.ecn, _ = ecnFromStr(desc.ECN)

	dist, _ := arrivalFromStr(desc.Arrivals)
	ts.sampleNxtArrival = sampleConst
	if dist == expArrivals {
		ts.sampleNxtArrival = sampleExpRV
	}

	if rng == nil {
		rng = rngstream.New(desc.Name)
	}
	ts.rng = rng
	return ts, nil
}

// Start schedules the first packet at the flow's start time
func (ts *TrafficSource) Start() {
	delay := ts.Desc.Start - ts.sched.Now()
	if delay < 0.0 {
		delay = 0.0
	}
	ts.event = ts.sched.ScheduleAfter(delay, ts.arrival)
}

// Stop cancels the next packet
func (ts *TrafficSource) Stop() {
	ts.event.Cancel()
}

// Sent returns the number of packets the source generated
func (ts *TrafficSource) Sent() int {
	return ts.sent
}

// Accepted returns the number of packets the sink admitted
func (ts *TrafficSource) Accepted() int {
	return ts.accepted
}

// createPacket builds the next packet of the flow
func (ts *TrafficSource) createPacket() *Packet {
	pckt := CreatePacket(nxtPcktID(), ts.Desc.PktSize, ts.ecn)
	pckt.FlowID = ts.FlowID
	pckt.SetDSCP(ts.Desc.DSCP)
	pckt.SrcPort, pckt.DstPort = ts.Desc.SrcPort, ts.Desc.DstPort
	pckt.Class = NoClass
	if ts.Desc.Class >= 0 {
		pckt.Class = ts.Desc.Class
	}
	return pckt
}

// arrival emits one packet and schedules the next
func (ts *TrafficSource) arrival() {
	if ts.Desc.Stop > 0.0 && ts.sched.Now() >= ts.Desc.Stop {
		return
	}

	ts.sent += 1
	if ts.sink(ts.createPacket()) {
		ts.accepted += 1
	}

	interarrival := ts.sampleNxtArrival(ts.rng.RandU01(), []float64{ts.Desc.Rate})
	ts.event = ts.sched.ScheduleAfter(interarrival, ts.arrival)
}
