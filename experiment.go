package qdisc

// experiment.go assembles a simulation experiment from its description: the
// discipline tree, the egress port draining it, the traffic sources feeding
// it, and the monitor sampling it.  Running the event manager is left to the
// caller.

import (
	"fmt"
)

// Experiment holds the parts of a running experiment
type Experiment struct {
	Cfg      *ExpCfg
	Root     QueueDisc
	Port     *EgressPort
	Sources  []*TrafficSource
	Monitor  *QueueMonitor
	TraceMgr *TraceManager

	sched    EventScheduler
	received map[int]int // packets delivered by the port, per flow
}

// FlowResult is what a traffic source offered and what was admitted
type FlowResult struct {
	Name     string `json:"name" yaml:"name"`
	Sent     int    `json:"sent" yaml:"sent"`
	Accepted int    `json:"accepted" yaml:"accepted"`
	Received int    `json:"received" yaml:"received"`
}

// ExpResult is the outcome of an experiment
type ExpResult struct {
	Name           string           `json:"name" yaml:"name"`
	Time           float64          `json:"time" yaml:"time"`
	Delivered      int              `json:"delivered" yaml:"delivered"`
	DeliveredBytes int              `json:"deliveredbytes" yaml:"deliveredbytes"`
	Utilization    float64          `json:"utilization" yaml:"utilization"`
	Flows          []FlowResult     `json:"flows" yaml:"flows"`
	Stats          map[string]Stats `json:"stats" yaml:"stats"`
	Monitor        MonitorSummary   `json:"monitor" yaml:"monitor"`
}

// WriteToFile serializes the result, json or yaml by the extension of the file name
func (er *ExpResult) WriteToFile(filename string) error {
	return writeDescFile(filename, er)
}

// BuildExperiment creates the discipline tree described by desc behind an egress
// port, and a traffic source per flow.  Nothing is scheduled until Start
func BuildExperiment(expCfg *ExpCfg, desc *QdiscDesc, sched EventScheduler, env *BuildEnv) (*Experiment, error) {
	if err := expCfg.Validate(); err != nil {
		return nil, err
	}
	if env == nil {
		env = new(BuildEnv)
	}
	env.Sched = sched
	if env.TraceMgr == nil {
		env.TraceMgr = CreateTraceManager(expCfg.Name, len(expCfg.TraceFile) > 0)
	}

	root, err := BuildQueueDisc(desc, env)
	if err != nil {
		return nil, err
	}

	// queue disc names label traces and metrics, so they must be unique
	names := make(map[string]bool)
	var dupErr error
	Walk(root, func(qd QueueDisc) {
		if names[qd.Name()] && dupErr == nil {
			dupErr = misconfigured("queue disc name %s is used twice", qd.Name())
		}
		names[qd.Name()] = true
	})
	if dupErr != nil {
		return nil, dupErr
	}

	exp := &Experiment{Cfg: expCfg, Root: root, TraceMgr: env.TraceMgr, sched: sched}
	received := make(map[int]int)
	exp.Port = CreateEgressPort(expCfg.Name, expCfg.Bandwidth, root, sched, func(item QueueItem, time float64) {
		if pckt, ok := item.(*Packet); ok {
			received[pckt.FlowID] += 1
		}
	})
	exp.Sources = make([]*TrafficSource, 0, len(expCfg.Flows))
	for idx, fd := range expCfg.Flows {
		ts, err := CreateTrafficSource(idx, fd, sched, nil, exp.Port.SendPacket)
		if err != nil {
			return nil, err
		}
		exp.Sources = append(exp.Sources, ts)
	}
	exp.received = received

	if expCfg.MonitorPeriod > 0.0 {
		exp.Monitor = CreateQueueMonitor(root, sched, expCfg.MonitorPeriod)
	}
	return exp, nil
}

// Start starts the discipline tree, the sources and the monitor
func (exp *Experiment) Start() error {
	if err := exp.Root.Start(); err != nil {
		return fmt.Errorf("experiment %s: %w", exp.Cfg.Name, err)
	}
	for _, ts := range exp.Sources {
		ts.Start()
	}
	if exp.Monitor != nil {
		exp.Monitor.Start()
	}
	return nil
}

// Stop cancels everything the experiment scheduled
func (exp *Experiment) Stop() {
	for _, ts := range exp.Sources {
		ts.Stop()
	}
	if exp.Monitor != nil {
		exp.Monitor.Stop()
	}
	exp.Port.Dispose()
}

// Results gathers the counters of the port, the sources and every discipline
func (exp *Experiment) Results() ExpResult {
	er := ExpResult{Name: exp.Cfg.Name, Time: exp.sched.Now(), Utilization: exp.Port.Utilization(),
		Flows: make([]FlowResult, 0, len(exp.Sources)), Stats: make(map[string]Stats)}
	er.Delivered, er.DeliveredBytes = exp.Port.Delivered()
	for _, ts := range exp.Sources {
		er.Flows = append(er.Flows, FlowResult{Name: ts.Desc.Name, Sent: ts.Sent(),
			Accepted: ts.Accepted(), Received: exp.received[ts.FlowID]})
	}
	Walk(exp.Root, func(qd QueueDisc) {
		er.Stats[qd.Name()] = qd.Stats()
	})
	if exp.Monitor != nil {
		er.Monitor = exp.Monitor.Summary()
	}
	return er
}
