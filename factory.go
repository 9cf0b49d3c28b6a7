package qdisc

// factory.go builds queue disciplines from their descriptions.  Each discipline
// type registers a builder under its type name; BuildQueueDisc looks the
// builder up and, for schedulers, recursively builds the children of the
// classes.

import (
	"fmt"
	"strings"
	"sync"

	"github.com/apex/log"
	"golang.org/x/exp/slices"
)

// BuildEnv carries what every discipline of a tree shares
type BuildEnv struct {
	Sched    EventScheduler
	Logger   log.Interface
	TraceMgr *TraceManager
	DropHdlr DropHandler

	// RandFor returns the random source of a PIE discipline.  When nil
	// each PIE discipline draws from an rngstream named after it
	RandFor func(qdName string) RandSource
}

// QdiscBuilder creates the discipline a description calls for
type QdiscBuilder func(desc *QdiscDesc, env *BuildEnv) (QueueDisc, error)

var (
	// mu guards the registry
	mu sync.RWMutex

	// registeredQdiscs maps a type name to its builder
	registeredQdiscs = make(map[string]QdiscBuilder)
)

// MustRegisterQdisc registers a builder, and panics if the type name is already registered.
// Intended to be called from init() functions
func MustRegisterQdisc(qdType string, builder QdiscBuilder) {
	mu.Lock()
	defer mu.Unlock()
	qdType = strings.ToLower(qdType)
	if _, ok := registeredQdiscs[qdType]; ok {
		panic(fmt.Sprintf("queue disc type %q already registered", qdType))
	}
	registeredQdiscs[qdType] = builder
}

// RegisteredQdiscs returns the registered type names, sorted
func RegisteredQdiscs() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registeredQdiscs))
	for name := range registeredQdiscs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func init() {
	MustRegisterQdisc(TCNType, buildTCN)
	MustRegisterQdisc(ECNSharpType, buildECNSharp)
	MustRegisterQdisc(PIEType, buildPIE)
	MustRegisterQdisc(SPType, buildSP)
	MustRegisterQdisc(DWRRType, buildDWRR)
	MustRegisterQdisc(WFQType, buildWFQ)
	MustRegisterQdisc(DelayType, buildDelay)
}

// BuildQueueDisc creates the discipline tree a description calls for.  The tree is not started
func BuildQueueDisc(desc *QdiscDesc, env *BuildEnv) (QueueDisc, error) {
	if env == nil {
		env = new(BuildEnv)
	}
	mu.RLock()
	builder, ok := registeredQdiscs[strings.ToLower(desc.Type)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (queue disc %s)", ErrUnknownQdisc, desc.Type, desc.Name)
	}
	qd, err := builder(desc, env)
	if err != nil {
		return nil, fmt.Errorf("queue disc %s: %w", desc.Name, err)
	}
	return qd, nil
}

// equip attaches the shared services of the environment and the filters of the description
func equip(qb *qdiscBase, desc *QdiscDesc, env *BuildEnv) error {
	if env.Logger != nil {
		qb.SetLogger(env.Logger)
	}
	qb.SetTraceManager(env.TraceMgr)
	qb.SetDropHandler(env.DropHdlr)

	for idx := range desc.Filters {
		filter, err := desc.Filters[idx].CreateFilter()
		if err != nil {
			return err
		}
		if err := qb.AddPacketFilter(filter); err != nil {
			return err
		}
	}
	return nil
}

// leafOnly rejects classes on a single-queue discipline
func leafOnly(desc *QdiscDesc) error {
	if len(desc.Classes) > 0 {
		return misconfigured("%s queue disc %s cannot have classes", desc.Type, desc.Name)
	}
	return nil
}

func buildTCN(desc *QdiscDesc, env *BuildEnv) (QueueDisc, error) {
	if err := leafOnly(desc); err != nil {
		return nil, err
	}
	cfg, err := desc.TCNCfg()
	if err != nil {
		return nil, err
	}
	tcn := CreateTCNQueueDisc(desc.Name, cfg, env.Sched)
	return tcn, equip(&tcn.qdiscBase, desc, env)
}

func buildECNSharp(desc *QdiscDesc, env *BuildEnv) (QueueDisc, error) {
	if err := leafOnly(desc); err != nil {
		return nil, err
	}
	cfg, err := desc.ECNSharpCfg()
	if err != nil {
		return nil, err
	}
	es := CreateECNSharpQueueDisc(desc.Name, cfg, env.Sched)
	return es, equip(&es.qdiscBase, desc, env)
}

func buildPIE(desc *QdiscDesc, env *BuildEnv) (QueueDisc, error) {
	if err := leafOnly(desc); err != nil {
		return nil, err
	}
	cfg, err := desc.PIECfg()
	if err != nil {
		return nil, err
	}
	var rng RandSource
	if env.RandFor != nil {
		rng = env.RandFor(desc.Name)
	}
	pie := CreatePIEQueueDisc(desc.Name, cfg, env.Sched, rng)
	return pie, equip(&pie.qdiscBase, desc, env)
}

// buildChildren builds the child of every class, adding each with addFunc
func buildChildren(desc *QdiscDesc, env *BuildEnv, addFunc func(cd *ClassDesc, child QueueDisc) error) error {
	for idx := range desc.Classes {
		cd := &desc.Classes[idx]
		if cd.Child == nil {
			return misconfigured("class %d of %s has no child description", cd.Class, desc.Name)
		}
		child, err := BuildQueueDisc(cd.Child, env)
		if err != nil {
			return err
		}
		if err := addFunc(cd, child); err != nil {
			return fmt.Errorf("class %d: %w", cd.Class, err)
		}
	}
	return nil
}

func buildSP(desc *QdiscDesc, env *BuildEnv) (QueueDisc, error) {
	sp := CreateSPQueueDisc(desc.Name, env.Sched)
	if err := equip(&sp.qdiscBase, desc, env); err != nil {
		return nil, err
	}
	err := buildChildren(desc, env, func(cd *ClassDesc, child QueueDisc) error {
		return sp.AddSPClass(cd.Class, SPClassCfg{Priority: cd.Priority}, child)
	})
	return sp, err
}

func buildDWRR(desc *QdiscDesc, env *BuildEnv) (QueueDisc, error) {
	dwrr := CreateDWRRQueueDisc(desc.Name, env.Sched)
	if err := equip(&dwrr.qdiscBase, desc, env); err != nil {
		return nil, err
	}
	err := buildChildren(desc, env, func(cd *ClassDesc, child QueueDisc) error {
		quantum := cd.Quantum
		if quantum == 0 {
			quantum = DefaultDWRRQuantum
		}
		return dwrr.AddDWRRClass(cd.Class, DWRRClassCfg{Priority: cd.Priority, Quantum: quantum}, child)
	})
	return dwrr, err
}

func buildWFQ(desc *QdiscDesc, env *BuildEnv) (QueueDisc, error) {
	wfq := CreateWFQQueueDisc(desc.Name, env.Sched)
	if err := equip(&wfq.qdiscBase, desc, env); err != nil {
		return nil, err
	}
	err := buildChildren(desc, env, func(cd *ClassDesc, child QueueDisc) error {
		weight := cd.Weight
		if weight == 0.0 {
			weight = 1.0
		}
		return wfq.AddWFQClass(cd.Class, WFQClassCfg{Priority: cd.Priority, Weight: weight}, child)
	})
	return wfq, err
}

func buildDelay(desc *QdiscDesc, env *BuildEnv) (QueueDisc, error) {
	mode, limit, err := desc.modeAndLimit(PacketMode, 0)
	if err != nil {
		return nil, err
	}
	dq := CreateDelayQueueDisc(desc.Name, env.Sched, mode, limit)
	if err := equip(&dq.qdiscBase, desc, env); err != nil {
		return nil, err
	}
	for _, cd := range desc.Classes {
		if cd.Child != nil {
			return nil, misconfigured("class %d of delay queue disc %s cannot have a child", cd.Class, desc.Name)
		}
		if err := dq.AddDelayClass(cd.Class, DelayClassCfg{Delay: cd.Delay}); err != nil {
			return nil, fmt.Errorf("class %d: %w", cd.Class, err)
		}
	}
	return dq, nil
}

// Walk calls visit on a discipline and, depth first in class order, on every discipline beneath it
func Walk(qd QueueDisc, visit func(qd QueueDisc)) {
	visit(qd)
	type parent interface {
		ClassIDs() []int
		Child(class int) (QueueDisc, bool)
	}
	p, ok := qd.(parent)
	if !ok {
		return
	}
	for _, class := range p.ClassIDs() {
		if child, present := p.Child(class); present {
			Walk(child, visit)
		}
	}
}
