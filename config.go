package qdisc

// config.go holds the configuration of queue disciplines.  Each discipline type
// has a validated parameter struct with a Default constructor.  A
// QdiscDesc describes a whole discipline tree (a scheduler, its classes, and the
// disciplines under them) in a form that serializes to yaml or json, and a
// QdiscCfgDict keeps a collection of named descriptions in one file.  The
// simulator command reads an ExpCfg the same way.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// names of the discipline types, as they appear in a QdiscDesc
const (
	TCNType      = "tcn"
	ECNSharpType = "ecnsharp"
	PIEType      = "pie"
	SPType       = "sp"
	DWRRType     = "dwrr"
	WFQType      = "wfq"
	DelayType    = "delay"
)

// TCNCfg configures a TCN discipline
type TCNCfg struct {
	Mode      QueueMode `json:"mode" yaml:"mode"`
	Limit     int       `json:"limit" yaml:"limit"`         // packets or bytes, per Mode
	Threshold float64   `json:"threshold" yaml:"threshold"` // sojourn time above which packets are marked, seconds
}

// DefaultTCNCfg returns 100 packets and a 10 microsecond threshold
func DefaultTCNCfg() TCNCfg {
	return TCNCfg{Mode: PacketMode, Limit: 100, Threshold: 10e-6}
}

// Validate reports every parameter out of range
func (cfg TCNCfg) Validate() error {
	errs := []error{checkLimit(cfg.Limit)}
	if cfg.Threshold < 0.0 {
		errs = append(errs, fmt.Errorf("TCN threshold %g is negative", cfg.Threshold))
	}
	return wrapCfgErrs(errs)
}

// ECNSharpCfg configures an ECN# discipline
type ECNSharpCfg struct {
	Mode                   QueueMode `json:"mode" yaml:"mode"`
	Limit                  int       `json:"limit" yaml:"limit"`
	InstantaneousThreshold float64   `json:"instantaneousthreshold" yaml:"instantaneousthreshold"`
	PersistentInterval     float64   `json:"persistentinterval" yaml:"persistentinterval"`
	PersistentTarget       float64   `json:"persistenttarget" yaml:"persistenttarget"`
}

// DefaultECNSharpCfg returns 100 packets, a 20us instantaneous threshold,
// and persistent marking at a 10us target over a 100us interval
func DefaultECNSharpCfg() ECNSharpCfg {
	return ECNSharpCfg{Mode: PacketMode, Limit: 100, InstantaneousThreshold: 20e-6,
		PersistentInterval: 100e-6, PersistentTarget: 10e-6}
}

func (cfg ECNSharpCfg) Validate() error {
	errs := []error{checkLimit(cfg.Limit)}
	if cfg.InstantaneousThreshold < 0.0 {
		errs = append(errs, fmt.Errorf("ECN# instantaneous threshold %g is negative", cfg.InstantaneousThreshold))
	}
	if cfg.PersistentInterval <= 0.0 {
		errs = append(errs, fmt.Errorf("ECN# persistent interval %g must be positive", cfg.PersistentInterval))
	}
	if cfg.PersistentTarget < 0.0 {
		errs = append(errs, fmt.Errorf("ECN# persistent target %g is negative", cfg.PersistentTarget))
	}
	return wrapCfgErrs(errs)
}

// PIECfg configures a PIE discipline.  Times are in seconds, sizes in bytes
type PIECfg struct {
	Mode              QueueMode `json:"mode" yaml:"mode"`
	QueueLimit        int       `json:"queuelimit" yaml:"queuelimit"`
	MeanPktSize       int       `json:"meanpktsize" yaml:"meanpktsize"`
	Alpha             float64   `json:"alpha" yaml:"alpha"`
	Beta              float64   `json:"beta" yaml:"beta"`
	UpdatePeriod      float64   `json:"updateperiod" yaml:"updateperiod"`
	UpdateStart       float64   `json:"updatestart" yaml:"updatestart"`
	DequeueThreshold  int       `json:"dequeuethreshold" yaml:"dequeuethreshold"`
	DelayReference    float64   `json:"delayreference" yaml:"delayreference"`
	MaxBurstAllowance float64   `json:"maxburstallowance" yaml:"maxburstallowance"`
	BurstAllowance    bool      `json:"burstallowance" yaml:"burstallowance"` // enables the burst-allowance machine
	BurstResetTimeout float64   `json:"burstresettimeout" yaml:"burstresettimeout"`
}

// DefaultPIECfg returns the usual data center PIE parameters, with burst allowance off
func DefaultPIECfg() PIECfg {
	return PIECfg{
		Mode:              PacketMode,
		QueueLimit:        25,
		MeanPktSize:       1000,
		Alpha:             0.125,
		Beta:              1.25,
		UpdatePeriod:      0.03,
		UpdateStart:       0.0,
		DequeueThreshold:  10000,
		DelayReference:    0.02,
		MaxBurstAllowance: 0.1,
		BurstAllowance:    false,
		BurstResetTimeout: 1.5,
	}
}

func (cfg PIECfg) Validate() error {
	errs := []error{checkLimit(cfg.QueueLimit)}
	if cfg.MeanPktSize <= 0 {
		errs = append(errs, fmt.Errorf("PIE mean packet size %d must be positive", cfg.MeanPktSize))
	}
	if cfg.Alpha < 0.0 || cfg.Beta < 0.0 {
		errs = append(errs, fmt.Errorf("PIE gains alpha %g, beta %g cannot be negative", cfg.Alpha, cfg.Beta))
	}
	if cfg.UpdatePeriod <= 0.0 {
		errs = append(errs, fmt.Errorf("PIE update period %g must be positive", cfg.UpdatePeriod))
	}
	if cfg.UpdateStart < 0.0 {
		errs = append(errs, fmt.Errorf("PIE update start %g is negative", cfg.UpdateStart))
	}
	if cfg.DequeueThreshold <= 0 {
		errs = append(errs, fmt.Errorf("PIE dequeue threshold %d must be positive", cfg.DequeueThreshold))
	}
	if cfg.DelayReference <= 0.0 {
		errs = append(errs, fmt.Errorf("PIE delay reference %g must be positive", cfg.DelayReference))
	}
	if cfg.BurstAllowance && (cfg.MaxBurstAllowance < 0.0 || cfg.BurstResetTimeout < 0.0) {
		errs = append(errs, fmt.Errorf("PIE burst allowance %g and reset timeout %g cannot be negative",
			cfg.MaxBurstAllowance, cfg.BurstResetTimeout))
	}
	return wrapCfgErrs(errs)
}

// SPClassCfg are the parameters of a class of a strict priority scheduler.  Larger is more urgent
type SPClassCfg struct {
	Priority int `json:"priority" yaml:"priority"`
}

// DWRRClassCfg are the parameters of a class of a DWRR scheduler
type DWRRClassCfg struct {
	Priority int `json:"priority" yaml:"priority"`
	Quantum  int `json:"quantum" yaml:"quantum"` // bytes added to the deficit per round
}

// DefaultDWRRQuantum is one full-size ethernet frame
const DefaultDWRRQuantum int = 1500

func (cfg DWRRClassCfg) Validate() error {
	if cfg.Quantum <= 0 {
		return misconfigured("DWRR quantum %d must be positive", cfg.Quantum)
	}
	return nil
}

// WFQClassCfg are the parameters of a class of a WFQ scheduler
type WFQClassCfg struct {
	Priority int     `json:"priority" yaml:"priority"`
	Weight   float64 `json:"weight" yaml:"weight"`
}

func (cfg WFQClassCfg) Validate() error {
	if !(cfg.Weight > 0.0) {
		return misconfigured("WFQ weight %g must be positive", cfg.Weight)
	}
	return nil
}

// DelayClassCfg is the fixed latency of a class of the delay queue, in seconds
type DelayClassCfg struct {
	Delay float64 `json:"delay" yaml:"delay"`
}

func (cfg DelayClassCfg) Validate() error {
	if cfg.Delay < 0.0 {
		return misconfigured("class delay %g is negative", cfg.Delay)
	}
	return nil
}

func checkLimit(limit int) error {
	if limit < 0 {
		return fmt.Errorf("limit %d is negative", limit)
	}
	return nil
}

// wrapCfgErrs gathers validation errors under ErrMisconfigured
func wrapCfgErrs(errs []error) error {
	err := ReportErrs(errs)
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMisconfigured, err)
}

// FilterDesc describes one packet filter.  Type selects which of the other fields are read
//   - "dscp": DSCP maps codepoints to classes, empty means the codepoint is the class
//   - "port": Ports is tried in order, on the source port if BySrc
//   - "tag": the class carried by the packet, restricted to Allowed when not empty
//   - "const": every item goes to Class
type FilterDesc struct {
	Type    string        `json:"type" yaml:"type"`
	DSCP    map[uint8]int `json:"dscp,omitempty" yaml:"dscp,omitempty"`
	Ports   []PortRange   `json:"ports,omitempty" yaml:"ports,omitempty"`
	BySrc   bool          `json:"bysrc,omitempty" yaml:"bysrc,omitempty"`
	Allowed []int         `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Class   int           `json:"class,omitempty" yaml:"class,omitempty"`
}

// CreateFilter builds the filter a FilterDesc describes
func (fd *FilterDesc) CreateFilter() (PacketFilter, error) {
	switch strings.ToLower(fd.Type) {
	case "dscp":
		return &DSCPFilter{Classes: fd.DSCP}, nil
	case "port":
		if len(fd.Ports) == 0 {
			return nil, misconfigured("port filter without port ranges")
		}
		for _, pr := range fd.Ports {
			if pr.Low > pr.High {
				return nil, misconfigured("port range [%d,%d] is empty", pr.Low, pr.High)
			}
		}
		return &PortFilter{Ranges: fd.Ports, BySrc: fd.BySrc}, nil
	case "tag":
		return &TagFilter{Allowed: fd.Allowed}, nil
	case "const":
		return &ConstFilter{Class: fd.Class}, nil
	}
	return nil, misconfigured("unknown filter type %q", fd.Type)
}

// ClassDesc describes a class of a scheduler or of the delay queue.
// Which parameters are read depends on the type of the owning discipline
type ClassDesc struct {
	Class    int        `json:"class" yaml:"class"`
	Priority int        `json:"priority" yaml:"priority"`
	Quantum  int        `json:"quantum,omitempty" yaml:"quantum,omitempty"`
	Weight   float64    `json:"weight,omitempty" yaml:"weight,omitempty"`
	Delay    float64    `json:"delay,omitempty" yaml:"delay,omitempty"`
	Child    *QdiscDesc `json:"child,omitempty" yaml:"child,omitempty"`
}

// QdiscDesc describes a discipline, and through its classes the disciplines beneath it.
// Mode and Limit, when given, override those of the type-specific block
type QdiscDesc struct {
	Name     string       `json:"name" yaml:"name"`
	Type     string       `json:"type" yaml:"type"`
	Mode     string       `json:"mode,omitempty" yaml:"mode,omitempty"`
	Limit    int          `json:"limit,omitempty" yaml:"limit,omitempty"`
	TCN      *TCNCfg      `json:"tcn,omitempty" yaml:"tcn,omitempty"`
	ECNSharp *ECNSharpCfg `json:"ecnsharp,omitempty" yaml:"ecnsharp,omitempty"`
	PIE      *PIECfg      `json:"pie,omitempty" yaml:"pie,omitempty"`
	Filters  []FilterDesc `json:"filters,omitempty" yaml:"filters,omitempty"`
	Classes  []ClassDesc  `json:"classes,omitempty" yaml:"classes,omitempty"`
}

// CreateQdiscDesc is a constructor
func CreateQdiscDesc(name, qdType string) *QdiscDesc {
	return &QdiscDesc{Name: name, Type: strings.ToLower(qdType)}
}

// AddFilter appends a filter description
func (qd *QdiscDesc) AddFilter(fd FilterDesc) {
	qd.Filters = append(qd.Filters, fd)
}

// AddClass appends a class description
func (qd *QdiscDesc) AddClass(cd ClassDesc) {
	qd.Classes = append(qd.Classes, cd)
}

// modeAndLimit applies the overrides of the description to a mode and limit
func (qd *QdiscDesc) modeAndLimit(mode QueueMode, limit int) (QueueMode, int, error) {
	if len(qd.Mode) > 0 {
		m, err := queueModeFromStr(qd.Mode)
		if err != nil {
			return mode, limit, err
		}
		mode = m
	}
	if qd.Limit > 0 {
		limit = qd.Limit
	}
	return mode, limit, nil
}

// TCNCfg returns the TCN parameters of the description, defaults filling in for an absent block
func (qd *QdiscDesc) TCNCfg() (TCNCfg, error) {
	cfg := DefaultTCNCfg()
	if qd.TCN != nil {
		cfg = *qd.TCN
	}
	var err error
	cfg.Mode, cfg.Limit, err = qd.modeAndLimit(cfg.Mode, cfg.Limit)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ECNSharpCfg returns the ECN# parameters of the description
func (qd *QdiscDesc) ECNSharpCfg() (ECNSharpCfg, error) {
	cfg := DefaultECNSharpCfg()
	if qd.ECNSharp != nil {
		cfg = *qd.ECNSharp
	}
	var err error
	cfg.Mode, cfg.Limit, err = qd.modeAndLimit(cfg.Mode, cfg.Limit)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// PIECfg returns the PIE parameters of the description
func (qd *QdiscDesc) PIECfg() (PIECfg, error) {
	cfg := DefaultPIECfg()
	if qd.PIE != nil {
		cfg = *qd.PIE
	}
	var err error
	cfg.Mode, cfg.QueueLimit, err = qd.modeAndLimit(cfg.Mode, cfg.QueueLimit)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// A QdiscCfgDict holds QdiscDescs, in a map whose key is the name of the description.
// Used to keep a library of discipline trees in one file
type QdiscCfgDict struct {
	DictName string               `json:"dictname" yaml:"dictname"`
	Cfgs     map[string]QdiscDesc `json:"cfgs" yaml:"cfgs"`
}

// CreateQdiscCfgDict is a constructor. Saves the dictionary name, initializes the map
func CreateQdiscCfgDict(name string) *QdiscCfgDict {
	qcd := new(QdiscCfgDict)
	qcd.DictName = name
	qcd.Cfgs = make(map[string]QdiscDesc)
	return qcd
}

// AddQdiscDesc includes a QdiscDesc in the dictionary, returning an error
// if one with the same name is present and overwrite is false
func (qcd *QdiscCfgDict) AddQdiscDesc(qd *QdiscDesc, overwrite bool) error {
	if !overwrite {
		_, present := qcd.Cfgs[qd.Name]
		if present {
			return fmt.Errorf("attempt to overwrite QdiscDesc %s in QdiscCfgDict", qd.Name)
		}
	}
	qcd.Cfgs[qd.Name] = *qd
	return nil
}

// RecoverQdiscDesc returns a copy of the QdiscDesc with the given name, and whether it was found
func (qcd *QdiscCfgDict) RecoverQdiscDesc(name string) (*QdiscDesc, bool) {
	qd, present := qcd.Cfgs[name]
	if present {
		return &qd, true
	}
	return nil, false
}

// WriteToFile serializes the QdiscCfgDict to the named file.
// The extension of the file name selects json or yaml
func (qcd *QdiscCfgDict) WriteToFile(filename string) error {
	return writeDescFile(filename, qcd)
}

// ReadQdiscCfgDict deserializes a slice of bytes into a QdiscCfgDict.  If the slice
// is empty, the file whose name is given is read
func ReadQdiscCfgDict(filename string, useYAML bool, dict []byte) (*QdiscCfgDict, error) {
	example := QdiscCfgDict{}
	if err := readDescFile(filename, useYAML, dict, &example); err != nil {
		return nil, err
	}
	if example.Cfgs == nil {
		example.Cfgs = make(map[string]QdiscDesc)
	}
	return &example, nil
}

// FlowDesc describes a traffic source of an experiment
type FlowDesc struct {
	Name     string  `json:"name" yaml:"name"`
	Rate     float64 `json:"rate" yaml:"rate"`         // packets per second
	Arrivals string  `json:"arrivals" yaml:"arrivals"` // "const" or "exp"
	PktSize  int     `json:"pktsize" yaml:"pktsize"`
	ECN      string  `json:"ecn" yaml:"ecn"` // codepoint carried by the packets, e.g. "ECT1"
	DSCP     uint8   `json:"dscp" yaml:"dscp"`
	Class    int     `json:"class" yaml:"class"` // explicit class tag, -1 for none
	SrcPort  uint16  `json:"srcport" yaml:"srcport"`
	DstPort  uint16  `json:"dstport" yaml:"dstport"`
	Start    float64 `json:"start" yaml:"start"`
	Stop     float64 `json:"stop" yaml:"stop"` // zero runs to the end of the experiment
}

// Validate checks the parameters of the flow
func (fd *FlowDesc) Validate() error {
	errs := make([]error, 0)
	if !(fd.Rate > 0.0) {
		errs = append(errs, fmt.Errorf("flow %s rate %g must be positive", fd.Name, fd.Rate))
	}
	if fd.PktSize <= 0 {
		errs = append(errs, fmt.Errorf("flow %s packet size %d must be positive", fd.Name, fd.PktSize))
	}
	if _, err := ecnFromStr(fd.ECN); err != nil {
		errs = append(errs, fmt.Errorf("flow %s: %w", fd.Name, err))
	}
	if _, err := arrivalFromStr(fd.Arrivals); err != nil {
		errs = append(errs, fmt.Errorf("flow %s: %w", fd.Name, err))
	}
	if fd.Stop > 0.0 && fd.Stop < fd.Start {
		errs = append(errs, fmt.Errorf("flow %s stops at %g before it starts at %g", fd.Name, fd.Stop, fd.Start))
	}
	return wrapCfgErrs(errs)
}

// ExpCfg describes a simulation experiment: one egress port, the discipline tree
// behind it, and the flows offered to it
type ExpCfg struct {
	Name          string     `json:"name" yaml:"name"`
	Bandwidth     float64    `json:"bandwidth" yaml:"bandwidth"` // link rate, bits per second
	Duration      float64    `json:"duration" yaml:"duration"`   // seconds of simulation time
	QdiscDict     string     `json:"qdiscdict" yaml:"qdiscdict"` // file holding a QdiscCfgDict
	Qdisc         string     `json:"qdisc" yaml:"qdisc"`         // name of the description in the dict
	MonitorPeriod float64    `json:"monitorperiod" yaml:"monitorperiod"`
	TraceFile     string     `json:"tracefile,omitempty" yaml:"tracefile,omitempty"`
	Flows         []FlowDesc `json:"flows" yaml:"flows"`
}

// CreateExpCfg is a constructor
func CreateExpCfg(name string) *ExpCfg {
	return &ExpCfg{Name: name, Flows: make([]FlowDesc, 0)}
}

// AddFlow appends a flow description
func (expCfg *ExpCfg) AddFlow(fd FlowDesc) {
	expCfg.Flows = append(expCfg.Flows, fd)
}

// Validate checks the experiment and all of its flows
func (expCfg *ExpCfg) Validate() error {
	errs := make([]error, 0)
	if !(expCfg.Bandwidth > 0.0) {
		errs = append(errs, fmt.Errorf("bandwidth %g must be positive", expCfg.Bandwidth))
	}
	if !(expCfg.Duration > 0.0) {
		errs = append(errs, fmt.Errorf("duration %g must be positive", expCfg.Duration))
	}
	if len(expCfg.Qdisc) == 0 {
		errs = append(errs, fmt.Errorf("experiment %s names no queue discipline", expCfg.Name))
	}
	if expCfg.MonitorPeriod < 0.0 {
		errs = append(errs, fmt.Errorf("monitor period %g is negative", expCfg.MonitorPeriod))
	}
	for idx := range expCfg.Flows {
		errs = append(errs, expCfg.Flows[idx].Validate())
	}
	return wrapCfgErrs(errs)
}

// WriteToFile serializes the ExpCfg to the named file, json or yaml by extension
func (expCfg *ExpCfg) WriteToFile(filename string) error {
	return writeDescFile(filename, expCfg)
}

// ReadExpCfg deserializes a slice of bytes into an ExpCfg, reading the named file
// if the slice is empty
func ReadExpCfg(filename string, useYAML bool, dict []byte) (*ExpCfg, error) {
	example := ExpCfg{}
	if err := readDescFile(filename, useYAML, dict, &example); err != nil {
		return nil, err
	}
	return &example, nil
}

// UseYAML reports whether a file name has a yaml extension
func UseYAML(filename string) bool {
	pathExt := path.Ext(filename)
	return pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml"
}

// writeDescFile serializes desc to the named file, as yaml or json depending on the extension
func writeDescFile(filename string, desc any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if UseYAML(filename) {
		bytes, merr = yaml.Marshal(desc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(desc, "", "\t")
	} else {
		return fmt.Errorf("file %s has neither a yaml nor a json extension", filename)
	}
	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0644)
}

// readDescFile deserializes dict into desc.  If dict is empty the named file is read to acquire it
func readDescFile(filename string, useYAML bool, dict []byte, desc any) error {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, serr := os.Stat(filename)
		if os.IsNotExist(serr) || (serr == nil && fileInfo.IsDir()) {
			return fmt.Errorf("description file %s does not exist or cannot be read", filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return err
		}
	}

	if useYAML {
		err = yaml.Unmarshal(dict, desc)
	} else {
		err = json.Unmarshal(dict, desc)
	}
	return err
}
