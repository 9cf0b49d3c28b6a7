package qdisc

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// exampleTree is a DWRR root over a TCN leaf and a PIE leaf
func exampleTree() *QdiscDesc {
	root := CreateQdiscDesc("root", DWRRType)
	root.AddFilter(FilterDesc{Type: "dscp", DSCP: map[uint8]int{0: 0, 46: 1}})
	root.AddFilter(FilterDesc{Type: "const", Class: 0})

	tcn := CreateQdiscDesc("bulk", TCNType)
	tcn.Mode = "bytes"
	tcn.Limit = 150000
	tcn.TCN = &TCNCfg{Threshold: 20e-6}

	pie := CreateQdiscDesc("voice", PIEType)
	pieCfg := DefaultPIECfg()
	pieCfg.BurstAllowance = true
	pie.PIE = &pieCfg

	root.AddClass(ClassDesc{Class: 0, Priority: 0, Quantum: 3000, Child: tcn})
	root.AddClass(ClassDesc{Class: 1, Priority: 1, Quantum: 1500, Child: pie})
	return root
}

func TestQdiscCfgDictRoundTrip(t *testing.T) {
	dict := CreateQdiscCfgDict("library")
	require.NoError(t, dict.AddQdiscDesc(exampleTree(), false))
	assert.Error(t, dict.AddQdiscDesc(exampleTree(), false))
	require.NoError(t, dict.AddQdiscDesc(exampleTree(), true))

	for _, name := range []string{"dict.yaml", "dict.json"} {
		t.Run(name, func(t *testing.T) {
			filename := filepath.Join(t.TempDir(), name)
			require.NoError(t, dict.WriteToFile(filename))

			read, err := ReadQdiscCfgDict(filename, UseYAML(filename), nil)
			require.NoError(t, err)
			assert.Equal(t, "library", read.DictName)

			root, present := read.RecoverQdiscDesc("root")
			require.True(t, present)
			assert.Equal(t, exampleTree(), root)

			tcnCfg, err := root.Classes[0].Child.TCNCfg()
			require.NoError(t, err)
			assert.Equal(t, ByteMode, tcnCfg.Mode)
			assert.Equal(t, 150000, tcnCfg.Limit)
			assert.Equal(t, 20e-6, tcnCfg.Threshold)
		})
	}

	_, present := dict.RecoverQdiscDesc("missing")
	assert.False(t, present)
}

func TestWriteRejectsUnknownExtension(t *testing.T) {
	dict := CreateQdiscCfgDict("library")
	assert.Error(t, dict.WriteToFile(filepath.Join(t.TempDir(), "dict.txt")))

	_, err := ReadQdiscCfgDict(filepath.Join(t.TempDir(), "absent.yaml"), true, nil)
	assert.Error(t, err)
}

func TestQueueModeText(t *testing.T) {
	out, err := yaml.Marshal(TCNCfg{Mode: ByteMode, Limit: 10, Threshold: 1e-5})
	require.NoError(t, err)
	assert.Contains(t, string(out), "mode: bytes")

	var cfg TCNCfg
	require.NoError(t, json.Unmarshal([]byte(`{"mode": "QUEUE_MODE_BYTES", "limit": 5}`), &cfg))
	assert.Equal(t, ByteMode, cfg.Mode)

	assert.Error(t, json.Unmarshal([]byte(`{"mode": "frames"}`), &cfg))
}

func TestDescDefaultsAndOverrides(t *testing.T) {
	qd := CreateQdiscDesc("leaf", "ECNSHARP")
	assert.Equal(t, ECNSharpType, qd.Type)

	cfg, err := qd.ECNSharpCfg()
	require.NoError(t, err)
	assert.Equal(t, DefaultECNSharpCfg(), cfg)

	qd.Limit = 7
	cfg, err = qd.ECNSharpCfg()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Limit)

	qd.Mode = "frames"
	_, err = qd.ECNSharpCfg()
	assert.ErrorIs(t, err, ErrMisconfigured)

	pie := CreateQdiscDesc("pie", PIEType)
	pie.PIE = &PIECfg{}
	_, err = pie.PIECfg()
	assert.ErrorIs(t, err, ErrMisconfigured, "a zeroed block is not filled with defaults")
}

func TestCreateFilter(t *testing.T) {
	filter, err := (&FilterDesc{Type: "PORT", Ports: []PortRange{{Low: 10, High: 20, Class: 1}}}).CreateFilter()
	require.NoError(t, err)
	assert.IsType(t, &PortFilter{}, filter)

	_, err = (&FilterDesc{Type: "port"}).CreateFilter()
	assert.ErrorIs(t, err, ErrMisconfigured)
	_, err = (&FilterDesc{Type: "port", Ports: []PortRange{{Low: 20, High: 10}}}).CreateFilter()
	assert.ErrorIs(t, err, ErrMisconfigured)
	_, err = (&FilterDesc{Type: "regex"}).CreateFilter()
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestExpCfg(t *testing.T) {
	expCfg := CreateExpCfg("exp")
	expCfg.Bandwidth = 1e9
	expCfg.Duration = 0.1
	expCfg.Qdisc = "root"
	expCfg.QdiscDict = "dict.yaml"
	expCfg.AddFlow(FlowDesc{Name: "f0", Rate: 1000, Arrivals: "exp", PktSize: 1500, ECN: "ECT1", Class: -1})
	require.NoError(t, expCfg.Validate())

	filename := filepath.Join(t.TempDir(), "exp.json")
	require.NoError(t, expCfg.WriteToFile(filename))
	read, err := ReadExpCfg(filename, false, nil)
	require.NoError(t, err)
	assert.Equal(t, expCfg, read)

	expCfg.Bandwidth = 0
	expCfg.AddFlow(FlowDesc{Name: "f1", Rate: -1, Arrivals: "poisson", PktSize: 0, ECN: "ECT2", Start: 2, Stop: 1})
	err = expCfg.Validate()
	require.ErrorIs(t, err, ErrMisconfigured)
	for _, msg := range []string{"bandwidth", "rate", "packet size", "ECN", "poisson", "stops at"} {
		assert.Contains(t, err.Error(), msg)
	}
	assert.ErrorIs(t, expCfg.Flows[1].Validate(), ErrMisconfigured)
}
