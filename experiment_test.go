package qdisc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoClassTree is a DWRR root, classifying on the DSCP, over two TCN leaves
func twoClassTree(leaf0, leaf1 string) *QdiscDesc {
	root := CreateQdiscDesc("root", DWRRType)
	root.AddFilter(FilterDesc{Type: "dscp"})
	root.AddClass(ClassDesc{Class: 0, Quantum: 1500, Child: CreateQdiscDesc(leaf0, TCNType)})
	root.AddClass(ClassDesc{Class: 1, Quantum: 1500, Child: CreateQdiscDesc(leaf1, TCNType)})
	return root
}

func twoFlowExp(t *testing.T) *ExpCfg {
	expCfg := CreateExpCfg("exp")
	expCfg.Bandwidth = 8e6
	expCfg.Duration = 0.099
	expCfg.Qdisc = "root"
	expCfg.MonitorPeriod = 0.01
	expCfg.TraceFile = filepath.Join(t.TempDir(), "trace.yaml")
	for dscp := uint8(0); dscp < 2; dscp++ {
		expCfg.AddFlow(FlowDesc{Name: "flow" + string(rune('0'+dscp)), Rate: 400, Arrivals: "const",
			PktSize: 1000, ECN: "ECT1", DSCP: dscp, Class: -1})
	}
	return expCfg
}

func TestExperimentRuns(t *testing.T) {
	cal := newTestCalendar()
	expCfg := twoFlowExp(t)

	exp, err := BuildExperiment(expCfg, twoClassTree("leaf0", "leaf1"), cal, nil)
	require.NoError(t, err)
	require.Len(t, exp.Sources, 2)
	require.NotNil(t, exp.Monitor)
	require.NoError(t, exp.Start())

	cal.runUntil(expCfg.Duration)
	exp.Stop()
	assert.Equal(t, 0, cal.nPending())

	er := exp.Results()
	assert.Equal(t, "exp", er.Name)
	require.Len(t, er.Flows, 2)

	received := 0
	for _, fr := range er.Flows {
		// a packet every 2.5ms for 99ms
		assert.Equal(t, 40, fr.Sent)
		assert.Equal(t, fr.Sent, fr.Accepted)
		assert.LessOrEqual(t, fr.Received, fr.Accepted)
		assert.GreaterOrEqual(t, fr.Received, 38)
		received += fr.Received
	}
	assert.Equal(t, er.Delivered, received)
	assert.Equal(t, 1000*er.Delivered, er.DeliveredBytes)
	// offered load is 80% of the link
	assert.InDelta(t, 0.8, er.Utilization, 0.05)

	assert.Equal(t, 80, er.Stats["root"].Enqueued)
	assert.Equal(t, 40, er.Stats["leaf0"].Enqueued)
	assert.Equal(t, 40, er.Stats["leaf1"].Enqueued)
	assert.Equal(t, 10, er.Monitor.Samples)

	assert.Equal(t, []string{"leaf0", "leaf1", "root"}, exp.TraceMgr.QdiscNames())
	written, err := exp.TraceMgr.WriteToFile(expCfg.TraceFile)
	require.NoError(t, err)
	assert.True(t, written)

	out := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, er.WriteToFile(out))
	assert.FileExists(t, out)
}

func TestExperimentRejectsDuplicateNames(t *testing.T) {
	_, err := BuildExperiment(twoFlowExp(t), twoClassTree("leaf", "leaf"), newTestCalendar(), nil)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestExperimentStartFailure(t *testing.T) {
	desc := CreateQdiscDesc("root", SPType)
	exp, err := BuildExperiment(twoFlowExp(t), desc, newTestCalendar(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, exp.Start(), ErrMisconfigured, "a scheduler without classes does not start")

	expCfg := twoFlowExp(t)
	expCfg.Bandwidth = 0.0
	_, err = BuildExperiment(expCfg, twoClassTree("a", "b"), newTestCalendar(), nil)
	assert.Error(t, err)
}
