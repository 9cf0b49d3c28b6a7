package main

// qdsim runs a queue discipline tree behind a simulated egress port, offers
// it the flows of an experiment, and reports what each discipline did

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/iti/evt/evtm"
	"github.com/iti/qdisc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	logLevel   string
	expFile    string
	resultFile string
	showProm   bool
)

var rootCmd = &cobra.Command{
	Use:   "qdsim",
	Short: "Egress port queue discipline simulator",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetHandler(cli.Default)
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the experiment described by --exp",
	Args:  cobra.NoArgs,
	RunE:  run,
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the queue discipline types",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range qdisc.RegisteredQdiscs() {
			fmt.Println(name)
		}
	},
}

var exampleCmd = &cobra.Command{
	Use:   "example DIR",
	Short: "Write an example experiment and queue disc dictionary to DIR",
	Args:  cobra.ExactArgs(1),
	RunE:  writeExample,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error or fatal")
	runCmd.Flags().StringVar(&expFile, "exp", "", "experiment description (.yaml or .json)")
	runCmd.Flags().StringVar(&resultFile, "out", "", "file to write the results to (.yaml or .json)")
	runCmd.Flags().BoolVar(&showProm, "prom", false, "print the final counters in Prometheus text format")
	_ = runCmd.MarkFlagRequired("exp")
	rootCmd.AddCommand(runCmd, typesCmd, exampleCmd)
}

func run(cmd *cobra.Command, args []string) error {
	expCfg, err := qdisc.ReadExpCfg(expFile, qdisc.UseYAML(expFile), nil)
	if err != nil {
		return err
	}

	// the dictionary is found relative to the experiment file
	dictFile := expCfg.QdiscDict
	if !filepath.IsAbs(dictFile) {
		dictFile = filepath.Join(filepath.Dir(expFile), dictFile)
	}
	dict, err := qdisc.ReadQdiscCfgDict(dictFile, qdisc.UseYAML(dictFile), nil)
	if err != nil {
		return err
	}
	desc, present := dict.RecoverQdiscDesc(expCfg.Qdisc)
	if !present {
		return fmt.Errorf("queue disc %s is not in dictionary %s", expCfg.Qdisc, dictFile)
	}

	evtMgr := evtm.New()
	sched := qdisc.CreateEvtmScheduler(evtMgr)
	env := &qdisc.BuildEnv{Logger: log.Log}
	env.DropHdlr = func(qdName string, item qdisc.QueueItem, reason error) {
		log.WithFields(log.Fields{"qdisc": qdName, "size": item.Size()}).WithError(reason).Debug("dropped")
	}

	exp, err := qdisc.BuildExperiment(expCfg, desc, sched, env)
	if err != nil {
		return err
	}
	if err := exp.Start(); err != nil {
		return err
	}
	log.WithFields(log.Fields{"exp": expCfg.Name, "qdisc": desc.Name, "duration": expCfg.Duration}).Info("running")
	evtMgr.Run(expCfg.Duration)
	exp.Stop()

	result := exp.Results()
	out, err := yaml.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Print(string(out))

	if len(resultFile) > 0 {
		if err := result.WriteToFile(resultFile); err != nil {
			return err
		}
	}
	if len(expCfg.TraceFile) > 0 {
		if _, err := exp.TraceMgr.WriteToFile(expCfg.TraceFile); err != nil {
			return err
		}
	}
	if showProm {
		return printMetrics(exp.Root)
	}
	return nil
}

// printMetrics writes the counters of the tree to stdout in the Prometheus exposition format
func printMetrics(root qdisc.QueueDisc) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(qdisc.NewStatsCollector(root))
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return err
		}
	}
	return nil
}

// writeExample writes a DWRR tree of TCN leaves fed by two flows
func writeExample(cmd *cobra.Command, args []string) error {
	dir := args[0]
	dict := qdisc.CreateQdiscCfgDict("example")

	root := qdisc.CreateQdiscDesc("dwrr0", qdisc.DWRRType)
	root.AddFilter(qdisc.FilterDesc{Type: "dscp"})
	for class, quantum := range []int{3000, 1500} {
		leaf := qdisc.CreateQdiscDesc(fmt.Sprintf("tcn%d", class), qdisc.TCNType)
		tcnCfg := qdisc.DefaultTCNCfg()
		leaf.TCN = &tcnCfg
		root.AddClass(qdisc.ClassDesc{Class: class, Quantum: quantum, Child: leaf})
	}
	if err := dict.AddQdiscDesc(root, false); err != nil {
		return err
	}
	dictFile := filepath.Join(dir, "qdiscs.yaml")
	if err := dict.WriteToFile(dictFile); err != nil {
		return err
	}

	expCfg := qdisc.CreateExpCfg("example")
	expCfg.Bandwidth = 10e9
	expCfg.Duration = 0.01
	expCfg.QdiscDict = "qdiscs.yaml"
	expCfg.Qdisc = root.Name
	expCfg.MonitorPeriod = 1e-4
	for dscp := uint8(0); dscp < 2; dscp++ {
		expCfg.AddFlow(qdisc.FlowDesc{Name: fmt.Sprintf("flow%d", dscp), Rate: 500000.0, Arrivals: "exp",
			PktSize: 1500, ECN: "ECT1", DSCP: dscp, Class: -1})
	}
	expPath := filepath.Join(dir, "exp.yaml")
	if err := expCfg.WriteToFile(expPath); err != nil {
		return err
	}
	log.WithFields(log.Fields{"exp": expPath, "dict": dictFile}).Info("example written")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("qdsim")
	}
}
