package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"palbridge.ai/internal/observability/metrics"
	"palbridge.ai/internal/persistence/indexdb"
	tracelog "palbridge.ai/internal/persistence/log"
	"palbridge.ai/internal/sim/engine"
	"palbridge.ai/internal/sim/memsim"
	"palbridge.ai/internal/sim/primconfig"
	"palbridge.ai/internal/sim/primerr"
	"palbridge.ai/internal/sim/primid"
	"palbridge.ai/internal/sim/primitives"
	"palbridge.ai/internal/transport/simclient"
)

// plan is a linear primitive sequence. Every key of a step other than
// "primitive" is a primitive parameter (obj, target, dest).
type plan struct {
	Task     string `yaml:"task"`
	Category string `yaml:"category"`
	Seed     int64  `yaml:"seed"`
	Steps    []step `yaml:"steps"`
}

type step struct {
	Primitive string         `yaml:"primitive"`
	Params    map[string]any `yaml:",inline"`
}

func loadPlan(path string) (plan, error) {
	var p plan
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("plan %s: %w", path, err)
	}
	if len(p.Steps) == 0 {
		return p, fmt.Errorf("plan %s: no steps", path)
	}
	for i, s := range p.Steps {
		if s.Primitive == "" {
			return p, fmt.Errorf("plan %s: step %d: missing primitive", path, i+1)
		}
	}
	return p, nil
}

type runFlags struct {
	task        string
	category    string
	seed        int64
	keepGoing   bool
	diagnose    bool
	metricsFile string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a primitive plan",
		Long: `Executes each step of a plan file in order and prints one line per
primitive. The run stops at the first failed step unless --keep-going is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			p, err := loadPlan(args[0])
			if err != nil {
				return err
			}
			if f.task != "" {
				p.Task = f.task
			}
			if f.category != "" {
				p.Category = f.category
			}
			if cmd.Flags().Changed("seed") {
				p.Seed = f.seed
			}
			return runPlan(cmd.Context(), cmd.OutOrStdout(), s, p, f, s.logger(cmd))
		},
	}
	cmd.Flags().StringVar(&f.task, "task", "", "task id (overrides the plan)")
	cmd.Flags().StringVar(&f.category, "category", "", "task category (overrides the plan)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "run seed (overrides the plan)")
	cmd.Flags().BoolVar(&f.keepGoing, "keep-going", false, "continue after a failed step")
	cmd.Flags().BoolVar(&f.diagnose, "diagnose", false, "report placed-object drift after the run")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus text exposition here after the run")
	return cmd
}

// stepPrinter is the table sink for outcomes.
type stepPrinter struct{ tw *tabwriter.Writer }

func (sp stepPrinter) Record(o primitives.Outcome) error {
	status := "ok"
	switch {
	case o.Code != "":
		status = o.Code
	case !o.OK:
		status = "false"
	}
	_, err := fmt.Fprintf(sp.tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
		o.Seq, o.Primitive, o.Object, status, o.Ticks, o.TotalSteps, o.Duration.Round(time.Microsecond))
	return err
}

func runPlan(ctx context.Context, out io.Writer, s settings, p plan, f runFlags, logger *log.Logger) error {
	configs, err := primconfig.Load(s.ConfigDir)
	if err != nil {
		return fmt.Errorf("load primitive config: %w", err)
	}

	var (
		eng   engine.Engine
		paths engine.Pathfinder
	)
	if s.SimURL != "" {
		c, err := simclient.Dial(ctx, s.SimURL, "palctl", p.Task, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		eng, paths = c, c
		if !c.Scene().HasPaths {
			paths = nil
		}
	} else {
		spec, err := memsim.LoadScene(s.Scene)
		if err != nil {
			return err
		}
		sim := memsim.New(spec)
		eng, paths = sim, sim
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tPRIMITIVE\tOBJECT\tRESULT\tTICKS\tTOTAL\tTOOK")
	recs := primitives.Recorders{stepPrinter{tw: tw}}

	reg := prometheus.NewRegistry()
	col := metrics.NewCollector()
	if err := col.Register(reg); err != nil {
		return err
	}
	recs = append(recs, col)

	if s.TraceDir != "" {
		tl := tracelog.NewTraceLogger(s.TraceDir)
		defer func() {
			path, n := tl.Segment()
			if err := tl.Close(); err != nil {
				logger.Printf("trace close: %v", err)
			} else if n > 0 {
				logger.Printf("trace: %d outcomes in %s", n, path)
			}
		}()
		recs = append(recs, tl)
	}
	if s.Ledger != "" {
		ledger, err := indexdb.OpenSQLite(s.Ledger)
		if err != nil {
			return err
		}
		defer ledger.Close()
		defer func() {
			if err := ledger.Flush(context.Background()); err != nil {
				logger.Printf("ledger flush: %v", err)
			}
		}()
		recs = append(recs, ledger)
	}

	b := primitives.New(eng, primitives.Options{
		Configs:  configs,
		Paths:    paths,
		Recorder: recs,
		Logger:   logger,
	})
	st, err := b.BeginRun(ctx, p.Task, p.Category, p.Seed)
	if err != nil {
		return err
	}

	var failed []int
	for i, stp := range p.Steps {
		params, err := primitives.DecodeParams(stp.Params)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		ok, err := b.Execute(ctx, st, primid.Parse(stp.Primitive), params)
		if err != nil && !errors.Is(err, primerr.ErrPreconditionFailed) && !errors.Is(err, primerr.ErrSamplingExhausted) {
			// Request errors never reach the recorders.
			tw.Flush()
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if ok && err == nil {
			continue
		}
		failed = append(failed, i+1)
		if !f.keepGoing {
			break
		}
	}
	tw.Flush()
	fmt.Fprintf(out, "run %s task=%s: %d steps, %d failed, %d simulator steps\n",
		st.RunID, p.Task, len(p.Steps), len(failed), st.TotalSteps)

	if f.diagnose {
		drift, err := b.Diagnostics(st)
		if err != nil {
			return err
		}
		for _, d := range drift {
			fmt.Fprintf(out, "%-8s %-24s %.3f\n", d.Status, d.Name, d.Distance)
		}
	}
	if f.metricsFile != "" {
		if err := prometheus.WriteToTextfile(f.metricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed steps: %v", failed)
	}
	return nil
}
