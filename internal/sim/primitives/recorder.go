package primitives

import (
	"time"

	"palbridge.ai/internal/sim/execctx"
	"palbridge.ai/internal/sim/primerr"
)

// Outcome is the record of one finished primitive call.
type Outcome struct {
	RunID      string        `json:"run_id"`
	TaskID     string        `json:"task_id"`
	Seq        int           `json:"seq"`
	Primitive  string        `json:"primitive"`
	Object     string        `json:"object,omitempty"`
	Target     string        `json:"target,omitempty"`
	OK         bool          `json:"ok"`
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	Ticks      int           `json:"ticks"`
	TotalSteps uint64        `json:"total_steps"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration_ns"`
}

// Recorder receives every outcome. Record must not block the caller for long;
// errors are logged and otherwise ignored.
type Recorder interface {
	Record(o Outcome) error
}

// Recorders fans one outcome out to several sinks.
type Recorders []Recorder

func (rs Recorders) Record(o Outcome) error {
	var first error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.Record(o); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (b *Bridge) record(st *execctx.Context, c execctx.Call, ok bool, err error, start time.Time) {
	if b.recorder == nil {
		return
	}
	o := Outcome{
		RunID:      st.RunID,
		TaskID:     st.TaskID,
		Seq:        c.Seq,
		Primitive:  c.Primitive,
		Object:     c.Object,
		Target:     c.Target,
		OK:         ok && err == nil,
		Code:       primerr.Code(err),
		Ticks:      b.runner.Used(),
		TotalSteps: st.TotalSteps,
		Started:    start,
		Duration:   b.now().Sub(start),
	}
	if err != nil {
		o.Message = err.Error()
	}
	if rerr := b.recorder.Record(o); rerr != nil {
		b.logger.Printf("record %s #%d: %v", c.Primitive, c.Seq, rerr)
	}
}
