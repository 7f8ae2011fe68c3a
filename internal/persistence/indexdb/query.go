package indexdb

import (
	"context"
	"database/sql"
)

// PrimitiveSummary aggregates the outcomes of one primitive id.
type PrimitiveSummary struct {
	Primitive string `json:"primitive"`
	Calls     int    `json:"calls"`
	OK        int    `json:"ok"`
	Ticks     int64  `json:"ticks"`
	// Codes counts failures by error code; plain false results count under "".
	Codes map[string]int `json:"codes,omitempty"`
}

type RunSummary struct {
	RunID     string `json:"run_id"`
	TaskID    string `json:"task_id"`
	FirstSeen string `json:"first_seen"`
	Calls     int    `json:"calls"`
	Failed    int    `json:"failed"`
	Steps     int64  `json:"steps"`
}

// Summary groups outcomes by primitive, for one run or all runs when runID
// is empty.
func (s *SQLiteIndex) Summary(ctx context.Context, runID string) ([]PrimitiveSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT primitive, ok, COALESCE(code,''), COUNT(*), SUM(ticks)
		FROM outcomes
		WHERE ?1 = '' OR run_id = ?1
		GROUP BY primitive, ok, code
		ORDER BY primitive, ok DESC, code`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PrimitiveSummary
	idx := map[string]int{}
	for rows.Next() {
		var (
			prim, code string
			ok         bool
			n          int
			ticks      sql.NullInt64
		)
		if err := rows.Scan(&prim, &ok, &code, &n, &ticks); err != nil {
			return nil, err
		}
		i, seen := idx[prim]
		if !seen {
			i = len(out)
			idx[prim] = i
			out = append(out, PrimitiveSummary{Primitive: prim})
		}
		ps := &out[i]
		ps.Calls += n
		ps.Ticks += ticks.Int64
		if ok {
			ps.OK += n
			continue
		}
		if ps.Codes == nil {
			ps.Codes = map[string]int{}
		}
		ps.Codes[code] += n
	}
	return out, rows.Err()
}

// Runs lists every run in the ledger, newest first.
func (s *SQLiteIndex) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.task_id, r.first_seen,
		       COUNT(o.seq), COALESCE(SUM(1 - o.ok), 0), COALESCE(MAX(o.total_steps), 0)
		FROM runs r LEFT JOIN outcomes o ON o.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.first_seen DESC, r.run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.FirstSeen, &r.Calls, &r.Failed, &r.Steps); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
