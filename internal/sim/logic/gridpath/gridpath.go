// Package gridpath is a small deterministic occupancy-grid router.
package gridpath

import (
	"math"

	"palbridge.ai/internal/sim/geom"
)

type Cell struct {
	X int
	Y int
}

// Fixed neighbour order keeps routes stable between runs.
var dirs = []Cell{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}}

// ShortestPath runs a breadth-first search from start to goal and returns the
// cell sequence including both ends. The start cell is always admitted so a
// robot standing inside an inflated obstacle can still leave it.
func ShortestPath(start, goal Cell, maxNodes int, inBounds func(Cell) bool, isBlocked func(Cell) bool) ([]Cell, bool) {
	if !inBounds(goal) || isBlocked(goal) {
		return nil, false
	}
	if start == goal {
		return []Cell{start}, true
	}
	prev := make(map[Cell]Cell, 256)
	prev[start] = start
	queue := make([]Cell, 0, 256)
	queue = append(queue, start)

	for head := 0; head < len(queue); head++ {
		if maxNodes > 0 && head >= maxNodes {
			return nil, false
		}
		cur := queue[head]
		for _, d := range dirs {
			np := Cell{X: cur.X + d.X, Y: cur.Y + d.Y}
			if _, seen := prev[np]; seen {
				continue
			}
			if !inBounds(np) || isBlocked(np) {
				continue
			}
			prev[np] = cur
			if np == goal {
				return unwind(prev, start, goal), true
			}
			queue = append(queue, np)
		}
	}
	return nil, false
}

func unwind(prev map[Cell]Cell, start, goal Cell) []Cell {
	var rev []Cell
	for c := goal; c != start; c = prev[c] {
		rev = append(rev, c)
	}
	rev = append(rev, start)
	out := make([]Cell, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

// Grid rasterises obstacle footprints over a rectangular floor area.
type Grid struct {
	min     geom.Vec2
	res     float64
	w, h    int
	blocked []bool
}

func NewGrid(min, max geom.Vec2, res float64) *Grid {
	w := int(math.Ceil((max.X-min.X)/res)) + 1
	h := int(math.Ceil((max.Y-min.Y)/res)) + 1
	return &Grid{min: min, res: res, w: w, h: h, blocked: make([]bool, w*h)}
}

func (g *Grid) InBounds(c Cell) bool { return c.X >= 0 && c.Y >= 0 && c.X < g.w && c.Y < g.h }

func (g *Grid) Blocked(c Cell) bool { return g.InBounds(c) && g.blocked[c.Y*g.w+c.X] }

func (g *Grid) CellOf(p geom.Vec2) Cell {
	return Cell{
		X: int(math.Round((p.X - g.min.X) / g.res)),
		Y: int(math.Round((p.Y - g.min.Y) / g.res)),
	}
}

func (g *Grid) Center(c Cell) geom.Vec2 {
	return geom.Vec2{X: g.min.X + float64(c.X)*g.res, Y: g.min.Y + float64(c.Y)*g.res}
}

// Block marks every cell whose centre falls inside box grown by inflate.
func (g *Grid) Block(box geom.AABB, inflate float64) {
	lo := g.CellOf(geom.Vec2{X: box.Min.X - inflate, Y: box.Min.Y - inflate})
	hi := g.CellOf(geom.Vec2{X: box.Max.X + inflate, Y: box.Max.Y + inflate})
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			c := Cell{X: x, Y: y}
			if !g.InBounds(c) {
				continue
			}
			p := g.Center(c)
			if p.X >= box.Min.X-inflate && p.X <= box.Max.X+inflate &&
				p.Y >= box.Min.Y-inflate && p.Y <= box.Max.Y+inflate {
				g.blocked[y*g.w+x] = true
			}
		}
	}
}

// Route returns waypoints from src to dst: src, the corners of the cell
// path, then dst exactly.
func (g *Grid) Route(src, dst geom.Vec2) ([]geom.Vec2, bool) {
	cells, ok := ShortestPath(g.CellOf(src), g.CellOf(dst), g.w*g.h, g.InBounds, g.Blocked)
	if !ok {
		return nil, false
	}
	out := []geom.Vec2{src}
	for i := 1; i < len(cells)-1; i++ {
		a, b, c := cells[i-1], cells[i], cells[i+1]
		if (b.X-a.X) != (c.X-b.X) || (b.Y-a.Y) != (c.Y-b.Y) {
			out = append(out, g.Center(b))
		}
	}
	return append(out, dst), true
}
