package pong

import (
	"fmt"
	"strings"
)

// Visual characters for rendering
const (
	PaddleChar = '█'
	BallChar   = '●'
	NetChar    = '│'
)

// grid is a fixed-size rune buffer, cleared to spaces.
type grid struct {
	w, h  int
	cells []rune
}

func newGrid(w, h int) *grid {
	g := &grid{w: w, h: h, cells: make([]rune, w*h)}
	for i := range g.cells {
		g.cells[i] = ' '
	}
	return g
}

// set ignores out-of-bounds coordinates.
func (g *grid) set(x, y int, r rune) {
	if x < 0 || x >= g.w || y < 0 || y >= g.h {
		return
	}
	g.cells[y*g.w+x] = r
}

func (g *grid) text(x, y int, s string) {
	for i, r := range []rune(s) {
		g.set(x+i, y, r)
	}
}

func (g *grid) centered(y int, s string) {
	g.text((g.w-len([]rune(s)))/2, y, s)
}

func (g *grid) String() string {
	var b strings.Builder
	b.Grow(len(g.cells) * 2)
	for y := range g.h {
		if y > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(g.cells[y*g.w : (y+1)*g.w]))
	}
	return b.String()
}

// Render draws s as text, one line per row of the field.
func (g Game) Render(s State) string {
	w, h := int(g.cfg.Width), int(g.cfg.Height)
	dst := newGrid(w, h)

	center := w / 2
	for y := 1; y < h-1; y += 2 {
		dst.set(center, y, NetChar)
	}

	xs := [2]int{int(g.cfg.PaddleOffset), w - int(g.cfg.PaddleOffset) - 1}
	for p, x := range xs {
		top := int(s.Paddle[p] / Scale)
		for i := range int(g.cfg.PaddleHeight) {
			dst.set(x, top+i, PaddleChar)
		}
	}

	// blink while waiting to serve
	if s.Serve == 0 || (s.Serve/10)%2 == 0 {
		dst.set(int(s.BallX/Scale), int(s.BallY/Scale), BallChar)
	}

	dst.text(1, 0, "P1")
	dst.text(w-3, 0, "P2")
	dst.text(center-5, 0, fmt.Sprintf("%d", s.Score[0]))
	dst.text(center+4, 0, fmt.Sprintf("%d", s.Score[1]))

	if s.Over() {
		dst.centered(h/2-1, fmt.Sprintf(" P%d WINS ", s.Winner))
		dst.centered(h/2, fmt.Sprintf(" %d - %d ", s.Score[0], s.Score[1]))
	}
	return dst.String()
}
