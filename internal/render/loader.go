package render

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Loader geometry in the 500-unit design space.
const (
	designSize       = 500.0
	hubRadius        = 40.0
	hubGap           = 5.0
	horizontalLength = 180.0
	longRayLength    = 110.0
	shortRayLength   = longRayLength * 0.75
	RayCount         = 19
	firstRayAngle    = 15.0
	lastRayAngle     = 270.0

	// DefaultLoaderInterval is the time between highlighted rays.
	DefaultLoaderInterval = 80 * time.Millisecond
)

var (
	rayStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#26A6AB"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true)
)

// Ray is a tapered segment: width grows linearly from W0 at (X0,Y0) to W1
// at (X1,Y1), and the tip is rounded with radius W1/2.
type Ray struct {
	X0, Y0, X1, Y1 float64
	W0, W1         float64
}

// Rays returns the loader geometry scaled to size: one horizontal ray from
// the hub centre, then RayCount-1 rays at even steps from 15° to 270°,
// alternating short and long, starting short. Angles follow screen
// coordinates (y grows downwards).
func Rays(size float64) []Ray {
	k := size / designSize
	cx, cy := size/2, size/2

	rays := make([]Ray, 0, RayCount)
	rays = append(rays, Ray{
		X0: cx, Y0: cy,
		X1: cx + horizontalLength*k, Y1: cy,
		W0: 10 * k, W1: 18 * k,
	})

	start := (hubRadius + hubGap) * k
	short := true
	for i := 0; i < RayCount-1; i++ {
		deg := firstRayAngle + float64(i)/float64(RayCount-2)*(lastRayAngle-firstRayAngle)
		rad := deg * math.Pi / 180
		length, tip := longRayLength*k, 16*k
		if short {
			length, tip = shortRayLength*k, 12*k
		}
		rays = append(rays, Ray{
			X0: cx + start*math.Cos(rad), Y0: cy + start*math.Sin(rad),
			X1: cx + (start+length)*math.Cos(rad), Y1: cy + (start+length)*math.Sin(rad),
			W0: 6 * k, W1: tip,
		})
		short = !short
	}
	return rays
}

// contains reports whether (px,py) lies inside the ray, with half-widths
// never below minHalf so thin rays survive coarse sampling.
func (r Ray) contains(px, py, minHalf float64) bool {
	dx, dy := r.X1-r.X0, r.Y1-r.Y0
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return false
	}
	t := ((px-r.X0)*dx + (py-r.Y0)*dy) / lenSq
	if t > 1 {
		tip := math.Max(r.W1/2, minHalf)
		return math.Hypot(px-r.X1, py-r.Y1) <= tip
	}
	if t < 0 {
		return false
	}
	qx, qy := r.X0+t*dx, r.Y0+t*dy
	half := math.Max((r.W0+t*(r.W1-r.W0))/2, minHalf)
	return math.Hypot(px-qx, py-qy) <= half
}

// braille dot bits, indexed [row][col] within a 2x4 cell.
var brailleBits = [4][2]rune{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

// Cell is one character of a rasterised frame.
type Cell struct {
	Dots   rune // braille dot mask, 0 for blank
	Active bool // some dot belongs to the highlighted ray
}

// Rune returns the braille character for the cell, or a space.
func (c Cell) Rune() rune {
	if c.Dots == 0 {
		return ' '
	}
	return 0x2800 + c.Dots
}

// Raster is the loader geometry sampled onto a grid of braille cells.
type Raster struct {
	cols, rows int
	base       []rune  // union of all rays, per cell
	owned      [][]int // per ray: indices of cells it touches
}

// NewRaster samples the rays onto cols x rows braille cells (2x4 dots each).
// Terminal cells are about twice as tall as wide, so use cols = 2*rows for
// a round result.
func NewRaster(cols, rows int) *Raster {
	dotsX, dotsY := cols*2, rows*4
	rays := Rays(designSize)
	pitchX, pitchY := designSize/float64(dotsX), designSize/float64(dotsY)
	minHalf := math.Max(pitchX, pitchY) * 0.6

	rs := &Raster{
		cols:  cols,
		rows:  rows,
		base:  make([]rune, cols*rows),
		owned: make([][]int, len(rays)),
	}
	seen := make([]map[int]bool, len(rays))
	for i := range seen {
		seen[i] = make(map[int]bool)
	}

	for dy := 0; dy < dotsY; dy++ {
		py := (float64(dy) + 0.5) * pitchY
		for dx := 0; dx < dotsX; dx++ {
			px := (float64(dx) + 0.5) * pitchX
			cell := (dy/4)*cols + dx/2
			for i, ray := range rays {
				if !ray.contains(px, py, minHalf) {
					continue
				}
				rs.base[cell] |= brailleBits[dy%4][dx%2]
				if !seen[i][cell] {
					seen[i][cell] = true
					rs.owned[i] = append(rs.owned[i], cell)
				}
			}
		}
	}
	return rs
}

// Size returns the grid dimensions.
func (rs *Raster) Size() (cols, rows int) {
	return rs.cols, rs.rows
}

// Frame returns the grid for animation step tick; ray tick%RayCount is
// highlighted.
func (rs *Raster) Frame(tick int) [][]Cell {
	active := ((tick % len(rs.owned)) + len(rs.owned)) % len(rs.owned)
	grid := make([][]Cell, rs.rows)
	for r := range grid {
		grid[r] = make([]Cell, rs.cols)
		for c := range grid[r] {
			grid[r][c].Dots = rs.base[r*rs.cols+c]
		}
	}
	for _, idx := range rs.owned[active] {
		grid[idx/rs.cols][idx%rs.cols].Active = true
	}
	return grid
}

// Loader animates a Raster with a status line underneath.
type Loader struct {
	raster   *Raster
	interval time.Duration
	color    bool

	mu     sync.Mutex
	status string
}

// NewLoader returns a loader drawing a 24x12 grid.
func NewLoader(interval time.Duration, color bool) *Loader {
	if interval <= 0 {
		interval = DefaultLoaderInterval
	}
	return &Loader{raster: NewRaster(24, 12), interval: interval, color: color}
}

// SetStatus replaces the line printed under the animation.
func (l *Loader) SetStatus(s string) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

func (l *Loader) currentStatus() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Render draws frame tick as text lines followed by the status line.
func (l *Loader) Render(tick int) string {
	var b strings.Builder
	for _, row := range l.raster.Frame(tick) {
		var line strings.Builder
		var run []rune
		runActive := false
		flush := func() {
			if len(run) == 0 {
				return
			}
			switch {
			case !l.color:
				line.WriteString(string(run))
			case runActive:
				line.WriteString(activeStyle.Render(string(run)))
			default:
				line.WriteString(rayStyle.Render(string(run)))
			}
			run = run[:0]
		}
		for _, cell := range row {
			if cell.Active != runActive {
				flush()
				runActive = cell.Active
			}
			run = append(run, cell.Rune())
		}
		flush()
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteString("\n")
	}
	b.WriteString(l.currentStatus())
	b.WriteString("\n")
	return b.String()
}

// Run animates on w until ctx is done, then erases the animation. When w is
// not a terminal the status line is printed once and Run just waits.
func (l *Loader) Run(ctx context.Context, w io.Writer) {
	if !IsTerminal(w) {
		if s := l.currentStatus(); s != "" {
			fmt.Fprintln(w, s)
		}
		<-ctx.Done()
		return
	}

	_, rows := l.raster.Size()
	height := rows + 1
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	fmt.Fprint(w, l.Render(0))
	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			fmt.Fprintf(w, "\x1b[%dA\x1b[J", height)
			return
		case <-ticker.C:
			fmt.Fprintf(w, "\x1b[%dA\x1b[J%s", height, l.Render(tick))
		}
	}
}
