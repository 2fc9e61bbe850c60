// Package engine is the deterministic single-board falling-block simulation.
// An Engine is not safe for concurrent use; the match loop owns it.
package engine

import (
	"errors"
	"fmt"
)

var ErrUnsupportedAction = errors.New("unsupported action")

type Action string

const (
	ActionLeft   Action = "LEFT"
	ActionRight  Action = "RIGHT"
	ActionSoft   Action = "SOFT"
	ActionHard   Action = "HARD"
	ActionCW     Action = "CW"
	ActionCCW    Action = "CCW"
	ActionHold   Action = "HOLD"
	ActionChoice Action = "CHOICE"
)

type EventType string

const (
	EvtMoved      EventType = "Moved"
	EvtRotated    EventType = "Rotated"
	EvtHeld       EventType = "Held"
	EvtLocked     EventType = "Locked"
	EvtLinesClear EventType = "LinesCleared"
	EvtSpawned    EventType = "Spawned"
	EvtToppedOut  EventType = "ToppedOut"
)

type Event struct {
	Type  EventType
	Piece Piece
	Lines int
	Score int
	Combo int
}

const (
	spawnX     = 3
	queueLow   = 8
	previewLen = 3
)

type Active struct {
	Piece Piece
	Rot   int
	X, Y  int
}

// ActiveView is the falling piece as shown to clients.
type ActiveView struct {
	Shape string `json:"shape"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Rot   int    `json:"rot"`
}

type Engine struct {
	grid    [Height][Width]Piece
	active  *Active
	canHold bool
	hold    Piece
	queue   []Piece
	bag     *Bag

	Score         int
	Lines         int
	BlocksCleared int
	Combo         int
	MaxCombo      int
	ToppedOut     bool

	lastCleared bool
}

// New builds a board and spawns the first piece.
func New(seed int64) *Engine {
	e := &Engine{bag: NewBag(seed)}
	e.fillQueue()
	e.spawn(nil)
	return e
}

func (e *Engine) fillQueue() {
	for len(e.queue) < queueLow {
		e.queue = append(e.queue, e.bag.Next()...)
	}
}

// Apply runs one player action. Actions after top out are ignored.
func (e *Engine) Apply(a Action) ([]Event, error) {
	var evs []Event
	if e.ToppedOut || e.active == nil {
		switch a {
		case ActionLeft, ActionRight, ActionSoft, ActionHard, ActionCW, ActionCCW, ActionHold:
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, a)
	}

	switch a {
	case ActionLeft:
		if e.move(-1, 0) {
			evs = append(evs, Event{Type: EvtMoved})
		}
	case ActionRight:
		if e.move(1, 0) {
			evs = append(evs, Event{Type: EvtMoved})
		}
	case ActionCW:
		if e.rotate(1) {
			evs = append(evs, Event{Type: EvtRotated})
		}
	case ActionCCW:
		if e.rotate(-1) {
			evs = append(evs, Event{Type: EvtRotated})
		}
	case ActionSoft:
		evs = e.SoftDrop()
	case ActionHard:
		evs = e.HardDrop()
	case ActionHold:
		evs = e.Hold()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, a)
	}
	return evs, nil
}

func (e *Engine) cells(a Active) [4]cell {
	var out [4]cell
	for i, c := range shapes[a.Piece][a.Rot] {
		out[i] = cell{a.X + c.x, a.Y + c.y}
	}
	return out
}

// fits reports whether a sits inside the side walls and floor without
// overlapping the stack. Cells above the visible top are allowed.
func (e *Engine) fits(a Active) bool {
	for _, c := range e.cells(a) {
		if c.x < 0 || c.x >= Width || c.y >= Height {
			return false
		}
		if c.y >= 0 && e.grid[c.y][c.x] != PieceNone {
			return false
		}
	}
	return true
}

func (e *Engine) move(dx, dy int) bool {
	if e.active == nil {
		return false
	}
	next := *e.active
	next.X += dx
	next.Y += dy
	if !e.fits(next) {
		return false
	}
	*e.active = next
	return true
}

func (e *Engine) rotate(dir int) bool {
	if e.active == nil {
		return false
	}
	rot := ((e.active.Rot+dir)%4 + 4) % 4
	for _, k := range kicks {
		next := *e.active
		next.Rot = rot
		next.X += k
		if e.fits(next) {
			*e.active = next
			return true
		}
	}
	return false
}

// SoftDrop moves the piece down one row, or locks it when blocked.
func (e *Engine) SoftDrop() []Event {
	if e.active == nil {
		return nil
	}
	if e.move(0, 1) {
		return []Event{{Type: EvtMoved}}
	}
	return e.lock()
}

func (e *Engine) HardDrop() []Event {
	if e.active == nil {
		return nil
	}
	for e.move(0, 1) {
	}
	return e.lock()
}

// Hold swaps the active piece with the held one; the first hold stores the
// piece and spawns a fresh one. Once per spawned piece.
func (e *Engine) Hold() []Event {
	if e.active == nil || !e.canHold {
		return nil
	}
	cur := e.active.Piece
	evs := []Event{{Type: EvtHeld, Piece: cur}}
	if e.hold == PieceNone {
		e.hold = cur
		evs = append(evs, e.spawn(nil)...)
	} else {
		swap := e.hold
		e.hold = cur
		evs = append(evs, e.spawn(&swap)...)
	}
	if e.active != nil {
		e.canHold = false
	}
	return evs
}

// spawn places the next queued piece (or p) at the top, retrying one row
// higher before declaring top out.
func (e *Engine) spawn(p *Piece) []Event {
	var piece Piece
	if p != nil {
		piece = *p
	} else {
		e.fillQueue()
		piece = e.queue[0]
		e.queue = e.queue[1:]
	}
	a := Active{Piece: piece, X: spawnX, Y: 0}
	if !e.fits(a) {
		a.Y = -1
		if !e.fits(a) {
			e.active = nil
			e.ToppedOut = true
			return []Event{{Type: EvtToppedOut, Piece: piece}}
		}
	}
	e.active = &a
	e.canHold = true
	return []Event{{Type: EvtSpawned, Piece: piece}}
}

func (e *Engine) lock() []Event {
	a := *e.active
	e.active = nil
	evs := []Event{{Type: EvtLocked, Piece: a.Piece}}
	above := false
	for _, c := range e.cells(a) {
		if c.y < 0 {
			above = true
			continue
		}
		e.grid[c.y][c.x] = a.Piece
	}
	if above {
		e.ToppedOut = true
		return append(evs, Event{Type: EvtToppedOut, Piece: a.Piece})
	}

	cleared := e.clearRows()
	if cleared > 0 {
		delta := lineScores[cleared]
		e.Score += delta
		e.Lines += cleared
		e.BlocksCleared += cleared * Width
		if e.lastCleared {
			e.Combo++
		} else {
			e.Combo = 0
		}
		if e.Combo > e.MaxCombo {
			e.MaxCombo = e.Combo
		}
		e.lastCleared = true
		evs = append(evs, Event{Type: EvtLinesClear, Lines: cleared, Score: delta, Combo: e.Combo})
	} else {
		e.Combo = 0
		e.lastCleared = false
	}
	return append(evs, e.spawn(nil)...)
}

// clearRows removes every full row, shifting the rows above down.
func (e *Engine) clearRows() int {
	var kept [Height][Width]Piece
	dst := Height - 1
	cleared := 0
	for y := Height - 1; y >= 0; y-- {
		if rowFull(e.grid[y]) {
			cleared++
			continue
		}
		kept[dst] = e.grid[y]
		dst--
	}
	e.grid = kept
	return cleared
}

func rowFull(row [Width]Piece) bool {
	for _, v := range row {
		if v == PieceNone {
			return false
		}
	}
	return true
}

// Level is derived from cleared lines, ten per level.
func (e *Engine) Level() int { return e.Lines/10 + 1 }

func (e *Engine) Active() (Active, bool) {
	if e.active == nil {
		return Active{}, false
	}
	return *e.active, true
}

func (e *Engine) Held() Piece { return e.hold }

func (e *Engine) CanHold() bool { return e.canHold }

// Next returns the first n queued pieces.
func (e *Engine) Next(n int) []Piece {
	if n > len(e.queue) {
		n = len(e.queue)
	}
	out := make([]Piece, n)
	copy(out, e.queue[:n])
	return out
}

func (e *Engine) Cell(x, y int) Piece { return e.grid[y][x] }

// StackHeight is the number of rows from the floor to the highest filled cell.
func (e *Engine) StackHeight() int {
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			if e.grid[y][x] != PieceNone {
				return Height - y
			}
		}
	}
	return 0
}

// View is the client-facing copy of the board with the falling piece overlaid.
type View struct {
	Board         [][]int
	Active        *ActiveView
	Hold          string
	Next          []string
	Score         int
	Lines         int
	Level         int
	BlocksCleared int
}

func (e *Engine) View() View {
	board := make([][]int, Height)
	for y := range board {
		board[y] = make([]int, Width)
		for x := range board[y] {
			board[y][x] = int(e.grid[y][x])
		}
	}
	v := View{
		Score:         e.Score,
		Lines:         e.Lines,
		Level:         e.Level(),
		BlocksCleared: e.BlocksCleared,
	}
	if e.active != nil {
		for _, c := range e.cells(*e.active) {
			if c.y >= 0 && c.y < Height && c.x >= 0 && c.x < Width {
				board[c.y][c.x] = int(e.active.Piece)
			}
		}
		v.Active = &ActiveView{Shape: e.active.Piece.String(), X: e.active.X, Y: e.active.Y, Rot: e.active.Rot}
	}
	if e.hold != PieceNone {
		v.Hold = e.hold.String()
	}
	for _, p := range e.Next(previewLen) {
		v.Next = append(v.Next, p.String())
	}
	v.Board = board
	return v
}

// ContainsEvent reports whether evs holds an event of type t.
func ContainsEvent(evs []Event, t EventType) bool {
	for _, ev := range evs {
		if ev.Type == t {
			return true
		}
	}
	return false
}
