package engine

// Grid dimensions.
const (
	Width  = 10
	Height = 20
)

// Piece identifies a tetromino. Its numeric value is the cell value written
// into the grid when the piece locks; 0 is an empty cell.
type Piece uint8

const (
	PieceNone Piece = iota
	PieceI
	PieceJ
	PieceL
	PieceO
	PieceS
	PieceT
	PieceZ
)

// AllPieces is the contents of one shuffle bag, in id order.
var AllPieces = []Piece{PieceI, PieceJ, PieceL, PieceO, PieceS, PieceT, PieceZ}

var pieceNames = [...]string{"", "I", "J", "L", "O", "S", "T", "Z"}

func (p Piece) String() string {
	if int(p) < len(pieceNames) {
		return pieceNames[p]
	}
	return "?"
}

type cell struct{ x, y int }

// shapes holds the four rotation states of each piece as offsets from the
// top-left of its 4x4 bounding box.
var shapes = [8][4][4]cell{
	PieceI: {
		{{0, 1}, {1, 1}, {2, 1}, {3, 1}},
		{{2, 0}, {2, 1}, {2, 2}, {2, 3}},
		{{0, 2}, {1, 2}, {2, 2}, {3, 2}},
		{{1, 0}, {1, 1}, {1, 2}, {1, 3}},
	},
	PieceJ: {
		{{0, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{1, 0}, {2, 0}, {1, 1}, {1, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {2, 2}},
		{{1, 0}, {1, 1}, {0, 2}, {1, 2}},
	},
	PieceL: {
		{{2, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{1, 0}, {1, 1}, {1, 2}, {2, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {0, 2}},
		{{0, 0}, {1, 0}, {1, 1}, {1, 2}},
	},
	PieceO: {
		{{1, 0}, {2, 0}, {1, 1}, {2, 1}},
		{{1, 0}, {2, 0}, {1, 1}, {2, 1}},
		{{1, 0}, {2, 0}, {1, 1}, {2, 1}},
		{{1, 0}, {2, 0}, {1, 1}, {2, 1}},
	},
	PieceS: {
		{{1, 0}, {2, 0}, {0, 1}, {1, 1}},
		{{1, 0}, {1, 1}, {2, 1}, {2, 2}},
		{{1, 1}, {2, 1}, {0, 2}, {1, 2}},
		{{0, 0}, {0, 1}, {1, 1}, {1, 2}},
	},
	PieceT: {
		{{1, 0}, {0, 1}, {1, 1}, {2, 1}},
		{{1, 0}, {1, 1}, {2, 1}, {1, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {1, 2}},
		{{1, 0}, {0, 1}, {1, 1}, {1, 2}},
	},
	PieceZ: {
		{{0, 0}, {1, 0}, {1, 1}, {2, 1}},
		{{2, 0}, {1, 1}, {2, 1}, {1, 2}},
		{{0, 1}, {1, 1}, {1, 2}, {2, 2}},
		{{1, 0}, {0, 1}, {1, 1}, {0, 2}},
	},
}

// kicks are the horizontal corrections tried, in order, when a rotation
// collides in place.
var kicks = [...]int{0, -1, 1, -2, 2}

// lineScores is keyed by the number of rows cleared by one lock.
var lineScores = [...]int{0, 100, 300, 500, 800}
