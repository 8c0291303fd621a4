package engine

const (
	Width  = 10
	Height = 21
	Cells  = Width * Height
)

// Cell values. 1..7 double as piece identifiers.
const (
	Empty uint8 = iota
	PieceI
	PieceO
	PieceT
	PieceS
	PieceZ
	PieceJ
	PieceL
	Garbage
)

const NumPieces = 7

// Orientations inside a 4x4 box, rotation 0..3 clockwise.
var shapeRows = [NumPieces + 1][4][4]string{
	PieceI: {
		{"....", "####", "....", "...."},
		{"..#.", "..#.", "..#.", "..#."},
		{"....", "....", "####", "...."},
		{".#..", ".#..", ".#..", ".#.."},
	},
	PieceO: {
		{".##.", ".##.", "....", "...."},
		{".##.", ".##.", "....", "...."},
		{".##.", ".##.", "....", "...."},
		{".##.", ".##.", "....", "...."},
	},
	PieceT: {
		{".#..", "###.", "....", "...."},
		{".#..", ".##.", ".#..", "...."},
		{"....", "###.", ".#..", "...."},
		{".#..", "##..", ".#..", "...."},
	},
	PieceS: {
		{".##.", "##..", "....", "...."},
		{".#..", ".##.", "..#.", "...."},
		{"....", ".##.", "##..", "...."},
		{"#...", "##..", ".#..", "...."},
	},
	PieceZ: {
		{"##..", ".##.", "....", "...."},
		{"..#.", ".##.", ".#..", "...."},
		{"....", "##..", ".##.", "...."},
		{".#..", "##..", "#...", "...."},
	},
	PieceJ: {
		{"#...", "###.", "....", "...."},
		{".##.", ".#..", ".#..", "...."},
		{"....", "###.", "..#.", "...."},
		{".#..", ".#..", "##..", "...."},
	},
	PieceL: {
		{"..#.", "###.", "....", "...."},
		{".#..", ".#..", ".##.", "...."},
		{"....", "###.", "#...", "...."},
		{"##..", ".#..", ".#..", "...."},
	},
}

type Point struct {
	X, Y int
}

// shapes[piece][rotation] lists the four occupied box offsets, row-major.
var shapes = buildShapes()

func buildShapes() (out [NumPieces + 1][4][4]Point) {
	for piece := PieceI; piece <= PieceL; piece++ {
		for rot, rows := range shapeRows[piece] {
			n := 0
			for y, row := range rows {
				for x, c := range row {
					if c == '#' {
						out[piece][rot][n] = Point{X: x, Y: y}
						n++
					}
				}
			}
			if n != 4 {
				panic("engine: malformed shape table")
			}
		}
	}
	return out
}

func ValidPiece(piece uint8) bool {
	return piece >= PieceI && piece <= PieceL
}

// Kick offsets as published for SRS, with y pointing up. Indexed by source
// rotation, then direction (0 clockwise, 1 counter-clockwise). The naive
// rotation is always tried before these.
var kicksJLSTZ = [4][2][4]Point{
	{ // 0
		{{-1, 0}, {-1, 1}, {0, -2}, {-1, -2}}, // 0->R
		{{1, 0}, {1, 1}, {0, -2}, {1, -2}},    // 0->L
	},
	{ // R
		{{1, 0}, {1, -1}, {0, 2}, {1, 2}}, // R->2
		{{1, 0}, {1, -1}, {0, 2}, {1, 2}}, // R->0
	},
	{ // 2
		{{1, 0}, {1, 1}, {0, -2}, {1, -2}},    // 2->L
		{{-1, 0}, {-1, 1}, {0, -2}, {-1, -2}}, // 2->R
	},
	{ // L
		{{-1, 0}, {-1, -1}, {0, 2}, {-1, 2}}, // L->0
		{{-1, 0}, {-1, -1}, {0, 2}, {-1, 2}}, // L->2
	},
}

var kicksI = [4][2][4]Point{
	{ // 0
		{{-2, 0}, {1, 0}, {-2, -1}, {1, 2}}, // 0->R
		{{-1, 0}, {2, 0}, {-1, 2}, {2, -1}}, // 0->L
	},
	{ // R
		{{-1, 0}, {2, 0}, {-1, 2}, {2, -1}}, // R->2
		{{2, 0}, {-1, 0}, {2, 1}, {-1, -2}}, // R->0
	},
	{ // 2
		{{2, 0}, {-1, 0}, {2, 1}, {-1, -2}}, // 2->L
		{{1, 0}, {-2, 0}, {1, -2}, {-2, 1}}, // 2->R
	},
	{ // L
		{{1, 0}, {-2, 0}, {1, -2}, {-2, 1}}, // L->0
		{{-2, 0}, {1, 0}, {-2, -1}, {1, 2}}, // L->2
	},
}

// kicks returns the ordered candidates for rotating piece away from rotation
// in direction dir. O has none.
func kicks(piece uint8, rotation uint8, dir int) []Point {
	switch piece {
	case PieceO:
		return nil
	case PieceI:
		return kicksI[rotation%4][dir][:]
	default:
		return kicksJLSTZ[rotation%4][dir][:]
	}
}
