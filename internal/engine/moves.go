package engine

// ActiveState is the falling piece as a client holds it. It is never part of
// the replicated tree; a drop call commits it.
type ActiveState struct {
	X        int   `json:"x"`
	Y        int   `json:"y"`
	Rotation uint8 `json:"rotation"`
}

// Spawn is where every new piece enters, above the visible rows.
var Spawn = ActiveState{X: 3, Y: -2, Rotation: 0}

// Blocks returns the field coordinates piece covers at s. piece must be valid.
func Blocks(piece uint8, s ActiveState) [4]Point {
	var out [4]Point
	if !ValidPiece(piece) {
		return out
	}
	for i, p := range shapes[piece][s.Rotation%4] {
		out[i] = Point{X: s.X + p.X, Y: s.Y + p.Y}
	}
	return out
}

// Collision reports whether piece at s leaves the field or overlaps a filled
// cell. Cells above the top row never overlap anything. A field of the wrong
// size collides everywhere.
func Collision(field []uint8, piece uint8, s ActiveState) bool {
	if !ValidPiece(piece) || s.Rotation > 3 || len(field) != Cells {
		return true
	}
	for _, b := range Blocks(piece, s) {
		if b.X < 0 || b.X >= Width || b.Y >= Height {
			return true
		}
		if b.Y >= 0 && field[b.Y*Width+b.X] != Empty {
			return true
		}
	}
	return false
}

func slide(field []uint8, piece uint8, s ActiveState, dx, dy int) ActiveState {
	next := s
	next.X += dx
	next.Y += dy
	if Collision(field, piece, next) {
		return s
	}
	return next
}

func SlideLeft(field []uint8, piece uint8, s ActiveState) ActiveState {
	return slide(field, piece, s, -1, 0)
}

func SlideRight(field []uint8, piece uint8, s ActiveState) ActiveState {
	return slide(field, piece, s, 1, 0)
}

func SlideDown(field []uint8, piece uint8, s ActiveState) ActiveState {
	return slide(field, piece, s, 0, 1)
}

func RotateRight(field []uint8, piece uint8, s ActiveState) ActiveState {
	return rotate(field, piece, s, 0)
}

func RotateLeft(field []uint8, piece uint8, s ActiveState) ActiveState {
	return rotate(field, piece, s, 1)
}

func rotate(field []uint8, piece uint8, s ActiveState, dir int) ActiveState {
	next := s
	if dir == 0 {
		next.Rotation = (s.Rotation + 1) % 4
	} else {
		next.Rotation = (s.Rotation + 3) % 4
	}
	if !Collision(field, piece, next) {
		return next
	}
	for _, k := range kicks(piece, s.Rotation, dir) {
		cand := next
		cand.X += k.X
		cand.Y -= k.Y
		if !Collision(field, piece, cand) {
			return cand
		}
	}
	return s
}

// HardDrop moves the piece straight down until it rests.
func HardDrop(field []uint8, piece uint8, s ActiveState) ActiveState {
	for {
		next := SlideDown(field, piece, s)
		if next.Y == s.Y {
			return s
		}
		s = next
	}
}

// Resting reports whether the piece cannot fall any further.
func Resting(field []uint8, piece uint8, s ActiveState) bool {
	return SlideDown(field, piece, s) == s
}

func rowFull(field []uint8, y int) bool {
	if y < 0 || (y+1)*Width > len(field) {
		return false
	}
	for x := 0; x < Width; x++ {
		if field[y*Width+x] == Empty {
			return false
		}
	}
	return true
}

func rowEmpty(field []uint8, y int) bool {
	if y < 0 || (y+1)*Width > len(field) {
		return true
	}
	for x := 0; x < Width; x++ {
		if field[y*Width+x] != Empty {
			return false
		}
	}
	return true
}
