package tetris

import "fmt"

// Stats is the end-of-match standing of one board.
type Stats struct {
	Role      string
	ToppedOut bool
	Lines     int
	Score     int
}

// Forfeit describes an early end caused by disconnects.
type Forfeit struct {
	Expired         []string
	AllDisconnected bool
}

const (
	ReasonForfeit = "forfeit"
	ReasonTopOut  = "topout"
	ReasonTimeUp  = "timeup"
)

// Verdict is the arbitrated result. A nil Winner is a draw.
type Verdict struct {
	Winner *string
	Reason string
	Detail string
}

func win(role, reason, detail string) Verdict {
	return Verdict{Winner: &role, Reason: reason, Detail: detail}
}

// Arbitrate decides a two-player match. Precedence: a single expired
// forfeit timer, then top-out asymmetry, then lines, then score.
func Arbitrate(a, b Stats, f *Forfeit) Verdict {
	if f != nil {
		if len(f.Expired) == 1 {
			gone := f.Expired[0]
			other := a.Role
			if gone == a.Role {
				other = b.Role
			}
			return win(other, ReasonForfeit, gone+" disconnected")
		}
		if a.Score != b.Score {
			w := pick(a, b, a.Score > b.Score)
			return win(w, ReasonForfeit, fmt.Sprintf("higher score after both disconnected (%d vs %d)", a.Score, b.Score))
		}
		return Verdict{Reason: ReasonForfeit, Detail: "draw (both disconnected with same score)"}
	}

	if a.ToppedOut != b.ToppedOut {
		return win(pick(a, b, b.ToppedOut), ReasonTopOut, "opponent top out")
	}

	if a.ToppedOut && b.ToppedOut {
		switch {
		case a.Lines != b.Lines:
			return win(pick(a, b, a.Lines > b.Lines), ReasonTopOut,
				fmt.Sprintf("more lines after simultaneous top out (%d vs %d)", a.Lines, b.Lines))
		case a.Score != b.Score:
			return win(pick(a, b, a.Score > b.Score), ReasonTopOut,
				fmt.Sprintf("higher score after simultaneous top out (%d vs %d)", a.Score, b.Score))
		default:
			return Verdict{Reason: ReasonTopOut, Detail: "draw (simultaneous top out)"}
		}
	}

	switch {
	case a.Lines != b.Lines:
		return win(pick(a, b, a.Lines > b.Lines), ReasonTimeUp, fmt.Sprintf("more lines (%d vs %d)", a.Lines, b.Lines))
	case a.Score != b.Score:
		return win(pick(a, b, a.Score > b.Score), ReasonTimeUp, fmt.Sprintf("higher score (%d vs %d)", a.Score, b.Score))
	default:
		return Verdict{Reason: ReasonTimeUp, Detail: "draw (same lines and score)"}
	}
}

func pick(a, b Stats, first bool) string {
	if first {
		return a.Role
	}
	return b.Role
}
