package elimination

import (
	"fmt"
	"slices"
)

// Choices are rock, paper and scissors.
const (
	Rock     = 1
	Paper    = 2
	Scissors = 3
)

var choiceNames = map[int]string{Rock: "Rock", Paper: "Paper", Scissors: "Scissors"}

func ValidChoice(c int) bool { return c >= Rock && c <= Scissors }

// beats reports whether a beats b.
func beats(a, b int) bool {
	return (a == Paper && b == Rock) || (a == Scissors && b == Paper) || (a == Rock && b == Scissors)
}

const (
	ResultDraw      = "draw"
	ResultEliminate = "eliminate"
	ResultDouble    = "double_elimination"
	ResultWin       = "win"
)

type Resolution struct {
	Result     string
	Eliminated []string
	// Winner is set when the round leaves a single role standing.
	Winner string
	Reason string
}

// Resolve judges one round. order fixes the role order of the output;
// choices must hold a valid choice for every role in order.
//
// One distinct value, or all three, is a draw. With two distinct values the
// holders of the beaten value are eliminated; if that leaves one role the
// match is over.
func Resolve(order []string, choices map[string]int) Resolution {
	distinct := make([]int, 0, 3)
	for _, r := range order {
		if c := choices[r]; !slices.Contains(distinct, c) {
			distinct = append(distinct, c)
		}
	}
	switch len(distinct) {
	case 1:
		return Resolution{Result: ResultDraw, Reason: "All same"}
	case 3:
		return Resolution{Result: ResultDraw, Reason: "Rock-Paper-Scissors all present"}
	}

	losing, winning := distinct[0], distinct[1]
	if beats(losing, winning) {
		losing, winning = winning, losing
	}
	var losers, standing []string
	for _, r := range order {
		if choices[r] == losing {
			losers = append(losers, r)
		} else {
			standing = append(standing, r)
		}
	}

	res := Resolution{Eliminated: losers}
	switch {
	case len(standing) == 1 && len(losers) > 1:
		res.Result = ResultDouble
		res.Winner = standing[0]
		res.Reason = fmt.Sprintf("Double kill! %s wins by eliminating both opponents with %s", standing[0], choiceNames[winning])
	case len(standing) == 1:
		res.Result = ResultWin
		res.Winner = standing[0]
		res.Reason = fmt.Sprintf("%s beats %s", choiceNames[winning], choiceNames[losing])
	default:
		res.Result = ResultEliminate
		res.Reason = choiceNames[losing] + " eliminated"
	}
	return res
}
