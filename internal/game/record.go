package game

import (
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of a finished game.
type Result int

const (
	WhiteWins Result = iota + 1
	BlackWins
	Draw
)

// Notation returns the PGN result token for r.
func (r Result) Notation() string {
	switch r {
	case WhiteWins:
		return "1-0"
	case BlackWins:
		return "0-1"
	case Draw:
		return "1/2-1/2"
	default:
		return ""
	}
}

func (r Result) String() string {
	switch r {
	case WhiteWins:
		return "white_wins"
	case BlackWins:
		return "black_wins"
	case Draw:
		return "draw"
	default:
		return "unknown"
	}
}

// ParseResult accepts exactly one of the PGN result tokens.
func ParseResult(s string) (Result, error) {
	switch strings.TrimSpace(s) {
	case "1-0":
		return WhiteWins, nil
	case "0-1":
		return BlackWins, nil
	case "1/2-1/2":
		return Draw, nil
	}
	return 0, fmt.Errorf("invalid result %q", s)
}

// Record is a canonical game between two players. White and Black are
// canonical usernames.
type Record struct {
	White      string
	Black      string
	Result     Result
	Date       *time.Time
	ExternalID string
}

// CanonicalName lower-cases and trims a username.
func CanonicalName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
