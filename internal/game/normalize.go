package game

import (
	"strings"
	"time"
)

// Raw is a loosely structured game as it arrives from storage or from the
// Lichess export feed. Every field is optional.
type Raw struct {
	ID        string     `json:"id"`
	GameID    string     `json:"gameId"`
	CreatedAt int64      `json:"createdAt"` // epoch milliseconds
	Date      *time.Time `json:"-"`
	Winner    string     `json:"winner"`
	Status    string     `json:"status"`
	PGN       string     `json:"pgn"`
	White     string     `json:"white"`
	Black     string     `json:"black"`
	Players   struct {
		White RawPlayer `json:"white"`
		Black RawPlayer `json:"black"`
	} `json:"players"`

	// Source holds the undecoded feed line, when there was one.
	Source []byte `json:"-"`
}

// RawPlayer is one side of a Lichess game.
type RawPlayer struct {
	User *struct {
		Name string `json:"name"`
	} `json:"user"`
	UserID string `json:"userId"`
}

func (p RawPlayer) name() string {
	if p.User != nil && strings.TrimSpace(p.User.Name) != "" {
		return p.User.Name
	}
	return p.UserID
}

var drawStatuses = map[string]bool{
	"draw":      true,
	"stalemate": true,
}

// Normalize maps raw into a canonical Record. The second return value is
// false when the game cannot be attributed to two players or has no
// determinable result.
func Normalize(raw Raw) (Record, bool) {
	white := CanonicalName(pick(raw.Players.White.name(), raw.White))
	black := CanonicalName(pick(raw.Players.Black.name(), raw.Black))
	if white == "" || black == "" {
		return Record{}, false
	}

	result, ok := resultOf(raw)
	if !ok {
		return Record{}, false
	}

	rec := Record{
		White:      white,
		Black:      black,
		Result:     result,
		ExternalID: strings.TrimSpace(pick(raw.ID, raw.GameID)),
	}
	switch {
	case raw.Date != nil:
		d := *raw.Date
		rec.Date = &d
	case raw.CreatedAt > 0:
		d := time.UnixMilli(raw.CreatedAt).UTC()
		rec.Date = &d
	}
	return rec, true
}

func resultOf(raw Raw) (Result, bool) {
	switch strings.ToLower(strings.TrimSpace(raw.Winner)) {
	case "white":
		return WhiteWins, true
	case "black":
		return BlackWins, true
	}

	if drawStatuses[strings.ToLower(strings.TrimSpace(raw.Status))] {
		return Draw, true
	}

	// Order matters: a decisive token wins over a draw token.
	switch {
	case raw.PGN == "":
		return 0, false
	case strings.Contains(raw.PGN, "1-0"):
		return WhiteWins, true
	case strings.Contains(raw.PGN, "0-1"):
		return BlackWins, true
	case strings.Contains(raw.PGN, "1/2-1/2"):
		return Draw, true
	}
	return 0, false
}

// pick returns the first value that is non-empty after trimming.
func pick(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
