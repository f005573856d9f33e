package leaderboard

import (
	"sort"
	"strings"
	"time"

	"github.com/nti-schack/leaderboard/internal/game"
)

// PodiumSize is the number of players shown on the podium.
const PodiumSize = 3

// PlayerStats holds one player's aggregated results.
type PlayerStats struct {
	Name     string     `json:"name"`
	Games    int        `json:"games"`
	Wins     int        `json:"wins"`
	Losses   int        `json:"losses"`
	Draws    int        `json:"draws"`
	LastGame *time.Time `json:"lastGame"`
}

// Ranked is the sorted standings split into podium and the rest.
type Ranked struct {
	Podium      []PlayerStats `json:"podium"`
	Leaderboard []PlayerStats `json:"leaderboard"`
}

// Rank returns the display rank of the i-th leaderboard entry.
func (Ranked) Rank(i int) int {
	return i + PodiumSize + 1
}

// Len returns the number of ranked players.
func (r Ranked) Len() int {
	return len(r.Podium) + len(r.Leaderboard)
}

// Compute builds the standings for users from games. Games that reference
// a non-member, pit a player against themselves, or repeat an external id
// already counted contribute nothing.
func Compute(users []string, games []game.Record) Ranked {
	ranked := Ranked{
		Podium:      []PlayerStats{},
		Leaderboard: []PlayerStats{},
	}
	if len(users) == 0 {
		return ranked
	}

	stats := make(map[string]*PlayerStats, len(users))
	for _, u := range users {
		if _, ok := stats[u]; !ok {
			stats[u] = &PlayerStats{Name: u}
		}
	}

	seen := make(map[string]bool)
	for _, g := range games {
		if g.ExternalID != "" {
			if seen[g.ExternalID] {
				continue
			}
			seen[g.ExternalID] = true
		}

		white, black := stats[g.White], stats[g.Black]
		if white == nil || black == nil || g.White == g.Black {
			continue
		}

		white.Games++
		black.Games++
		if g.Date != nil {
			white.touch(*g.Date)
			black.touch(*g.Date)
		}

		switch g.Result {
		case game.WhiteWins:
			white.Wins++
			black.Losses++
		case game.BlackWins:
			black.Wins++
			white.Losses++
		case game.Draw:
			white.Draws++
			black.Draws++
		}
	}

	all := make([]PlayerStats, 0, len(stats))
	for _, s := range stats {
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool {
		return less(all[i], all[j])
	})

	n := min(PodiumSize, len(all))
	ranked.Podium = append(ranked.Podium, all[:n]...)
	ranked.Leaderboard = append(ranked.Leaderboard, all[n:]...)
	return ranked
}

func (s *PlayerStats) touch(d time.Time) {
	if s.LastGame == nil || d.After(*s.LastGame) {
		t := d
		s.LastGame = &t
	}
}

// less orders by wins, then games played, then name. Names are unique so
// the order is total.
func less(a, b PlayerStats) bool {
	if a.Wins != b.Wins {
		return a.Wins > b.Wins
	}
	if a.Games != b.Games {
		return a.Games > b.Games
	}
	la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if la != lb {
		return la < lb
	}
	return a.Name < b.Name
}
