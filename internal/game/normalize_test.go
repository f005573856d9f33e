package game

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lichessLine(t *testing.T, line string) Raw {
	t.Helper()
	var raws []Raw
	err := DecodeNDJSON(strings.NewReader(line), func(r Raw) error {
		raws = append(raws, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	return raws[0]
}

func TestNormalize_StructuredPlayersAndWinner(t *testing.T) {
	raw := lichessLine(t, `{"id":"abc123","createdAt":1700000000000,"status":"mate","winner":"black",`+
		`"players":{"white":{"user":{"name":"  Magnus "}},"black":{"user":{"name":"Hikaru"}}}}`)

	rec, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, "magnus", rec.White)
	assert.Equal(t, "hikaru", rec.Black)
	assert.Equal(t, BlackWins, rec.Result)
	assert.Equal(t, "abc123", rec.ExternalID)
	require.NotNil(t, rec.Date)
	assert.True(t, rec.Date.Equal(time.UnixMilli(1700000000000)))
}

func TestNormalize_PlayerFallbacks(t *testing.T) {
	raw := Raw{White: "Alice", Winner: "white"}
	raw.Players.Black.UserID = "bob"

	rec, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, "alice", rec.White)
	assert.Equal(t, "bob", rec.Black)
}

func TestNormalize_StructuredNameBeatsTopLevel(t *testing.T) {
	raw := Raw{White: "ignored", Black: "b", Winner: "white"}
	raw.Players.White.UserID = "preferred"

	rec, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, "preferred", rec.White)
}

func TestNormalize_MissingPlayerDiscarded(t *testing.T) {
	_, ok := Normalize(Raw{White: "a", Black: "   ", Winner: "white"})
	assert.False(t, ok)

	_, ok = Normalize(Raw{Black: "b", Winner: "white"})
	assert.False(t, ok)
}

func TestNormalize_ResultPrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  Raw
		want Result
		ok   bool
	}{
		{"winner white", Raw{Winner: "white", PGN: "0-1"}, WhiteWins, true},
		{"winner black", Raw{Winner: "BLACK"}, BlackWins, true},
		{"draw status", Raw{Status: "draw", PGN: "1-0"}, Draw, true},
		{"stalemate status", Raw{Status: "stalemate"}, Draw, true},
		{"unknown winner falls through", Raw{Winner: "nobody", PGN: "1/2-1/2"}, Draw, true},
		{"pgn white", Raw{PGN: `[Result "1-0"]`}, WhiteWins, true},
		{"pgn black", Raw{PGN: `1. e4 e5 0-1`}, BlackWins, true},
		{"pgn decisive before draw", Raw{PGN: `1/2-1/2 1-0`}, WhiteWins, true},
		{"pgn draw", Raw{PGN: `1. d4 d5 1/2-1/2`}, Draw, true},
		{"aborted", Raw{Status: "aborted"}, 0, false},
		{"nothing", Raw{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.raw.White, tt.raw.Black = "w", "b"
			rec, ok := Normalize(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, rec.Result)
			}
		})
	}
}

func TestNormalize_ExternalIDAndDate(t *testing.T) {
	stored := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := Raw{GameID: " g1 ", White: "a", Black: "b", Winner: "white", Date: &stored, CreatedAt: 1}

	rec, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, "g1", rec.ExternalID)
	require.NotNil(t, rec.Date)
	assert.Equal(t, stored, *rec.Date)

	rec, ok = Normalize(Raw{White: "a", Black: "b", Winner: "white"})
	require.True(t, ok)
	assert.Empty(t, rec.ExternalID)
	assert.Nil(t, rec.Date)
}

func TestParseResult(t *testing.T) {
	for _, r := range []Result{WhiteWins, BlackWins, Draw} {
		got, err := ParseResult(r.Notation())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := ParseResult("draw")
	assert.Error(t, err)
}

func TestDecodeNDJSON_SkipsBadLines(t *testing.T) {
	input := "{\"id\":\"1\"}\n\nnot json\n   \n{\"id\":\"2\"}\n"

	var ids []string
	err := DecodeNDJSON(strings.NewReader(input), func(r Raw) error {
		ids = append(ids, r.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestDecodeNDJSON_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := DecodeNDJSON(strings.NewReader("{}\n{}\n{}\n"), func(Raw) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
