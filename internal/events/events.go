package events

type Event interface {
	event() // marker method
}

// UserRegistered is emitted when a new player signs up.
type UserRegistered struct {
	Username string
}

func (UserRegistered) event() {}

// GamesRecorded is emitted when new games have been stored.
type GamesRecorded struct {
	Count  int
	Source string // "lichess" or "api"
}

func (GamesRecorded) event() {}
