package model

import "time"

// Conversation groups messages exchanged between one participant pair over
// one channel. Participants are stored in lexicographic order so that A->B
// and B->A resolve to the same thread.
type Conversation struct {
	ID            string     `db:"id" json:"id"`
	ParticipantA  string     `db:"participant_a" json:"participant_a"`
	ParticipantB  string     `db:"participant_b" json:"participant_b"`
	Channel       Channel    `db:"channel" json:"channel"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at"`
	MessageCount  int        `db:"message_count" json:"message_count"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// ParticipantPair orders two addresses for conversation lookup.
func ParticipantPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
