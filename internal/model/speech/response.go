package speech

import "time"

// AudioClip is a finished piece of client audio: a recorded utterance going
// in, or synthesized speech going out.
type AudioClip struct {
	Data      []byte    `json:"-"`
	Format    string    `json:"format"` // webm, wav, mp3...
	CreatedAt time.Time `json:"createdAt"`
}

// Empty reports whether the clip carries no audio.
func (c AudioClip) Empty() bool {
	return len(c.Data) == 0
}
