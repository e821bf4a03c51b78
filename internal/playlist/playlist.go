// SPDX-License-Identifier: MIT

// Package playlist defines the playlist entry records exchanged with the
// karaoke server.
//
// Entries are created when a playlist_entry order arrives on the WebSocket
// and destroyed once they reach a terminal state (finished, could_not_play
// or skipped) and the matching report has been sent. The server owns the
// queue; the daemon only ever holds the current entry.
package playlist

import "fmt"

// Kind identifies what the media player is currently showing.
type Kind int

const (
	KindIdle       Kind = iota // Idle screen (background + idle overlay)
	KindTransition             // Transition card announcing the next song
	KindSong                   // The song itself
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindTransition:
		return "transition"
	case KindSong:
		return "song"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Artist is a song artist as sent by the server.
type Artist struct {
	Name string `json:"name"`
}

// Work is a work (anime, game, ...) the song belongs to.
type Work struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	LinkType string `json:"link_type,omitempty"`
}

// Song describes the media file to play and its display metadata.
type Song struct {
	Title    string   `json:"title"`
	FilePath string   `json:"file_path"`
	Duration int      `json:"duration,omitempty"`
	Artists  []Artist `json:"artists,omitempty"`
	Works    []Work   `json:"works,omitempty"`
}

// Entry is one server-assigned request to play one song.
//
// The integer ID is the canonical identity: every report sent back to the
// server carries it.
type Entry struct {
	ID              int    `json:"id"`
	Song            Song   `json:"song"`
	Owner           string `json:"owner"`
	UseInstrumental bool   `json:"use_instrumental"`
	DateCreated     string `json:"date_created,omitempty"`
}

// ArtistNames returns the artist names in display order.
func (e *Entry) ArtistNames() []string {
	names := make([]string, 0, len(e.Song.Artists))
	for _, a := range e.Song.Artists {
		names = append(names, a.Name)
	}
	return names
}
