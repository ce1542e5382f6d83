package models

import (
	"fmt"
	"slices"
)

// Playlist is an ordered, duration-bounded track sequence produced by one
// synthesis call.
//
// A playlist is immutable after creation except for ExportedTo, which the
// export path appends to idempotently.
type Playlist struct {
	base
	UserID               string
	MessageID            string
	Name                 string
	Description          string
	Tracks               []Track
	TotalDurationSeconds int
	Prompt               string
	ExportedTo           []Provider
	Degraded             bool
	Shortfall            int
}

// NewPlaylist creates a playlist shell for a synthesis run.
func NewPlaylist(sequence int, userID, name, prompt string) *Playlist {
	return &Playlist{
		base:   newBase(sequence),
		UserID: userID,
		Name:   name,
		Prompt: prompt,
	}
}

// SetTracks installs the final track sequence and recomputes the duration.
func (p *Playlist) SetTracks(tracks []Track) {
	p.Tracks = tracks
	total := 0
	for _, t := range tracks {
		total += t.DurationMS / 1000
	}
	p.TotalDurationSeconds = total
}

// MarkExported records an export destination. Repeated exports to the same
// provider are no-ops.
func (p *Playlist) MarkExported(provider Provider) bool {
	if slices.Contains(p.ExportedTo, provider) {
		return false
	}
	p.ExportedTo = append(p.ExportedTo, provider)
	return true
}

// SourceCounts tallies selected tracks per provider, counting each track
// against its canonical source only.
func (p *Playlist) SourceCounts() map[Provider]int {
	counts := make(map[Provider]int)
	for _, t := range p.Tracks {
		counts[t.Source]++
	}
	return counts
}

func (p *Playlist) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("playlist requires a user id")
	}
	if p.Name == "" {
		return fmt.Errorf("playlist requires a name")
	}
	return nil
}
