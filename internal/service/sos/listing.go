package sos

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/recording"
)

// Listing is the client-facing summary of a finished recording.
type Listing struct {
	recording.Recording
	Filename    string `json:"filename"`
	Size        int    `json:"size"`
	DisplaySize string `json:"displaySize"`
	RecordedAgo string `json:"recordedAgo"`
}

// NewListing summarizes rec relative to now.
func NewListing(rec recording.Recording, now time.Time) Listing {
	return Listing{
		Recording:   rec,
		Filename:    rec.ExportFilename(),
		Size:        len(rec.Artifact),
		DisplaySize: humanize.Bytes(uint64(len(rec.Artifact))),
		RecordedAgo: humanize.RelTime(rec.StartedAt, now, "ago", "from now"),
	}
}

// NewListings keeps the order of recs.
func NewListings(recs []recording.Recording, now time.Time) []Listing {
	out := make([]Listing, 0, len(recs))
	for _, rec := range recs {
		out = append(out, NewListing(rec, now))
	}
	return out
}
