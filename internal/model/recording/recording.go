package recording

import (
	"fmt"
	"mime"
	"strings"
	"time"
)

// State is the lifecycle position of an SOS capture.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
)

// DefaultDurationCap bounds every capture unless configured otherwise.
const DefaultDurationCap = 10 * time.Second

// DefaultLocation is attached when the client does not report one.
const DefaultLocation = "Current Location"

// DefaultMimeType is the container the dashboard's recorder produces.
const DefaultMimeType = "video/webm"

// Recording is one bounded capture triggered by the panic button.
type Recording struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	State          State     `json:"state"`
	Artifact       []byte    `json:"-"`
	MimeType       string    `json:"mimeType"`
	Location       string    `json:"location"`
	DurationCap    int       `json:"durationCap"`
}

// HasArtifact reports whether the capture produced any media.
func (r Recording) HasArtifact() bool {
	return len(r.Artifact) > 0
}

// Extension derives the file extension from the MIME type.
func (r Recording) Extension() string {
	mt := r.MimeType
	if mt == "" {
		mt = DefaultMimeType
	}
	base, _, err := mime.ParseMediaType(mt)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(mt))
	}
	switch base {
	case "video/mp4":
		return "mp4"
	case "video/quicktime":
		return "mov"
	case "video/x-matroska":
		return "mkv"
	case "video/ogg":
		return "ogv"
	default:
		return "webm"
	}
}

// ExportFilename is the download name: SOS-<epoch-ms>.<ext>.
func (r Recording) ExportFilename() string {
	return fmt.Sprintf("SOS-%d.%s", r.StartedAt.UnixMilli(), r.Extension())
}
