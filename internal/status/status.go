// Package status models the lifecycle of a single upload-process-download run.
//
// A Status is exactly one of the variant structs below. Variants carry only the
// fields relevant to their state, so a Completed without a path or an Uploading
// with a stage string cannot be expressed.
package status

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindIdle          Kind = "idle"
	KindSelectingFile Kind = "selecting_file"
	KindUploading     Kind = "uploading"
	KindProcessing    Kind = "processing"
	KindDownloading   Kind = "downloading"
	KindPruning       Kind = "pruning"
	KindCompleted     Kind = "completed"
	KindError         Kind = "error"
)

type Status interface {
	Kind() Kind
	String() string
	sealed()
}

type Idle struct{}

type SelectingFile struct{}

// Uploading reports coarse milestones in [0, 1], not bytes sent.
type Uploading struct {
	Progress float64
}

// Processing carries opaque, human-readable text about server-side work.
type Processing struct {
	Stage string
}

// Downloading progress is chunk-count based.
type Downloading struct {
	Progress float64
}

// Pruning is only visited when the optional pruning stage is enabled.
type Pruning struct {
	Progress float64
}

type Completed struct {
	ArtifactPath string
	// PrunedPath is empty unless pruning ran.
	PrunedPath string
	TotalTime  time.Duration
}

// Failed is the terminal error state. Message is meant for humans.
type Failed struct {
	Message string
}

func (Idle) Kind() Kind          { return KindIdle }
func (SelectingFile) Kind() Kind { return KindSelectingFile }
func (Uploading) Kind() Kind     { return KindUploading }
func (Processing) Kind() Kind    { return KindProcessing }
func (Downloading) Kind() Kind   { return KindDownloading }
func (Pruning) Kind() Kind       { return KindPruning }
func (Completed) Kind() Kind     { return KindCompleted }
func (Failed) Kind() Kind        { return KindError }

func (Idle) sealed()          {}
func (SelectingFile) sealed() {}
func (Uploading) sealed()     {}
func (Processing) sealed()    {}
func (Downloading) sealed()   {}
func (Pruning) sealed()       {}
func (Completed) sealed()     {}
func (Failed) sealed()        {}

func (Idle) String() string          { return "idle" }
func (SelectingFile) String() string { return "waiting for file selection..." }

func (s Uploading) String() string {
	return fmt.Sprintf("uploading... %.0f%%", s.Progress*100)
}

func (s Processing) String() string { return s.Stage }

func (s Downloading) String() string {
	return fmt.Sprintf("downloading model... %.0f%%", s.Progress*100)
}

func (s Pruning) String() string {
	return fmt.Sprintf("pruning model... %.0f%%", s.Progress*100)
}

func (s Completed) String() string {
	return fmt.Sprintf("completed in %.2fs: %s", s.TotalTime.Seconds(), s.ArtifactPath)
}

func (s Failed) String() string { return "error: " + s.Message }

// IsTerminal reports whether a new run may start from s.
func IsTerminal(s Status) bool {
	switch s.(type) {
	case Idle, Completed, Failed:
		return true
	}
	return false
}

// View is the JSON shape of a Status for the control surface.
type View struct {
	State        Kind     `json:"state"`
	Text         string   `json:"text"`
	Progress     *float64 `json:"progress,omitempty"`
	Stage        string   `json:"stage,omitempty"`
	ArtifactPath string   `json:"artifactPath,omitempty"`
	PrunedPath   string   `json:"prunedPath,omitempty"`
	TotalSeconds float64  `json:"totalSeconds,omitempty"`
	Message      string   `json:"message,omitempty"`
}

func ToView(s Status) View {
	v := View{State: s.Kind(), Text: s.String()}
	switch st := s.(type) {
	case Uploading:
		v.Progress = &st.Progress
	case Downloading:
		v.Progress = &st.Progress
	case Pruning:
		v.Progress = &st.Progress
	case Processing:
		v.Stage = st.Stage
	case Completed:
		v.ArtifactPath = st.ArtifactPath
		v.PrunedPath = st.PrunedPath
		v.TotalSeconds = st.TotalTime.Seconds()
	case Failed:
		v.Message = st.Message
	}
	return v
}
