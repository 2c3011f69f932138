package renderer

// FailureKind classifies why a render did not produce a video.
type FailureKind string

const (
	KindNone        FailureKind = ""
	KindExit        FailureKind = "exit"
	KindTimeout     FailureKind = "timeout"
	KindNoArtifact  FailureKind = "no_artifact"
	KindIO          FailureKind = "io"
	KindUnavailable FailureKind = "unavailable"
)

// Messages reported for failures that carry no renderer output.
const (
	MsgNoVideo = "No video was generated"
)

// Result is the outcome of one Render call. Failures are values, never errors.
type Result struct {
	Success bool
	// Error is the renderer stderr for exit failures, otherwise a short description.
	Error  string
	Output string
	Stderr string

	VideoID   string
	VideoPath string

	Kind     FailureKind
	Attempts int
	Quality  string
}

func failure(kind FailureKind, msg string) Result {
	return Result{Kind: kind, Error: msg}
}
