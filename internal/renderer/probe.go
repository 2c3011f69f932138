package renderer

import "fmt"

// Availability is the outcome of probing for an executable.
type Availability struct {
	Binary string
	Path   string
	Err    error
}

func (a Availability) OK() bool { return a.Err == nil && a.Path != "" }

func (a Availability) String() string {
	if a.OK() {
		return a.Path
	}
	return fmt.Sprintf("%s not found: %v", a.Binary, a.Err)
}

// Probe resolves binary with lookPath, normally exec.LookPath.
func Probe(lookPath func(string) (string, error), binary string) Availability {
	path, err := lookPath(binary)
	if err == nil && path == "" {
		err = fmt.Errorf("empty path")
	}
	return Availability{Binary: binary, Path: path, Err: err}
}

// ProbeCommand checks every executable the renderer command needs: the
// sandbox wrapper, when set, and the renderer binary itself. The first
// missing one is reported; otherwise the renderer binary's path is.
func ProbeCommand(lookPath func(string) (string, error), sandbox []string, binary string) Availability {
	if len(sandbox) > 0 {
		if a := Probe(lookPath, sandbox[0]); !a.OK() {
			return a
		}
	}
	return Probe(lookPath, binary)
}
