//go:build !unix

package renderer

import "os/exec"

func isolateProcess(cmd *exec.Cmd) {}
