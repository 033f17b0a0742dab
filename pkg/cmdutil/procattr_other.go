//go:build !unix

package cmdutil

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}
