// Package pyexec runs the inline Python scripts that wrap the model backends.
package pyexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// FindPython returns the interpreter path to use. An explicit path wins,
// then python3, then python from PATH.
func FindPython(explicit string) (string, error) {
	if explicit != "" {
		return exec.LookPath(explicit)
	}
	path, err := exec.LookPath("python3")
	if err == nil {
		return path, nil
	}
	path, err = exec.LookPath("python")
	if err != nil {
		return "", fmt.Errorf("python executable not found in PATH: %w", err)
	}
	return path, nil
}

// CheckModule verifies that module can be imported by the interpreter.
func CheckModule(ctx context.Context, python, module string) error {
	// #nosec G204 - interpreter and module names come from server configuration
	cmd := exec.CommandContext(ctx, python, "-c", "import "+module)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("python module %s not installed: %w", module, err)
	}
	return nil
}

// Run executes script with args and returns its stdout. Stderr is included
// in the error when the script fails.
func Run(ctx context.Context, python, script string, args ...string) ([]byte, error) {
	// #nosec G204 - script is generated by this package, not taken from user input
	cmd := exec.CommandContext(ctx, python, append([]string{"-c", script}, args...)...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		stderr := strings.TrimSpace(errBuf.String())
		logrus.WithFields(logrus.Fields{
			"error":  err,
			"stderr": stderr,
		}).Error("Python backend failed")
		if stderr != "" {
			return nil, fmt.Errorf("%w: %s", err, lastLine(stderr))
		}
		return nil, err
	}
	return outBuf.Bytes(), nil
}

// Quote renders s as a Python string literal, or None when empty.
func Quote(s string) string {
	if s == "" {
		return "None"
	}
	return strconv.Quote(s)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
