package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// PipeWire lists capture ports through pw-link.
type PipeWire struct {
	binary string
}

// NewPipeWire creates a PipeWire port lister.
func NewPipeWire() *PipeWire {
	return &PipeWire{binary: "pw-link"}
}

// ListSources returns the output ports that can feed a capture, such as
// microphones and monitors.
func (pw *PipeWire) ListSources() ([]string, error) {
	output, err := exec.Command(pw.binary, "-o").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

// ValidateSource checks that name is present exactly once in sources.
func ValidateSource(name string, sources []string) error {
	if name == "" || name == "default" {
		return nil
	}

	count := 0
	for _, s := range sources {
		if s == name {
			count++
		}
	}

	switch {
	case count == 0:
		return fmt.Errorf("source not found: %s", name)
	case count > 1:
		return fmt.Errorf("duplicate sources detected for '%s'. Please close conflicting applications", name)
	}
	return nil
}

func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}
