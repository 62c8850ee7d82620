package safety

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks the operator before a destructive sweep.
// Dry-run always declines without prompting; Yes or Force accept without
// prompting. Otherwise one line is read from in and only y/yes accepts.
// Reaching EOF without an answer declines.
func Confirm(opts Options, in io.Reader, out io.Writer, question string) (bool, error) {
	if opts.DryRun {
		return false, nil
	}
	if opts.Yes || opts.Force {
		return true, nil
	}
	if out != nil {
		fmt.Fprintf(out, "%s [y/N]: ", strings.TrimSpace(question))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
