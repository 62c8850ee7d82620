package safety

// Options are the global safety switches for destructive provider calls.
type Options struct {
	// DryRun reports planned mutations without issuing them.
	DryRun bool
	// Yes answers confirmation prompts affirmatively.
	Yes bool
	// Force skips confirmation like Yes.
	Force bool
}

// Mutates reports whether provider-mutating calls may be issued.
func (o Options) Mutates() bool { return !o.DryRun }
