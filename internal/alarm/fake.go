package alarm

// FakeOutput is a test double that records relay changes.
type FakeOutput struct {
	// States holds every value passed to Set, in order.
	States []bool

	// SetError, if set, will be returned by Set.
	SetError error

	Closed bool
}

// Set records on.
func (f *FakeOutput) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.States = append(f.States, on)
	return nil
}

// On reports the last value set.
func (f *FakeOutput) On() bool {
	return len(f.States) > 0 && f.States[len(f.States)-1]
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.Closed = true
	return nil
}
