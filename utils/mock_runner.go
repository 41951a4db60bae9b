package utils

import "context"

// MockRunner records every invocation (binary first, then args) and returns
// preconfigured responses. Set RunFn for per-call responses.
type MockRunner struct {
	Calls [][]string
	Out   string
	Err   error
	RunFn func(bin string, args []string) (string, error)
}

func (m *MockRunner) Run(_ context.Context, bin string, args ...string) (string, error) {
	m.Calls = append(m.Calls, append([]string{bin}, args...))
	if m.RunFn != nil {
		return m.RunFn(bin, args)
	}
	return m.Out, m.Err
}
