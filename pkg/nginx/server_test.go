package nginx

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls   [][]string
	results map[string]error
}

func (f *fakeRunner) Execute(ctx context.Context, name string, args ...string) (string, error) {
	return f.ExecuteEnv(ctx, nil, name, args...)
}

func (f *fakeRunner) ExecuteEnv(_ context.Context, _ []string, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if err, ok := f.results[args[len(args)-1]]; ok {
		return "", err
	}
	return "ok", nil
}

func TestTestConfigAndReload(t *testing.T) {
	run := &fakeRunner{}
	s := NewServer("nginx", "/usr/sbin/nginx", run)

	require.NoError(t, s.TestConfig(context.Background()))
	require.NoError(t, s.Reload(context.Background()))

	require.Len(t, run.calls, 2)
	assert.Equal(t, []string{"/usr/sbin/nginx", "-t"}, run.calls[0])
	assert.Equal(t, []string{"/usr/sbin/nginx", "-s", "reload"}, run.calls[1])
}

func TestTestConfigFailure(t *testing.T) {
	run := &fakeRunner{results: map[string]error{"-t": errors.New("syntax error")}}
	s := NewServer("nginx", "/usr/sbin/nginx", run)

	err := s.TestConfig(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config test failed")
}

func TestReloadMissingBinaryIsNotRetried(t *testing.T) {
	run := &fakeRunner{results: map[string]error{"reload": exec.ErrNotFound}}
	s := NewServer("nginx", "/usr/sbin/nginx", run)

	err := s.Reload(context.Background())
	require.Error(t, err)
	assert.Len(t, run.calls, 1)
}

func TestReloadRetriesOnce(t *testing.T) {
	run := &fakeRunner{results: map[string]error{"reload": errors.New("busy")}}
	s := NewServer("nginx", "/usr/sbin/nginx", run)

	err := s.Reload(context.Background())
	require.Error(t, err)
	// One initial attempt plus one retry.
	assert.Len(t, run.calls, 2)
}
