package enforcement

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"ddos-guard/internal/utils"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recordedCall struct {
	name string
	args []string
}

func TestCommandGateway_ExpandsTemplate(t *testing.T) {
	gw, err := NewCommandGateway(
		[]string{"iptables", "-I", "INPUT", "-s", "{ip}", "-j", "DROP"},
		[]string{"iptables", "-D", "INPUT", "-s", "{ip}", "-j", "DROP"},
		time.Second, quietLogger())
	require.NoError(t, err)

	var calls []recordedCall
	gw.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, recordedCall{name: name, args: args})
		return nil, nil
	}

	res := gw.Block(context.Background(), "10.0.0.1")
	assert.True(t, res.OK())
	assert.Equal(t, ActionBlock, res.Action)
	assert.Equal(t, "command", res.Backend)

	res = gw.Unblock(context.Background(), "10.0.0.1")
	assert.True(t, res.OK())

	require.Len(t, calls, 2)
	assert.Equal(t, "iptables", calls[0].name)
	assert.Equal(t, []string{"-I", "INPUT", "-s", "10.0.0.1", "-j", "DROP"}, calls[0].args)
	assert.Equal(t, []string{"-D", "INPUT", "-s", "10.0.0.1", "-j", "DROP"}, calls[1].args)
}

func TestCommandGateway_FailureCarriesOutput(t *testing.T) {
	gw, err := NewCommandGateway(nil, nil, time.Second, quietLogger())
	require.NoError(t, err)
	gw.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("Permission denied (you must be root)\n"), errors.New("exit status 4")
	}

	res := gw.Block(context.Background(), "10.0.0.1")
	require.False(t, res.OK())
	assert.Contains(t, res.Err.Error(), "Permission denied")
	assert.ErrorIs(t, res.Error(), ErrEnforcement)
}

func TestCommandGateway_RejectsInvalidSource(t *testing.T) {
	gw, err := NewCommandGateway(nil, nil, time.Second, quietLogger())
	require.NoError(t, err)
	called := false
	gw.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		called = true
		return nil, nil
	}

	res := gw.Block(context.Background(), "1.2.3.4; rm -rf /")
	assert.ErrorIs(t, res.Err, ErrInvalidSource)
	assert.False(t, called)
}

func TestNewCommandGateway_RequiresPlaceholder(t *testing.T) {
	_, err := NewCommandGateway([]string{"true"}, []string{"true"}, time.Second, quietLogger())
	assert.Error(t, err)
}

func TestNoopGateway(t *testing.T) {
	gw := NewNoopGateway(quietLogger())

	assert.True(t, gw.Block(context.Background(), "2001:db8::1").OK())
	assert.True(t, gw.Unblock(context.Background(), "10.0.0.1").OK())
	assert.ErrorIs(t, gw.Block(context.Background(), "not-an-ip").Err, ErrInvalidSource)
}

func TestNewFromConfig(t *testing.T) {
	gw, err := NewFromConfig(utils.EnforcementYAMLConfig{Backend: "noop"}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "noop", gw.Name())

	gw, err = NewFromConfig(utils.EnforcementYAMLConfig{Backend: "nftables", DryRun: true}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "noop", gw.Name())

	gw, err = NewFromConfig(utils.EnforcementYAMLConfig{Backend: "command", TimeoutSeconds: 2}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "command", gw.Name())

	_, err = NewFromConfig(utils.EnforcementYAMLConfig{Backend: "pf"}, quietLogger())
	assert.Error(t, err)
}
