package enforcement

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"ddos-guard/internal/model"

	"github.com/sirupsen/logrus"
)

const ipPlaceholder = "{ip}"

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandGateway shells out to a firewall CLI (iptables, netsh, pfctl...).
// Each argv template may contain {ip}, replaced by the source address.
type CommandGateway struct {
	blockArgs   []string
	unblockArgs []string
	timeout     time.Duration
	run         commandRunner
	logger      *logrus.Logger
	mu          sync.Mutex
}

// DefaultCommands returns the block/unblock argv templates for the host OS.
func DefaultCommands() (block, unblock []string) {
	if runtime.GOOS == "windows" {
		return []string{"netsh", "advfirewall", "firewall", "add", "rule", "name=Block {ip}", "dir=in", "action=block", "remoteip={ip}"},
			[]string{"netsh", "advfirewall", "firewall", "delete", "rule", "name=Block {ip}"}
	}
	return []string{"iptables", "-I", "INPUT", "-s", "{ip}", "-j", "DROP"},
		[]string{"iptables", "-D", "INPUT", "-s", "{ip}", "-j", "DROP"}
}

func NewCommandGateway(blockArgs, unblockArgs []string, timeout time.Duration, logger *logrus.Logger) (*CommandGateway, error) {
	if len(blockArgs) == 0 || len(unblockArgs) == 0 {
		defBlock, defUnblock := DefaultCommands()
		if len(blockArgs) == 0 {
			blockArgs = defBlock
		}
		if len(unblockArgs) == 0 {
			unblockArgs = defUnblock
		}
	}
	if !containsPlaceholder(blockArgs) || !containsPlaceholder(unblockArgs) {
		return nil, fmt.Errorf("command templates must reference %s", ipPlaceholder)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CommandGateway{
		blockArgs:   blockArgs,
		unblockArgs: unblockArgs,
		timeout:     timeout,
		run:         execRunner,
		logger:      logger,
	}, nil
}

func (g *CommandGateway) Name() string {
	return "command"
}

func (g *CommandGateway) Block(ctx context.Context, source model.SourceIdentifier) Result {
	return g.exec(ctx, ActionBlock, source, g.blockArgs)
}

func (g *CommandGateway) Unblock(ctx context.Context, source model.SourceIdentifier) Result {
	return g.exec(ctx, ActionUnblock, source, g.unblockArgs)
}

func (g *CommandGateway) exec(ctx context.Context, action Action, source model.SourceIdentifier, template []string) Result {
	start := time.Now()
	if source.IP() == nil {
		return newResult(action, source, g.Name(), start, ErrInvalidSource)
	}

	// the address is passed as a discrete argv element, never through a shell
	argv := expand(template, source.String())

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.mu.Lock()
	output, err := g.run(ctx, argv[0], argv[1:]...)
	g.mu.Unlock()

	if err != nil {
		out := strings.TrimSpace(string(output))
		if out != "" {
			err = fmt.Errorf("%s: %v: %s", argv[0], err, out)
		} else {
			err = fmt.Errorf("%s: %v", argv[0], err)
		}
		return newResult(action, source, g.Name(), start, err)
	}

	g.logger.Debugf("%s %s: %s", action, source, strings.Join(argv, " "))
	return newResult(action, source, g.Name(), start, nil)
}

func expand(template []string, ip string) []string {
	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = strings.ReplaceAll(arg, ipPlaceholder, ip)
	}
	return argv
}

func containsPlaceholder(args []string) bool {
	for _, arg := range args {
		if strings.Contains(arg, ipPlaceholder) {
			return true
		}
	}
	return false
}
