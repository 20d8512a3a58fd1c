package dispatch

import (
	"fmt"
	"strconv"
	"strings"
)

// AgentCommand constructs the argv for the external agent CLI per spec.md
// §6.3: `<cli> --agent <name> --message <prompt> --timeout <sec> --thinking
// <tier>`. cli is the configured agent binary (General.AgentCLI).
func AgentCommand(cli, agent, message string, timeoutSec int, thinking string) ([]string, error) {
	cli = strings.TrimSpace(cli)
	if cli == "" {
		return nil, fmt.Errorf("command builder: agent cli is required")
	}
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, fmt.Errorf("command builder: agent name is required")
	}
	if strings.ContainsRune(message, '\x00') {
		return nil, fmt.Errorf("command builder: message contains NUL byte")
	}
	if timeoutSec <= 0 {
		return nil, fmt.Errorf("command builder: timeout must be positive, got %d", timeoutSec)
	}
	if ThinkingRank(thinking) < 0 {
		return nil, fmt.Errorf("command builder: unsupported thinking tier %q", thinking)
	}

	return []string{
		cli,
		"--agent", agent,
		"--message", message,
		"--timeout", strconv.Itoa(timeoutSec),
		"--thinking", thinking,
	}, nil
}
