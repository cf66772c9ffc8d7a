package aws

import (
	"fmt"
	"strings"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
)

// ctlPath is the host-side maintenance helper installed by the deployment
// templates. Every privileged instruction goes through it rather than
// ad-hoc shell.
const ctlPath = "/usr/local/bin/nbdeploy-ctl"

// instructionSpec describes how one instruction becomes a ctl invocation.
type instructionSpec struct {
	// args are the fixed ctl arguments.
	args []string

	// listParam names a comma-separated parameter whose values are
	// appended as separate arguments.
	listParam string

	// strParam names a single-value parameter appended as one argument.
	strParam string
}

var instructions = map[string]instructionSpec{
	"server.status":  {args: []string{"server", "status"}},
	"server.start":   {args: []string{"server", "start"}},
	"server.stop":    {args: []string{"server", "stop"}},
	"server.restart": {args: []string{"server", "restart"}},

	"users.add":    {args: []string{"users", "add"}, listParam: "usernames"},
	"users.remove": {args: []string{"users", "remove"}, listParam: "usernames"},
	"users.set":    {args: []string{"users", "set"}, listParam: "usernames"},
	"users.list":   {args: []string{"users", "list"}},

	"teams.add":    {args: []string{"teams", "add"}, listParam: "teams"},
	"teams.remove": {args: []string{"teams", "remove"}, listParam: "teams"},
	"teams.list":   {args: []string{"teams", "list"}},

	"organization.set":  {args: []string{"organization", "set"}, strParam: "organization"},
	"organization.show": {args: []string{"organization", "show"}},

	"cookies.reset": {args: []string{"cookies", "reset"}},
}

// buildCommands renders an instruction into the shell lines sent through the
// run-shell document. Unknown instruction names are rejected rather than
// executed.
func buildCommands(name string, params map[string]string) ([]string, error) {
	spec, ok := instructions[name]
	if !ok {
		return nil, deployerr.NewValidation(
			fmt.Sprintf("unknown remote instruction %q", name), nil)
	}

	argv := append([]string{"sudo", ctlPath}, spec.args...)

	if spec.listParam != "" {
		var values []string
		for _, v := range strings.Split(params[spec.listParam], ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, shellQuote(v))
			}
		}
		if len(values) == 0 {
			return nil, deployerr.NewValidation(
				fmt.Sprintf("instruction %q requires parameter %q", name, spec.listParam), nil)
		}
		argv = append(argv, values...)
	}
	if spec.strParam != "" {
		v, ok := params[spec.strParam]
		if !ok || strings.TrimSpace(v) == "" {
			return nil, deployerr.NewValidation(
				fmt.Sprintf("instruction %q requires parameter %q", name, spec.strParam), nil)
		}
		argv = append(argv, shellQuote(strings.TrimSpace(v)))
	}

	return []string{strings.Join(argv, " ")}, nil
}

// shellQuote single-quotes a value for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
