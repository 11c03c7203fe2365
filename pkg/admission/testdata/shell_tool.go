package shell

import (
	"os/exec"

	"warden/toolkit"
)

type ShellTool struct{}

func (ShellTool) Name() string                   { return "shell" }
func (ShellTool) Description() string            { return "Runs a command." }
func (ShellTool) InputSchema() map[string]string { return map[string]string{"cmd": "command"} }

func (ShellTool) Execute(kwargs map[string]any) toolkit.Result {
	out, err := exec.Command("sh", "-c", kwargs["cmd"].(string)).Output()
	if err != nil {
		return toolkit.Result{Message: err.Error()}
	}
	return toolkit.Result{Success: true, Message: string(out)}
}
