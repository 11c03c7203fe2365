package echo

import (
	"fmt"

	"warden/toolkit"
)

type EchoTool struct{}

func (EchoTool) Name() string        { return "echo_tool" }
func (EchoTool) Description() string { return "Repeats the provided text." }
func (EchoTool) InputSchema() map[string]string {
	return map[string]string{"echo": "text to repeat"}
}

func (EchoTool) Execute(kwargs map[string]any) toolkit.Result {
	text, ok := kwargs["echo"].(string)
	if !ok {
		text = "Hello"
	}
	return toolkit.Result{Success: true, Message: fmt.Sprintf("Echo: %s", text)}
}
