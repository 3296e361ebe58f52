package luaplugin

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ErrNotLoaded is returned when calling into a plugin whose state was unloaded
var ErrNotLoaded = errors.New("plugin code is not loaded")

// ScriptError is a Lua error raised by plugin code
type ScriptError struct {
	PluginID string
	Message  string
	Trace    string
	cause    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("plugin %s: %s", e.PluginID, e.Message)
}

// StackTrace returns the Lua traceback captured when the error was raised
func (e *ScriptError) StackTrace() string {
	return e.Trace
}

func (e *ScriptError) Unwrap() error {
	return e.cause
}

func newScriptError(pluginID string, err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &ScriptError{PluginID: pluginID, Message: err.Error(), cause: err}
	}

	message := apiErr.Error()
	if apiErr.Object != nil && apiErr.Object != lua.LNil {
		message = apiErr.Object.String()
	}
	return &ScriptError{
		PluginID: pluginID,
		Message:  message,
		Trace:    apiErr.StackTrace,
		cause:    apiErr.Cause,
	}
}
