package host

import (
	"github.com/harun/hookhost/pkg/hooks"
	"github.com/harun/hookhost/pkg/plugin"
	"github.com/harun/hookhost/pkg/sandbox"
)

// Lifecycle hooks receive the plugin id as their value
const (
	HookActivate   = "onActivate"
	HookDeactivate = "onDeactivate"
	HookInstall    = "onInstall"
	HookUninstall  = "onUninstall"
)

// Generation pipeline hooks
const (
	HookAgentRequestStart    = "onAgentRequestStart"
	HookGenerationPhaseStart = "onGenerationPhaseStart"
	HookCodeBlockGenerated   = "onCodeBlockGenerated"
	HookAgentError           = "onAgentError"
	HookGenerationComplete   = "onGenerationComplete"
)

// HookBeforeOutboundFetch lets plugins inspect or rewrite outbound requests
const HookBeforeOutboundFetch = "beforeOutboundFetch"

// BuiltinHooks returns the hooks every host declares at construction
func BuiltinHooks() []hooks.Definition {
	return []hooks.Definition{
		{Name: HookActivate, Type: hooks.Action, Description: "A plugin finished activating"},
		{Name: HookDeactivate, Type: hooks.Action, Description: "A plugin is being deactivated"},
		{Name: HookInstall, Type: hooks.Action, Description: "A plugin was registered"},
		{Name: HookUninstall, Type: hooks.Action, Description: "A plugin is being removed"},

		{Name: HookAgentRequestStart, Type: hooks.Filter, Description: "Rewrite an incoming agent request"},
		{Name: HookGenerationPhaseStart, Type: hooks.Filter, Description: "Rewrite the input of a generation phase"},
		{Name: HookCodeBlockGenerated, Type: hooks.Filter, Description: "Rewrite a generated code block"},
		{Name: HookAgentError, Type: hooks.Filter, Description: "Rewrite an agent error before it is reported"},
		{Name: HookGenerationComplete, Type: hooks.Action, Description: "Generation finished"},

		{
			Name:        sandbox.HookBeforeDatabaseQuery,
			Type:        hooks.Filter,
			Resolve:     queryPermission,
			Description: "Rewrite a database query before it runs",
		},
		{
			Name:        sandbox.HookAfterDatabaseQuery,
			Type:        hooks.Action,
			Resolve:     queryPermission,
			Description: "A database query finished",
		},
		{
			Name:        sandbox.HookFileUploaded,
			Type:        hooks.Action,
			Permission:  plugin.PermissionStorageWrite,
			Description: "An object was written to storage",
		},
		{
			Name:        HookBeforeOutboundFetch,
			Type:        hooks.Filter,
			Permission:  plugin.PermissionExternalFetch,
			Description: "Rewrite an outbound network request",
		},
	}
}

// queryPermission requires the permission the dispatched query itself
// would need. Values that are not a recognizable query require write.
func queryPermission(value any) plugin.Permission {
	query, ok := sandbox.QueryFromValue(value)
	if !ok {
		return plugin.PermissionDatabaseWrite
	}
	perm, err := sandbox.Classify(query)
	if err != nil {
		return plugin.PermissionDatabaseWrite
	}
	return perm
}

func declareBuiltins(catalog *hooks.Catalog) error {
	for _, def := range BuiltinHooks() {
		if err := catalog.Declare(def); err != nil {
			return err
		}
	}
	return nil
}
