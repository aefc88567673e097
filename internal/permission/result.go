package permission

// Deny reasons. Checkers return the most specific reason produced while
// scanning candidate grants; infrastructure faults always resolve to a
// deny, never a silent allow.
const (
	ReasonNoPermission          = "no_matching_permission"
	ReasonAccessDisabled        = "access_disabled"
	ReasonWindowExpired         = "window_expired"
	ReasonConditionsNotMet      = "conditions_not_met"
	ReasonMethodNotAllowed      = "method_not_allowed"
	ReasonSchemeNotAllowed      = "scheme_not_allowed"
	ReasonHostNotAllowed        = "host_not_allowed"
	ReasonPortNotAllowed        = "port_not_allowed"
	ReasonPathNotAllowed        = "path_not_allowed"
	ReasonSandboxEscape         = "sandbox_escape"
	ReasonInvalidSandboxRoot    = "invalid_sandbox_root"
	ReasonActionNotAllowed      = "action_not_allowed"
	ReasonColumnsNotAllowed     = "columns_not_allowed"
	ReasonColumnsNotWritable    = "columns_not_writable"
	ReasonModelNotAllowed       = "model_not_allowed"
	ReasonChannelNotAllowed     = "channel_not_allowed"
	ReasonTemplateNotAllowed    = "template_not_allowed"
	ReasonRecipientNotAllowed   = "recipient_not_allowed"
	ReasonModuleNotAllowed      = "module_not_allowed"
	ReasonAPINotAllowed         = "api_not_allowed"
	ReasonGroupNotAllowed       = "group_not_allowed"
	ReasonPrimitiveNotAllowed   = "primitive_not_allowed"
	ReasonClassNotAllowed       = "class_not_allowed"
	ReasonAllowlistRequired     = "deserialize_allowlist_required"
	ReasonRouteNotApproved      = "route_not_approved"
	ReasonGuardMismatch         = "guard_mismatch"
	ReasonCheckTimeout          = "check_timeout"
	ReasonCapabilityUnavailable = "capability_unavailable"
	ReasonUnknownType           = "unknown_permission_type"
)

// Matched identifies the concrete row (or route approval) that allowed a
// request.
type Matched struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

// Result is a single authorization decision.
type Result struct {
	Allowed bool           `json:"allowed"`
	Reason  string         `json:"reason,omitempty"`
	Matched *Matched       `json:"matched,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Allow builds an allowing result pointing at the matched grant.
func Allow(t Type, id string, ctx map[string]any) Result {
	return Result{Allowed: true, Matched: &Matched{Type: t, ID: id}, Context: ctx}
}

// Deny builds a denying result with a machine-readable reason.
func Deny(reason string, ctx map[string]any) Result {
	return Result{Allowed: false, Reason: reason, Context: ctx}
}
