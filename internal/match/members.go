package match

import "github.com/timeax/fortiplugin/internal/permission"

// Notification decides whether sending a notification is covered by a
// grant. Empty lists on the grant impose no constraint on that axis.
func Notification(spec permission.NotificationSpec, req permission.NotificationRequest) (bool, string) {
	if !spec.Access {
		return false, permission.ReasonAccessDisabled
	}
	if len(spec.Channels) > 0 && !containsFold(spec.Channels, req.Channel) {
		return false, permission.ReasonChannelNotAllowed
	}
	if len(spec.Templates) > 0 && !containsFold(spec.Templates, req.Template) {
		return false, permission.ReasonTemplateNotAllowed
	}
	if len(spec.Recipients) > 0 && !contains(spec.Recipients, req.Recipient) {
		return false, permission.ReasonRecipientNotAllowed
	}
	return true, ""
}

// Module decides whether a host-module API call is covered by a grant.
// An empty API list grants the whole module.
func Module(spec permission.ModuleSpec, req permission.ModuleRequest) (bool, string) {
	if !spec.Access {
		return false, permission.ReasonAccessDisabled
	}
	if !containsFold([]string{spec.Module}, req.Module) {
		return false, permission.ReasonModuleNotAllowed
	}
	if len(spec.APIs) > 0 && !containsFold(spec.APIs, req.API) {
		return false, permission.ReasonAPINotAllowed
	}
	return true, ""
}
