package match

import (
	"strings"

	"github.com/timeax/fortiplugin/internal/permission"
)

// Column-less actions pass the column policy unconditionally.
var columnlessActions = map[string]bool{
	"delete":          true,
	"truncate":        true,
	"grouped_queries": true,
}

// DB decides whether a database action is covered by a db grant: model
// must match, the action must be granted, and the requested columns must
// satisfy the column policy.
func DB(spec permission.DBSpec, req permission.DBRequest) (bool, string) {
	if !spec.Access {
		return false, permission.ReasonAccessDisabled
	}
	if !strings.EqualFold(spec.Model, req.Model) {
		return false, permission.ReasonModelNotAllowed
	}
	if len(spec.Actions) > 0 && !containsFold(spec.Actions, req.Action) {
		return false, permission.ReasonActionNotAllowed
	}
	return Columns(req.Action, req.Columns, spec.AllColumns, spec.WritableColumns)
}

// Columns enforces the column-subset policy. A nil catalog list is
// unknown and imposes no constraint. Selects must be a subset of the
// full column list; inserts and updates must be a subset of both the
// writable and the full list.
func Columns(action string, columns, all, writable []string) (bool, string) {
	action = strings.ToLower(action)
	if columnlessActions[action] {
		return true, ""
	}
	switch action {
	case "select":
		if all != nil && !subset(columns, all) {
			return false, permission.ReasonColumnsNotAllowed
		}
	case "insert", "update":
		if writable != nil && !subset(columns, writable) {
			return false, permission.ReasonColumnsNotWritable
		}
		if all != nil && !subset(columns, all) {
			return false, permission.ReasonColumnsNotAllowed
		}
	}
	return true, ""
}

func subset(cols, allowed []string) bool {
	for _, c := range cols {
		if !contains(allowed, c) {
			return false
		}
	}
	return true
}
