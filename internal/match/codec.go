package match

import (
	"strings"

	"github.com/timeax/fortiplugin/internal/permission"
)

// Primitives that instantiate arbitrary classes from untrusted payloads
// and therefore require an explicit class allow-list on the grant.
var allowlistPrimitives = map[string]bool{
	"deserialize": true,
}

// Codec decides whether use of a codec primitive is covered by a codec
// grant. A disabled row never authorizes anything. Dangerous primitives
// additionally require a non-empty class allow-list on the row; when the
// request names the class being handled, it must also be on that list.
func Codec(spec permission.CodecSpec, req permission.CodecRequest) (bool, string) {
	if !spec.Access {
		return false, permission.ReasonAccessDisabled
	}
	if !strings.EqualFold(spec.Group, req.Group) {
		return false, permission.ReasonGroupNotAllowed
	}
	if len(spec.Primitives) > 0 && !containsFold(spec.Primitives, req.Primitive) {
		return false, permission.ReasonPrimitiveNotAllowed
	}
	if allowlistPrimitives[strings.ToLower(req.Primitive)] {
		if len(spec.AllowedClasses) == 0 {
			return false, permission.ReasonAllowlistRequired
		}
		if req.Class != "" && !contains(spec.AllowedClasses, req.Class) {
			return false, permission.ReasonClassNotAllowed
		}
	}
	return true, ""
}
