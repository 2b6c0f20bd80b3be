package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// routes maps the public API paths onto audit vocabulary.
var routes = map[string]ActionResource{
	"/v1/register":                {Action: "register", Resource: "account"},
	"/v1/login":                   {Action: "login", Resource: "session"},
	"/v1/otp":                     {Action: "create", Resource: "otp"},
	"/v1/otp/verify":              {Action: "verify", Resource: "otp"},
	"/v1/token/validate":          {Action: "validate", Resource: "token"},
	"/v1/token/refresh":           {Action: "refresh", Resource: "token"},
	"/v1/password/change-request": {Action: "change_request", Resource: "password"},
}

// ParseRoute returns action and resource for an HTTP method and path (e.g. POST /v1/otp/verify).
// Unknown paths fall back to the lowercased method and the first path segment after the version.
func ParseRoute(method, path string) ActionResource {
	path = strings.TrimSuffix(path, "/")
	if ar, ok := routes[path]; ok {
		return ar
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segs) > 0 && strings.HasPrefix(segs[0], "v") && len(segs) > 1 {
		segs = segs[1:]
	}
	resource := "unknown"
	if len(segs) > 0 && segs[0] != "" {
		resource = segs[0]
	}
	return ActionResource{Action: strings.ToLower(method), Resource: resource}
}
