// Package protocol describes how endpoint bundles expose their routes.
package protocol

import "net/http"

// EndpointRoute binds a handler to one method and path.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Endpoint groups related routes under a name used in logs.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
