package registry

// DefaultKeyPrefix is used when no key prefix is configured.
const DefaultKeyPrefix = "sharpserver"

// Keys builds registry key names under a common prefix.
//
// Layout:
//
//	<prefix>/service/<name>/<id>  -> JSON ServiceInstance
//	<prefix>/index/<id>           -> <name>
//	<prefix>/list/<name>          -> set of ids (Redis only)
type Keys struct {
	prefix string
}

// NewKeys creates a key builder for the given prefix.
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return Keys{prefix: prefix}
}

// Service returns the name-scoped record key for an instance.
func (k Keys) Service(serviceName, serviceID string) string {
	return k.prefix + "/service/" + serviceName + "/" + serviceID
}

// ServicePrefix returns the range prefix for all instances of a service.
func (k Keys) ServicePrefix(serviceName string) string {
	return k.prefix + "/service/" + serviceName + "/"
}

// Index returns the reverse-index key mapping an id to its service name.
func (k Keys) Index(serviceID string) string {
	return k.prefix + "/index/" + serviceID
}

// List returns the key of the id set kept per service name (Redis only).
func (k Keys) List(serviceName string) string {
	return k.prefix + "/list/" + serviceName
}
