package auth

// Module is the minimal capability every registered module has.
// Functional capabilities are expressed by the optional interfaces
// below; the Plugin type-switches on them during dispatch.
type Module interface {
	Name() string
}

// RequestHandler is a module that reacts to routed requests: serving
// its own pages and processing its form submissions.
type RequestHandler interface {
	Module
	HandleRequest(c *Context) error
}

// AccessController is a module that restricts access to pages.
// CheckAccess answers the pure question; DenyAccessIfRestricted
// additionally applies the outcome to the response (redirect to login,
// 403 with alternate content) when access is denied.
type AccessController interface {
	Module
	CheckAccess(c *Context, pageID string) bool
	DenyAccessIfRestricted(c *Context, pageID string) error
}
