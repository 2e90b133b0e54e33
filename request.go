package auth

import (
	"net/http"
	"net/url"
	"regexp"
)

// Request is the host-provided view of one inbound request: the
// resolved page id, submitted data, and the caller's address. The
// transport itself stays with the host.
type Request struct {
	PageID     string
	Method     string
	Form       url.Values
	Query      url.Values
	RemoteAddr string
}

// IsPost reports whether the request is a form submission.
func (r *Request) IsPost() bool { return r.Method == http.MethodPost }

func (r *Request) FormValue(name string) string {
	if r.Form == nil {
		return ""
	}
	return r.Form.Get(name)
}

func (r *Request) QueryValue(name string) string {
	if r.Query == nil {
		return ""
	}
	return r.Query.Get(name)
}

var pageIDPattern = regexp.MustCompile(`^(?:[a-zA-Z0-9_-]+/)*[a-zA-Z0-9_-]+$`)

// ValidPageID reports whether s is a safe internal page id: slash
// separated word segments, no leading or trailing slash, nothing that
// could form an absolute or protocol-relative URL.
func ValidPageID(s string) bool {
	return pageIDPattern.MatchString(s)
}

// Flash message types shared by all modules.
const (
	FlashError   = "error"
	FlashSuccess = "success"
	FlashOld     = "old"
)

// Response accumulates the outcome of a request for the host to render:
// a redirect, a status with optional alternate content file, and named
// output values for templates. Halt stops further module processing.
type Response struct {
	status        int
	redirectPage  string
	redirectQuery url.Values
	redirectSet   bool
	redirectURL   string
	contentFile   string
	outputs       map[string]any
	allowed       map[string]bool
	halted        bool
}

func NewResponse() *Response {
	return &Response{
		outputs: make(map[string]any),
		allowed: make(map[string]bool),
	}
}

// RedirectToPage records a redirect to an internal page id with
// optional query parameters. The last call wins.
func (r *Response) RedirectToPage(page string, query url.Values) {
	r.redirectPage = page
	r.redirectQuery = query
	r.redirectSet = true
}

// Redirect returns the recorded redirect target, if any.
func (r *Response) Redirect() (page string, query url.Values, ok bool) {
	return r.redirectPage, r.redirectQuery, r.redirectSet
}

// RedirectToURL records a redirect to an absolute external URL, for
// flows that leave the site entirely (identity provider handoff). It
// takes precedence over a page redirect and halts further processing.
func (r *Response) RedirectToURL(u string) {
	r.redirectURL = u
	r.redirectSet = true
	r.halted = true
}

// RedirectURL returns the recorded external redirect, if any.
func (r *Response) RedirectURL() string { return r.redirectURL }

func (r *Response) SetStatus(code int) { r.status = code }
func (r *Response) Status() int        { return r.status }

// SetContentFile points the host at alternate content to render
// instead of the requested page, used for 403 states.
func (r *Response) SetContentFile(path string) { r.contentFile = path }
func (r *Response) ContentFile() string        { return r.contentFile }

// Output publishes a named value to the host's template scope.
func (r *Response) Output(name string, value any) { r.outputs[name] = value }

func (r *Response) Outputs() map[string]any { return r.outputs }

// AddAllowed exempts a page from this request's authorization pass,
// for pages a module itself serves (login form, lock form).
func (r *Response) AddAllowed(page string) { r.allowed[page] = true }

func (r *Response) Allowed(page string) bool { return r.allowed[page] }

// Halt stops dispatching to further modules for this request.
func (r *Response) Halt()        { r.halted = true }
func (r *Response) Halted() bool { return r.halted }
