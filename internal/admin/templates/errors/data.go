package errors

// ForbiddenData is the payload of the 403 page.
type ForbiddenData struct {
	SiteTitle string
	Message   string
}
