package dashboard

// PageData is the payload of the admin index page.
type PageData struct {
	Title       string
	Environment string
	UserLabel   string
	LogoutURL   string
	CSRFToken   string
	Views       []ViewEntry
}

// ViewEntry is one registered admin view listed on the index.
type ViewEntry struct {
	Name string
	Path string
	Doc  string
}
