package checkout

// CreateRequest starts a checkout for either a curated package or a custom
// credit amount. Exactly one of PackageID and Credits should be set.
type CreateRequest struct {
	PackageID    string `json:"package_id" validate:"omitempty,uuid"`
	Credits      int64  `json:"credits" validate:"omitempty,min=10,max=1000000"`
	UseRetention bool   `json:"use_retention"`
}

// Session is the provider checkout handed back to the client for redirect.
type Session struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Quote Quote  `json:"quote"`
}
