package types

// Visibility is the canned ACL applied to an uploaded object.
type Visibility string

const (
	VisibilityPublicRead Visibility = "public-read"
	VisibilityPrivate    Visibility = "private"
)

// Content types used for uploaded objects.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)
