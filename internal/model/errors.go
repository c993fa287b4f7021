package model

import "errors"

// Dispatch error taxonomy. These are matched with errors.Is at the API
// boundary: MissingAttribute and BadRequest map to 400, NotFound to 404.
var (
	ErrMissingAttribute = errors.New("missing attribute")
	ErrBadRequest       = errors.New("bad request")
	ErrNotFound         = errors.New("not found")
)
