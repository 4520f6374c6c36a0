package document

import "errors"

// ErrDocumentNotFound indicates the document doesn't exist.
var ErrDocumentNotFound = errors.New("document not found")
