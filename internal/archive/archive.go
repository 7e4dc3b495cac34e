// Package archive stores raw portal markup under content-addressed names.
package archive

import "context"

// Store writes one archive object and returns its recorded location.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}
