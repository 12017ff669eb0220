// Package db holds the types shared by the document backends.
package db

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrClosed   = errors.New("backend closed")
)

// Record is one stored document body.
type Record struct {
	ID        string
	Body      []byte
	UpdatedAt time.Time
}

// Change reports a document mutation observed by a backend watcher.
type Change struct {
	User       string
	Collection string
	ID         string
	Deleted    bool
}
