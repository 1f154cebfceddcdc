//go:build !cgo

package sqlite

const cgoAvailable = false
