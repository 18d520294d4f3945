//go:build !cgo

package sqlite

import _ "modernc.org/sqlite"

// Without cgo the pure Go driver serves the same schema.
const driverName = "sqlite"
