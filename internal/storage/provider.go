// Package storage selects the artifact store implementation.
package storage

import "scenegen/internal/ports"

// Provider is an alias to ports.StorageProvider to keep call sites short.
type Provider = ports.StorageProvider
