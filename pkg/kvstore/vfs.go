package kvstore

import "github.com/cockroachdb/pebble/vfs"

// vfsMemFS backs an in-memory Engine (Config.InMemory) with Pebble's own
// in-memory filesystem, used by tests that don't want a directory on
// disk.
func vfsMemFS() vfs.FS {
	return vfs.NewMem()
}
