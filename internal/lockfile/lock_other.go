//go:build !unix && !windows

package lockfile

import "os"

// No advisory locking here; a second daemon is not detected.
func flockExclusive(f *os.File) error { return nil }

func flockUnlock(f *os.File) error { return nil }
