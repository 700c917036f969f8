package downloader

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrDiskFull is returned by checkFreeSpace when the output filesystem has
// less free space than the configured floor. Unlike a transient network
// error, this is fatal for the file: retrying the fetch without anything
// else changing on disk can only make the shortfall worse.
var ErrDiskFull = fmt.Errorf("insufficient free disk space")

// checkFreeSpace statfs's the filesystem backing destPath's directory and
// fails fast if free space is below minFree, rather than letting a fetch
// run for minutes before failing on a short write.
func checkFreeSpace(destPath string, minFree int64) error {
	if minFree <= 0 {
		return nil
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(destPath), &stat); err != nil {
		// Can't determine free space (directory doesn't exist yet, etc.);
		// let the actual write surface the real error instead of blocking
		// on a preflight check that can't run.
		return nil
	}

	free := int64(stat.Bavail) * int64(stat.Bsize)
	if free < minFree {
		return fmt.Errorf("%w: %d bytes free, need at least %d", ErrDiskFull, free, minFree)
	}
	return nil
}
