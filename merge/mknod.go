package merge

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// mknodLike recreates a fifo or device node from the staged image using
// its original mode bits.
// Gentoo/Portage targets Linux exclusively, so syscall.Mknod's Linux
// signature is used directly rather than reaching for a cross-platform
// shim.
func mknodLike(src, dst string, info os.FileInfo) error {
	_ = os.Remove(dst)
	mode := uint32(info.Mode().Perm())
	switch {
	case info.Mode()&os.ModeNamedPipe != 0:
		mode |= syscall.S_IFIFO
	case info.Mode()&os.ModeDevice != 0:
		mode |= syscall.S_IFBLK
		if info.Mode()&os.ModeCharDevice != 0 {
			mode = uint32(info.Mode().Perm()) | syscall.S_IFCHR
		}
	}
	if err := syscall.Mknod(dst, mode, 0); err != nil {
		return errors.Wrapf(err, "mknod %s", dst)
	}
	return nil
}
