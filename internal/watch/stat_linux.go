package watch

import (
	"os"
	"syscall"
)

// inoOf extracts the inode number used for the simfs move/delete
// workaround (spec.md §4.3, grounded on the original `watch_files.py`
// behavior of recording inode per path and comparing on ATTRIB events).
func inoOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
