//go:build linux

package fs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var fsMagicNames = map[int64]string{
	unix.EXT4_SUPER_MAGIC:      "ext2/ext3",
	unix.BTRFS_SUPER_MAGIC:     "btrfs",
	unix.XFS_SUPER_MAGIC:       "xfs",
	unix.TMPFS_MAGIC:           "tmpfs",
	unix.NFS_SUPER_MAGIC:       "nfs",
	unix.OVERLAYFS_SUPER_MAGIC: "overlayfs",
	unix.PROC_SUPER_MAGIC:      "proc",
	unix.SYSFS_MAGIC:           "sysfs",
	unix.MSDOS_SUPER_MAGIC:     "msdos",
	unix.SQUASHFS_MAGIC:        "squashfs",
	unix.RAMFS_MAGIC:           "ramfs",
	unix.CGROUP2_SUPER_MAGIC:   "cgroup2fs",
	unix.F2FS_SUPER_MAGIC:      "f2fs",
	0x65735546:                 "fuseblk",
}

// statfsType names the filesystem holding p the way stat -f -c %T does.
func statfsType(p string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return "", fmt.Errorf("statfs %s: %w", p, err)
	}
	if name, ok := fsMagicNames[int64(st.Type)]; ok {
		return name, nil
	}
	return fmt.Sprintf("UNKNOWN (0x%x)", st.Type), nil
}
