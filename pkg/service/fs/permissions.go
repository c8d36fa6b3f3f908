package fs

import (
	"fmt"
	"os"
)

// Permissions is the owner/group/other x read/write/execute matrix.
// Values are comparable with ==.
type Permissions struct {
	UserRead, UserWrite, UserExec    bool
	GroupRead, GroupWrite, GroupExec bool
	OtherRead, OtherWrite, OtherExec bool
}

// NewPermissions builds a matrix from explicit bits, in ls order.
func NewPermissions(ur, uw, ux, gr, gw, gx, or, ow, ox bool) Permissions {
	return Permissions{
		UserRead: ur, UserWrite: uw, UserExec: ux,
		GroupRead: gr, GroupWrite: gw, GroupExec: gx,
		OtherRead: or, OtherWrite: ow, OtherExec: ox,
	}
}

// ParsePermissions reads a 10-character symbolic string such as "drwxr-x---".
// The first character is the entry type and is ignored. Setuid, setgid and
// sticky markers count as execute when lowercase.
func ParsePermissions(s string) (Permissions, error) {
	if len(s) < 10 {
		return Permissions{}, fmt.Errorf("permission string %q: want 10 characters", s)
	}
	bits := s[1:10]
	for i := 0; i < 9; i++ {
		c := bits[i]
		if c == '-' {
			continue
		}
		switch i % 3 {
		case 0:
			if c != 'r' {
				return Permissions{}, fmt.Errorf("permission string %q: bad read flag %q", s, c)
			}
		case 1:
			if c != 'w' {
				return Permissions{}, fmt.Errorf("permission string %q: bad write flag %q", s, c)
			}
		case 2:
			switch c {
			case 'x', 's', 'S', 't', 'T':
			default:
				return Permissions{}, fmt.Errorf("permission string %q: bad execute flag %q", s, c)
			}
		}
	}
	exec := func(c byte) bool { return c == 'x' || c == 's' || c == 't' }
	return NewPermissions(
		bits[0] == 'r', bits[1] == 'w', exec(bits[2]),
		bits[3] == 'r', bits[4] == 'w', exec(bits[5]),
		bits[6] == 'r', bits[7] == 'w', exec(bits[8]),
	), nil
}

// PermissionsFromMode projects the permission bits of m.
func PermissionsFromMode(m os.FileMode) Permissions {
	return NewPermissions(
		m&0o400 != 0, m&0o200 != 0, m&0o100 != 0,
		m&0o040 != 0, m&0o020 != 0, m&0o010 != 0,
		m&0o004 != 0, m&0o002 != 0, m&0o001 != 0,
	)
}

// Mode returns the permission bits as an os.FileMode.
func (p Permissions) Mode() os.FileMode {
	var m os.FileMode
	flags := []bool{
		p.UserRead, p.UserWrite, p.UserExec,
		p.GroupRead, p.GroupWrite, p.GroupExec,
		p.OtherRead, p.OtherWrite, p.OtherExec,
	}
	for i, set := range flags {
		if set {
			m |= 1 << (8 - i)
		}
	}
	return m
}

// Octal returns the three-digit octal form used by chmod, e.g. "755".
func (p Permissions) Octal() string {
	return fmt.Sprintf("%03o", uint32(p.Mode()))
}

// String returns the nine-character symbolic form, e.g. "rwxr-xr-x".
func (p Permissions) String() string {
	const rwx = "rwxrwxrwx"
	m := p.Mode()
	b := []byte("---------")
	for i := 0; i < 9; i++ {
		if m&(1<<(8-i)) != 0 {
			b[i] = rwx[i]
		}
	}
	return string(b)
}
