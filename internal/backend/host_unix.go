//go:build linux || darwin || freebsd || netbsd || openbsd

package backend

import "golang.org/x/sys/unix"

func hostIdentity() []string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return nil
	}
	return []string{
		"kernel=" + unix.ByteSliceToString(u.Sysname[:]) + " " + unix.ByteSliceToString(u.Release[:]),
		"machine=" + unix.ByteSliceToString(u.Machine[:]),
	}
}
