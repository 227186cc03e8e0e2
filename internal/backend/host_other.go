//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package backend

func hostIdentity() []string {
	return nil
}
