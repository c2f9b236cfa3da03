package session

import gopath "path"

// Plain path.Dir/path.Join from the standard library are the whole
// tool this needs: 9P paths are POSIX-shaped strings with no
// filesystem-specific quirks to account for, so there is no ecosystem
// library to reach for here.

func joinChild(dir, name string) string {
	return gopath.Join(dir, name)
}

// parentOf returns the parent of p, never climbing above root — ".."
// from root stays at root, per spec invariant 7.
func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	return gopath.Dir(p)
}
