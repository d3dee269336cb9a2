package server

import "strings"

// resolvePath implements spec.md §4.3: build cwd+"/"+arg (or arg alone if
// it is already absolute), collapse runs of '/', split on '/', drop empty
// components and ".", and pop the parent on ".." (popping past root stays
// at root). The result always begins with '/' and never ends with '/'
// unless it is exactly "/".
//
// Per spec.md's "Observable policy", resolvePath only collapses "..";
// CWD's special-casing of a bare ".." argument into CDUP happens in the
// command handler, not here.
func resolvePath(cwd, arg string) string {
	var full string
	if strings.HasPrefix(arg, "/") {
		full = arg
	} else {
		full = cwd + "/" + arg
	}

	parts := strings.Split(full, "/")
	stack := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, p)
		}
	}

	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// parentDir returns the resolved path's parent directory (what
// resolvePath+stat must validate exists and is a directory before the
// resolution is considered successful, per spec.md §4.3).
func parentDir(resolved string) string {
	if resolved == "/" {
		return "/"
	}
	idx := strings.LastIndexByte(resolved, '/')
	if idx <= 0 {
		return "/"
	}
	return resolved[:idx]
}

// statDirFunc reports whether path exists and is a directory. The
// session wires this to its ClientContext's IsDir so PathResolver stays a
// pure algorithm independently testable from the filesystem contract.
type statDirFunc func(path string) (isDir bool, err error)

// resolve runs resolvePath and then validates, per spec.md §4.3, that the
// resolved path's parent directory exists and is a directory. statParent
// is expected to stat parentDir(result) — the session passes the
// driver's lookup in, a fake in unit tests.
func resolve(statParent statDirFunc, cwd, arg string) (string, error) {
	resolved := resolvePath(cwd, arg)
	isDir, err := statParent(parentDir(resolved))
	if err != nil {
		return "", err
	}
	if !isDir {
		return "", errNotDirectory
	}
	return resolved, nil
}
