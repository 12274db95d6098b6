package mbox

import "strings"

// IsValidName reports whether a name is acceptable for looking up an
// existing mailbox. Lookup validation is deliberately weaker than
// creation validation: it must accept any name a prior creation could
// have produced. With full filesystem access every name is accepted.
func (s *Storage) IsValidName(name string) bool {
	return s.isValidMask(name)
}

func (s *Storage) isValidMask(mask string) bool {
	if s.fullFSAccess {
		return true
	}

	if strings.HasPrefix(mask, "/") || strings.HasPrefix(mask, "\\") ||
		strings.HasPrefix(mask, "~") {
		return false
	}

	// reject ".." at the start of any path segment, so traversal
	// embedded mid-name is caught too
	newDir := true
	for i := 0; i < len(mask); i++ {
		if newDir && strings.HasPrefix(mask[i:], "..") {
			rest := mask[i+2:]
			if rest == "" || rest[0] == '/' || rest[0] == '\\' {
				return false
			}
		}
		newDir = mask[i] == '/' || mask[i] == '\\'
	}
	return true
}

func (s *Storage) isValidExistingName(name string) bool {
	return name != "" && s.isValidMask(name)
}

func (s *Storage) isValidCreateName(name string) bool {
	if name == "" || name[len(name)-1] == hierarchySep ||
		strings.ContainsAny(name, "*%") {
		return false
	}
	return s.isValidMask(name)
}
