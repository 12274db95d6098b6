package mailstore

// MatchPattern matches a mailbox name against an IMAP list pattern:
// '*' matches any characters including the hierarchy separator, '%'
// matches any characters up to the next separator. Drivers use this for
// List; callers may use it independently for pattern features.
func MatchPattern(pattern, name string, sep rune) bool {
	if pattern == "" {
		return name == ""
	}

	switch pattern[0] {
	case '*':
		for i := 0; i <= len(name); i++ {
			if MatchPattern(pattern[1:], name[i:], sep) {
				return true
			}
		}
		return false
	case '%':
		for i := 0; i <= len(name); i++ {
			if MatchPattern(pattern[1:], name[i:], sep) {
				return true
			}
			if i < len(name) && rune(name[i]) == sep {
				return false
			}
		}
		return false
	default:
		if name == "" || name[0] != pattern[0] {
			return false
		}
		return MatchPattern(pattern[1:], name[1:], sep)
	}
}
