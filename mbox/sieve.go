package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	gosieve "git.sr.ht/~emersion/go-sieve"
	"github.com/emersion/go-message/textproto"
)

// sieveDecision is the delivery outcome of running the Sieve script.
// A zero decision is the implicit keep: deliver to the default folder.
type sieveDecision struct {
	folder  string // fileinto target, "" means the default folder
	discard bool
}

// sieveRun evaluates one script against one message for one recipient.
type sieveRun struct {
	header textproto.Header
	size   int
	from   string
	rcpt   string

	decision sieveDecision
	stopped  bool
}

// sieveScriptPath returns the location of the per-root Sieve script,
// kept as a dotfile directly under the storage root so it never shows
// up as a mailbox.
func (s *Storage) sieveScriptPath() string {
	return filepath.Join(s.root, ".sieve")
}

// loadSieveScript loads and parses the Sieve script.
// Returns (nil, nil) if no script exists.
func (s *Storage) loadSieveScript() ([]gosieve.Command, error) {
	f, err := os.Open(s.sieveScriptPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return gosieve.Parse(f)
}

// evalSieve runs the parsed script against a message and returns the
// delivery decision for one recipient.
func evalSieve(cmds []gosieve.Command, header textproto.Header, size int, from, rcpt string) sieveDecision {
	run := &sieveRun{header: header, size: size, from: from, rcpt: rcpt}
	run.exec(cmds)
	return run.decision
}

// exec runs a command list, tracking if/elsif/else chains. Actions are
// last-writer-wins, matching the implicit-keep model: the final action
// standing when the script ends is what delivery honors.
func (r *sieveRun) exec(cmds []gosieve.Command) {
	taken := false
	for i := range cmds {
		if r.stopped {
			return
		}
		cmd := &cmds[i]
		switch strings.ToLower(cmd.Name) {
		case "require":
			// capability declaration, nothing to execute
		case "stop":
			r.stopped = true
		case "keep":
			r.decision = sieveDecision{}
		case "discard":
			r.decision = sieveDecision{discard: true}
		case "fileinto":
			if target := lastString(cmd.Arguments); target != "" {
				r.decision = sieveDecision{folder: target}
			}
		case "if":
			taken = r.branch(cmd)
		case "elsif":
			if !taken {
				taken = r.branch(cmd)
			}
		case "else":
			if !taken {
				r.exec(cmd.Block)
			}
			taken = false
		default:
			// unsupported action, treated as a no-op
		}
	}
}

func (r *sieveRun) branch(cmd *gosieve.Command) bool {
	if len(cmd.Tests) == 0 || !r.test(&cmd.Tests[0]) {
		return false
	}
	r.exec(cmd.Block)
	return true
}

func (r *sieveRun) test(t *gosieve.Test) bool {
	switch strings.ToLower(t.Name) {
	case "true":
		return true
	case "false":
		return false
	case "not":
		return len(t.Tests) > 0 && !r.test(&t.Tests[0])
	case "anyof":
		for i := range t.Tests {
			if r.test(&t.Tests[i]) {
				return true
			}
		}
		return false
	case "allof":
		for i := range t.Tests {
			if !r.test(&t.Tests[i]) {
				return false
			}
		}
		return true
	case "exists":
		names := lastStringList(t.Arguments, 0)
		if len(names) == 0 {
			return false
		}
		for _, name := range names {
			if !r.header.Has(name) {
				return false
			}
		}
		return true
	case "size":
		return r.testSize(t)
	case "header":
		return r.testValues(t, r.headerValues)
	case "address":
		return r.testValues(t, r.addressValues)
	case "envelope":
		return r.testValues(t, r.envelopeValues)
	}
	return false
}

// testSize handles "size :over N" / "size :under N".
func (r *sieveRun) testSize(t *gosieve.Test) bool {
	over := true
	limit := -1
	for _, arg := range t.Arguments {
		switch a := arg.(type) {
		case gosieve.ArgumentTag:
			switch strings.ToLower(string(a)) {
			case ":over":
				over = true
			case ":under":
				over = false
			}
		case gosieve.ArgumentNumber:
			limit = a.Value
			switch a.Quantifier {
			case 'K', 'k':
				limit *= 1024
			case 'M', 'm':
				limit *= 1024 * 1024
			case 'G', 'g':
				limit *= 1024 * 1024 * 1024
			}
		}
	}
	if limit < 0 {
		return false
	}
	if over {
		return r.size > limit
	}
	return r.size < limit
}

// testValues is the shared shape of header/address/envelope: the last
// two string-list arguments are the field names and the match keys,
// preceding tags pick the match type (":is" is the RFC default).
func (r *sieveRun) testValues(t *gosieve.Test, values func(name string) []string) bool {
	match := ":is"
	var lists []gosieve.ArgumentStringList
	for _, arg := range t.Arguments {
		switch a := arg.(type) {
		case gosieve.ArgumentTag:
			switch strings.ToLower(string(a)) {
			case ":is", ":contains", ":matches":
				match = strings.ToLower(string(a))
			}
		case gosieve.ArgumentStringList:
			lists = append(lists, a)
		}
	}
	if len(lists) < 2 {
		return false
	}
	names := lists[len(lists)-2]
	keys := lists[len(lists)-1]

	for _, name := range names {
		for _, value := range values(name) {
			for _, key := range keys {
				if matchSieve(match, value, key) {
					return true
				}
			}
		}
	}
	return false
}

func (r *sieveRun) headerValues(name string) []string {
	var out []string
	for fields := r.header.Fields(); fields.Next(); {
		if strings.EqualFold(fields.Key(), name) {
			out = append(out, fields.Value())
		}
	}
	return out
}

// addressValues extracts the address parts of an address header;
// unparsable values are matched raw so a sloppy header still filters.
func (r *sieveRun) addressValues(name string) []string {
	var out []string
	for _, value := range r.headerValues(name) {
		addrs, err := mail.ParseAddressList(value)
		if err != nil {
			out = append(out, strings.TrimSpace(value))
			continue
		}
		for _, a := range addrs {
			out = append(out, a.Address)
		}
	}
	return out
}

func (r *sieveRun) envelopeValues(name string) []string {
	switch strings.ToLower(name) {
	case "from":
		return []string{r.from}
	case "to":
		return []string{r.rcpt}
	}
	return nil
}

// matchSieve applies one Sieve match type with the default
// case-insensitive comparator.
func matchSieve(match, value, key string) bool {
	value = strings.ToLower(value)
	key = strings.ToLower(key)
	switch match {
	case ":contains":
		return strings.Contains(value, key)
	case ":matches":
		return matchSieveGlob(key, value)
	}
	return value == key
}

// matchSieveGlob matches the Sieve ":matches" wildcards: '*' for any
// run of characters and '?' for exactly one.
func matchSieveGlob(pattern, value string) bool {
	if pattern == "" {
		return value == ""
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(value); i++ {
			if matchSieveGlob(pattern[1:], value[i:]) {
				return true
			}
		}
		return false
	case '?':
		return value != "" && matchSieveGlob(pattern[1:], value[1:])
	default:
		return value != "" && value[0] == pattern[0] &&
			matchSieveGlob(pattern[1:], value[1:])
	}
}

func lastString(args []gosieve.Argument) string {
	for i := len(args) - 1; i >= 0; i-- {
		if list, ok := args[i].(gosieve.ArgumentStringList); ok && len(list) > 0 {
			return list[len(list)-1]
		}
	}
	return ""
}

// lastStringList returns the n-th string-list argument counted from the
// end (0 is the last).
func lastStringList(args []gosieve.Argument, n int) []string {
	for i := len(args) - 1; i >= 0; i-- {
		if list, ok := args[i].(gosieve.ArgumentStringList); ok {
			if n == 0 {
				return list
			}
			n--
		}
	}
	return nil
}

// parseMessageHeader reads the RFC 5322 header block of a raw message.
// A malformed header yields whatever prefix parsed, so filtering
// degrades instead of failing delivery.
func parseMessageHeader(data []byte) textproto.Header {
	header, _ := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(data)))
	return header
}
