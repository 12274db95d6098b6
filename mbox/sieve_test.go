package mbox

import (
	"strings"
	"testing"

	gosieve "git.sr.ht/~emersion/go-sieve"
)

func parseScript(t *testing.T, script string) []gosieve.Command {
	t.Helper()
	cmds, err := gosieve.Parse(strings.NewReader(script))
	if err != nil {
		t.Fatalf("parse script: %v", err)
	}
	return cmds
}

func evalScript(t *testing.T, script, message string) sieveDecision {
	t.Helper()
	data := []byte(message)
	return evalSieve(parseScript(t, script), parseMessageHeader(data), len(data),
		"sender@example.com", "rcpt@example.com")
}

const sieveTestMessage = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com, carol@example.com\r\n" +
	"Subject: weekly report\r\n" +
	"X-Priority: 1\r\n" +
	"\r\n" +
	"body\r\n"

func TestEvalSieveActions(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   sieveDecision
	}{
		{"empty script keeps", "", sieveDecision{}},
		{"explicit keep", "keep;", sieveDecision{}},
		{"fileinto", `require "fileinto"; fileinto "work";`, sieveDecision{folder: "work"}},
		{"discard", "discard;", sieveDecision{discard: true}},
		{"last action wins", `require "fileinto"; fileinto "work"; keep;`, sieveDecision{}},
		{"keep then fileinto", `require "fileinto"; keep; fileinto "work";`, sieveDecision{folder: "work"}},
		{"discard then fileinto", `require "fileinto"; discard; fileinto "work";`, sieveDecision{folder: "work"}},
		{"stop freezes the decision", `require "fileinto"; fileinto "work"; stop; discard;`, sieveDecision{folder: "work"}},
	}
	for _, tt := range tests {
		got := evalScript(t, tt.script, sieveTestMessage)
		if got != tt.want {
			t.Errorf("%s: decision = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestEvalSieveConditionals(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   sieveDecision
	}{
		{
			"header contains match",
			`require "fileinto"; if header :contains "subject" "report" { fileinto "reports"; }`,
			sieveDecision{folder: "reports"},
		},
		{
			"header contains miss keeps",
			`require "fileinto"; if header :contains "subject" "invoice" { fileinto "invoices"; }`,
			sieveDecision{},
		},
		{
			"header is exact",
			`if header :is "x-priority" "1" { discard; }`,
			sieveDecision{discard: true},
		},
		{
			"matches glob",
			`require "fileinto"; if header :matches "subject" "weekly *" { fileinto "weekly"; }`,
			sieveDecision{folder: "weekly"},
		},
		{
			"elsif chain",
			`require "fileinto";
			if header :contains "subject" "invoice" { fileinto "invoices"; }
			elsif header :contains "subject" "report" { fileinto "reports"; }
			else { discard; }`,
			sieveDecision{folder: "reports"},
		},
		{
			"else branch",
			`require "fileinto";
			if header :contains "subject" "invoice" { fileinto "invoices"; }
			else { fileinto "misc"; }`,
			sieveDecision{folder: "misc"},
		},
		{
			"taken branch suppresses else",
			`require "fileinto";
			if true { fileinto "first"; }
			else { fileinto "second"; }`,
			sieveDecision{folder: "first"},
		},
		{
			"anyof",
			`if anyof (header :contains "subject" "invoice", header :contains "subject" "report") { discard; }`,
			sieveDecision{discard: true},
		},
		{
			"allof short-circuits",
			`if allof (header :contains "subject" "report", false) { discard; }`,
			sieveDecision{},
		},
		{
			"not",
			`if not header :contains "subject" "invoice" { discard; }`,
			sieveDecision{discard: true},
		},
		{
			"exists",
			`if exists "x-priority" { discard; }`,
			sieveDecision{discard: true},
		},
		{
			"exists needs every header",
			`if exists ["x-priority", "x-absent"] { discard; }`,
			sieveDecision{},
		},
		{
			"address part of a name-addr header",
			`if address :is "from" "alice@example.com" { discard; }`,
			sieveDecision{discard: true},
		},
		{
			"envelope from",
			`require "envelope"; if envelope :is "from" "sender@example.com" { discard; }`,
			sieveDecision{discard: true},
		},
		{
			"unsupported test is false",
			`if spamtest :value "eq" "5" { discard; }`,
			sieveDecision{},
		},
	}
	for _, tt := range tests {
		got := evalScript(t, tt.script, sieveTestMessage)
		if got != tt.want {
			t.Errorf("%s: decision = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestEvalSieveSize(t *testing.T) {
	data := []byte(sieveTestMessage)
	cmds := parseScript(t, `if size :over 10 { discard; }`)
	if got := evalSieve(cmds, parseMessageHeader(data), len(data), "", ""); !got.discard {
		t.Errorf(":over 10 on a %d byte message = %+v", len(data), got)
	}

	cmds = parseScript(t, `if size :under 1M { discard; }`)
	if got := evalSieve(cmds, parseMessageHeader(data), len(data), "", ""); !got.discard {
		t.Errorf(":under 1M on a %d byte message = %+v", len(data), got)
	}

	cmds = parseScript(t, `if size :over 1K { discard; }`)
	if got := evalSieve(cmds, parseMessageHeader(data), len(data), "", ""); got.discard {
		t.Errorf(":over 1K on a %d byte message = %+v", len(data), got)
	}
}

func TestMatchSieveGlob(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "anything", true},
		{"weekly *", "weekly report", true},
		{"weekly *", "monthly report", false},
		{"?eekly*", "weekly report", true},
		{"re*rt", "report", true},
		{"re*rt", "reports", false},
		{"", "", true},
		{"?", "", false},
	}
	for _, tt := range tests {
		if got := matchSieveGlob(tt.pattern, tt.value); got != tt.want {
			t.Errorf("matchSieveGlob(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}
