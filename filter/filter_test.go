package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{
			name:   "equality",
			filter: Eq("cn", "test"),
			want:   "(cn=test)",
		},
		{
			name:   "negation",
			filter: Not(Eq("cn", "test")),
			want:   "(!(cn=test))",
		},
		{
			name:   "disjunction",
			filter: Or(Eq("cn", "test"), Eq("cn", "test2")),
			want:   "(|(cn=test)(cn=test2))",
		},
		{
			name:   "conjunction",
			filter: And(Eq("cn", "test"), Eq("cn", "test2")),
			want:   "(&(cn=test)(cn=test2))",
		},
		{
			name:   "presence",
			filter: Present("member"),
			want:   "(member=*)",
		},
		{
			name:   "starts with",
			filter: StartsWith("cn", "test"),
			want:   "(cn=test*)",
		},
		{
			name:   "ends with",
			filter: EndsWith("cn", "test"),
			want:   "(cn=*test)",
		},
		{
			name:   "contains",
			filter: Contains("cn", "test"),
			want:   "(cn=*test*)",
		},
		{
			name:   "oid attribute",
			filter: Eq("2.5.4.3", "test"),
			want:   "(2.5.4.3=test)",
		},
		{
			name:   "attribute option",
			filter: Eq("userCertificate;binary", "x"),
			want:   "(userCertificate;binary=x)",
		},
		{
			name:   "conjunction order preserved",
			filter: And(Eq("sn", "b"), Eq("givenName", "a")),
			want:   "(&(sn=b)(givenName=a))",
		},
		{
			name: "nested composition",
			filter: And(
				Eq("objectClass", "inetOrgPerson"),
				Or(Eq("uid", "ada"), Eq("uid", "grace")),
				Not(Present("lockedTime")),
			),
			want: "(&(objectClass=inetOrgPerson)(|(uid=ada)(uid=grace))(!(lockedTime=*)))",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderEscapesValues(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{
			name:   "parentheses",
			filter: Eq("cn", "Sam (admin)"),
			want:   `(cn=Sam \28admin\29)`,
		},
		{
			name:   "asterisk",
			filter: Eq("cn", "a*b"),
			want:   `(cn=a\2ab)`,
		},
		{
			name:   "backslash",
			filter: Eq("cn", `a\b`),
			want:   `(cn=a\5cb)`,
		},
		{
			name:   "nul byte",
			filter: Eq("cn", "a\x00b"),
			want:   `(cn=a\00b)`,
		},
		{
			name:   "injection attempt",
			filter: Eq("uid", "*)(uid=*"),
			want:   `(uid=\2a\29\28uid=\2a)`,
		},
		{
			name:   "substring value escaped, wildcard kept",
			filter: Contains("cn", "a*b"),
			want:   `(cn=*a\2ab*)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderInvalidFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		reason string
	}{
		{
			name:   "nil filter",
			filter: nil,
			reason: "nil filter",
		},
		{
			name:   "empty and",
			filter: And(),
			reason: "empty (&) composite",
		},
		{
			name:   "empty or",
			filter: Or(),
			reason: "empty (|) composite",
		},
		{
			name:   "nil negation",
			filter: Not(nil),
			reason: "nil filter",
		},
		{
			name:   "nil inside and",
			filter: And(Eq("cn", "x"), nil),
			reason: "nil filter",
		},
		{
			name:   "metacharacter in attribute",
			filter: Eq("cn=*)(uid", "x"),
			reason: "bad attribute name",
		},
		{
			name:   "empty attribute",
			filter: Eq("", "x"),
			reason: "bad attribute name",
		},
		{
			name:   "space in attribute",
			filter: Present("object class"),
			reason: "bad attribute name",
		},
		{
			name:   "nested invalid attribute",
			filter: And(Eq("cn", "ok"), Not(Eq("bad attr", "x"))),
			reason: "bad attribute name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.filter)
			require.Error(t, err)

			var ferr *Error
			require.ErrorAs(t, err, &ferr)
			assert.Contains(t, ferr.Error(), tt.reason)
		})
	}
}

func TestRenderDeepNestingStaysBalanced(t *testing.T) {
	f := Eq("cn", "leaf")
	for range 50 {
		f = Not(And(f, Present("objectClass")))
	}

	got, err := Render(f)
	require.NoError(t, err)

	assert.Equal(t, strings.Count(got, "("), strings.Count(got, ")"))

	depth := 0
	for _, r := range got {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		}
		require.GreaterOrEqual(t, depth, 0)
	}
	assert.Zero(t, depth)
}
