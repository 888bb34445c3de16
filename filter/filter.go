// Package filter builds LDAP search filters as composable expression trees.
//
// Filters are immutable once constructed and render to RFC 4515 filter
// strings with every value escaped, so user-supplied input can never change
// the shape of the resulting expression:
//
//	f := filter.And(
//		filter.Eq("objectClass", "inetOrgPerson"),
//		filter.Not(filter.Eq("cn", "Sam (admin)")),
//	)
//	s, err := filter.Render(f)
//	// (&(objectClass=inetOrgPerson)(!(cn=Sam \28admin\29)))
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Error reports a malformed filter. It indicates a bug in the calling code
// (an invalid attribute name or an empty composite) and is never retryable.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "invalid filter: " + e.Reason
}

// Attribute descriptions per RFC 4512: a keystring or a numeric OID,
// optionally followed by options such as ";binary".
var attributeRegex = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9-]*|[0-9]+(\.[0-9]+)+)(;[A-Za-z0-9-]+)*$`)

// Filter is a node of a search filter expression tree.
//
// Implementations are immutable. Rendering is performed by Render, which
// validates attribute names and escapes values as it walks the tree.
type Filter interface {
	write(sb *strings.Builder) error
}

// Render compiles a filter tree into an LDAP filter string.
//
// The result always has balanced parentheses and every literal value escaped
// per RFC 4515, regardless of nesting depth. A *Error is returned when the
// tree contains an invalid attribute name, an empty And/Or, or a nil node.
func Render(f Filter) (string, error) {
	if f == nil {
		return "", &Error{Reason: "nil filter"}
	}
	var sb strings.Builder
	if err := f.write(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeAttribute(sb *strings.Builder, attribute string) error {
	if !attributeRegex.MatchString(attribute) {
		return &Error{Reason: fmt.Sprintf("bad attribute name %q", attribute)}
	}
	sb.WriteString(attribute)
	return nil
}

type eqFilter struct {
	attribute string
	value     string
}

// Eq matches entries whose attribute equals value, e.g. (cn=Sam).
func Eq(attribute, value string) Filter {
	return eqFilter{attribute: attribute, value: value}
}

func (f eqFilter) write(sb *strings.Builder) error {
	sb.WriteByte('(')
	if err := writeAttribute(sb, f.attribute); err != nil {
		return err
	}
	sb.WriteByte('=')
	sb.WriteString(ldap.EscapeFilter(f.value))
	sb.WriteByte(')')
	return nil
}

type presentFilter struct {
	attribute string
}

// Present matches entries that carry the attribute at all, e.g. (member=*).
func Present(attribute string) Filter {
	return presentFilter{attribute: attribute}
}

func (f presentFilter) write(sb *strings.Builder) error {
	sb.WriteByte('(')
	if err := writeAttribute(sb, f.attribute); err != nil {
		return err
	}
	sb.WriteString("=*)")
	return nil
}

type compositeFilter struct {
	op      byte // '&' or '|'
	filters []Filter
}

// And matches entries satisfying every sub-filter. Rendering preserves the
// supplied order. At least one sub-filter is required.
func And(filters ...Filter) Filter {
	return compositeFilter{op: '&', filters: filters}
}

// Or matches entries satisfying any sub-filter. Rendering preserves the
// supplied order. At least one sub-filter is required.
func Or(filters ...Filter) Filter {
	return compositeFilter{op: '|', filters: filters}
}

func (f compositeFilter) write(sb *strings.Builder) error {
	if len(f.filters) == 0 {
		return &Error{Reason: fmt.Sprintf("empty (%c) composite", f.op)}
	}
	sb.WriteByte('(')
	sb.WriteByte(f.op)
	for _, sub := range f.filters {
		if sub == nil {
			return &Error{Reason: "nil filter"}
		}
		if err := sub.write(sb); err != nil {
			return err
		}
	}
	sb.WriteByte(')')
	return nil
}

type notFilter struct {
	inner Filter
}

// Not negates exactly one sub-filter, e.g. (!(cn=Sam)).
func Not(inner Filter) Filter {
	return notFilter{inner: inner}
}

func (f notFilter) write(sb *strings.Builder) error {
	if f.inner == nil {
		return &Error{Reason: "nil filter"}
	}
	sb.WriteString("(!")
	if err := f.inner.write(sb); err != nil {
		return err
	}
	sb.WriteByte(')')
	return nil
}

type substringFilter struct {
	attribute string
	value     string
	pre, post bool // wildcard placement
}

// StartsWith matches attribute values with the given prefix, e.g. (cn=Sam*).
func StartsWith(attribute, value string) Filter {
	return substringFilter{attribute: attribute, value: value, post: true}
}

// EndsWith matches attribute values with the given suffix, e.g. (cn=*son).
func EndsWith(attribute, value string) Filter {
	return substringFilter{attribute: attribute, value: value, pre: true}
}

// Contains matches attribute values containing the given substring,
// e.g. (cn=*am*).
func Contains(attribute, value string) Filter {
	return substringFilter{attribute: attribute, value: value, pre: true, post: true}
}

func (f substringFilter) write(sb *strings.Builder) error {
	sb.WriteByte('(')
	if err := writeAttribute(sb, f.attribute); err != nil {
		return err
	}
	sb.WriteByte('=')
	if f.pre {
		sb.WriteByte('*')
	}
	sb.WriteString(ldap.EscapeFilter(f.value))
	if f.post {
		sb.WriteByte('*')
	}
	sb.WriteByte(')')
	return nil
}
