package simpleldap

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// DN is a parsed distinguished name. It wraps the protocol parser and adds
// the lookups callers of this package actually need.
type DN struct {
	dn  *ldap.DN
	raw string
}

// ParseDN parses an RFC 4514 distinguished name string.
func ParseDN(s string) (*DN, error) {
	parsed, err := ldap.ParseDN(s)
	if err != nil {
		return nil, operationError("parse dn", s, err)
	}
	return &DN{dn: parsed, raw: s}, nil
}

func (d *DN) String() string {
	return d.raw
}

// Type returns the attribute type of the leftmost RDN, e.g. "uid" for
// uid=ada,ou=people,dc=example,dc=org.
func (d *DN) Type() string {
	if len(d.dn.RDNs) == 0 || len(d.dn.RDNs[0].Attributes) == 0 {
		return ""
	}
	return d.dn.RDNs[0].Attributes[0].Type
}

// Get returns the value of the first RDN carrying the given attribute type,
// matched case-insensitively.
func (d *DN) Get(attrType string) (string, bool) {
	for _, rdn := range d.dn.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, attrType) {
				return attr.Value, true
			}
		}
	}
	return "", false
}

// Parent returns the DN with the leftmost RDN removed, or nil at the root.
func (d *DN) Parent() *DN {
	if len(d.dn.RDNs) <= 1 {
		return nil
	}

	parts := make([]string, 0, len(d.dn.RDNs)-1)
	for _, rdn := range d.dn.RDNs[1:] {
		var attrs []string
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, attr.Type+"="+EscapeDNValue(attr.Value))
		}
		parts = append(parts, strings.Join(attrs, "+"))
	}

	raw := strings.Join(parts, ",")
	parent, err := ldap.ParseDN(raw)
	if err != nil {
		return nil
	}
	return &DN{dn: parent, raw: raw}
}

// Equal compares two DNs per the protocol's equality rules, ignoring case
// and insignificant whitespace.
func (d *DN) Equal(other *DN) bool {
	return d.dn.Equal(other.dn)
}

// IsAncestorOf reports whether other sits strictly below d in the tree.
func (d *DN) IsAncestorOf(other *DN) bool {
	return d.dn.AncestorOf(other.dn)
}

// EscapeDNValue escapes an attribute value for embedding in a DN per
// RFC 4514: the characters , + " \ < > ; always, # and space only at the
// positions where they are significant, and NUL as \00.
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var sb strings.Builder
	sb.Grow(len(value) + 8)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '#':
			if i == 0 {
				sb.WriteByte('\\')
			}
			sb.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				sb.WriteByte('\\')
			}
			sb.WriteRune(r)
		case 0:
			sb.WriteString(`\00`)
		default:
			sb.WriteRune(r)
		}
	}

	return sb.String()
}

// UnescapeDNValue reverses EscapeDNValue, including \XX hex escapes.
func UnescapeDNValue(value string) string {
	if !strings.Contains(value, "\\") {
		return value
	}

	var sb strings.Builder
	sb.Grow(len(value))

	for i := 0; i < len(value); i++ {
		if value[i] != '\\' || i == len(value)-1 {
			sb.WriteByte(value[i])
			continue
		}

		if i+2 < len(value) {
			if hi, ok := hexVal(value[i+1]); ok {
				if lo, ok := hexVal(value[i+2]); ok {
					sb.WriteByte(hi<<4 | lo)
					i += 2
					continue
				}
			}
		}

		i++
		sb.WriteByte(value[i])
	}

	return sb.String()
}

func hexVal(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
