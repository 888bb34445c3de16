package simpleldap

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// SID is a Windows security identifier in its string form (S-1-5-21-...).
// Binary objectSid attributes decode into this type.
type SID string

// Generalized time layout used by directory timestamp attributes such as
// whenCreated and whenChanged.
const generalizedTimeLayout = "20060102150405.0Z"

// Record is one directory entry: its DN plus every returned attribute.
// Attribute values are inherently multi-valued and preserve server order.
type Record struct {
	DN string

	// Attributes maps attribute name to its string values.
	Attributes map[string][]string

	// BinaryAttributes maps attribute name to its raw byte values, for
	// attributes such as objectGUID and objectSid that are not valid
	// strings.
	BinaryAttributes map[string][][]byte
}

func newRecord(entry *ldap.Entry) *Record {
	r := &Record{
		DN:               entry.DN,
		Attributes:       make(map[string][]string, len(entry.Attributes)),
		BinaryAttributes: make(map[string][][]byte, len(entry.Attributes)),
	}

	for _, attr := range entry.Attributes {
		r.Attributes[attr.Name] = attr.Values
		r.BinaryAttributes[attr.Name] = attr.ByteValues
	}

	return r
}

// Value returns the first value of the named attribute.
func (r *Record) Value(name string) (string, bool) {
	values := r.Attributes[name]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Values returns all values of the named attribute, nil when absent.
func (r *Record) Values(name string) []string {
	return r.Attributes[name]
}

// Decode materializes the record into out, which must be a pointer to a
// struct. Fields map by `ldap` tag, falling back to the (case-insensitive)
// field name. Single-valued attributes decode into scalars, multi-valued
// into slices. Supported field conversions beyond strings:
//
//	uuid.UUID  from a 16-byte binary attribute (objectGUID)
//	SID        from a binary objectSid attribute
//	time.Time  from generalized-time strings (whenCreated)
//	numeric and bool fields from their string representations
//
// A shape mismatch returns a *DecodeError naming the entry's DN.
func (r *Record) Decode(out any) error {
	input := make(map[string]any, len(r.Attributes))

	for name, values := range r.Attributes {
		switch len(values) {
		case 0:
		case 1:
			input[name] = values[0]
		default:
			input[name] = values
		}
	}

	// Attributes delivered only in binary form have no string values.
	for name, bin := range r.BinaryAttributes {
		if _, ok := input[name]; ok || len(bin) == 0 {
			continue
		}
		if len(bin) == 1 {
			input[name] = bin[0]
		} else {
			input[name] = bin
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "ldap",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			decodeGUIDHook,
			decodeSIDHook,
			decodeGeneralizedTimeHook,
		),
	})
	if err != nil {
		return &DecodeError{DN: r.DN, Cause: err}
	}

	if err := decoder.Decode(input); err != nil {
		return &DecodeError{DN: r.DN, Cause: err}
	}

	return nil
}

// decodeGUIDHook converts 16-byte binary values into uuid.UUID fields.
func decodeGUIDHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(uuid.UUID{}) {
		return data, nil
	}

	switch v := data.(type) {
	case []byte:
		return uuid.FromBytes(v)
	case string:
		// Directory servers deliver objectGUID as 16 raw bytes, which
		// go-ldap also exposes as a string value.
		if len(v) == 16 {
			return uuid.FromBytes([]byte(v))
		}
		return uuid.Parse(v)
	default:
		return data, nil
	}
}

// decodeSIDHook converts binary objectSid values into SID fields.
func decodeSIDHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SID("")) {
		return data, nil
	}

	switch v := data.(type) {
	case []byte:
		return sidFromBinary(v)
	case string:
		if strings.HasPrefix(v, "S-") {
			return SID(v), nil
		}
		// Raw binary SID surfaced as a string value.
		return sidFromBinary([]byte(v))
	default:
		return data, nil
	}
}

// sidFromBinary validates the binary SID layout before decoding: a revision
// byte, a sub-authority count, a 6-byte authority, then count 4-byte
// sub-authorities. objectsid.Decode indexes without bounds checks.
func sidFromBinary(b []byte) (SID, error) {
	if len(b) < 8 {
		return "", fmt.Errorf("binary SID too short (%d bytes)", len(b))
	}
	if want := 8 + 4*int(b[1]); len(b) < want {
		return "", fmt.Errorf("binary SID truncated (%d bytes, need %d for %d sub-authorities)", len(b), want, b[1])
	}
	return SID(objectsid.Decode(b).String()), nil
}

// decodeGeneralizedTimeHook converts generalized-time strings into time.Time
// fields.
func decodeGeneralizedTimeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}

	s, ok := data.(string)
	if !ok {
		return data, nil
	}

	return time.Parse(generalizedTimeLayout, s)
}
