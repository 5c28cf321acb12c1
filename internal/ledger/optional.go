package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MissingValue is the literal persisted in place of an absent optional field.
const MissingValue = "N/A"

// zeroValue is the historical placeholder that id-like fields treat as absent.
const zeroValue = "0"

// Optional is a string that may be absent. The zero value is absent.
// Optional is comparable, so structs built from it can be used as map keys.
type Optional struct {
	value   string
	present bool
}

// Some returns a present Optional holding value.
func Some(value string) Optional {
	return Optional{value: value, present: true}
}

// None returns an absent Optional.
func None() Optional {
	return Optional{}
}

// ParseOptional applies the missing-value convention to a raw persisted value.
// "N/A" always decodes to absent; "0" decodes to absent only when zeroIsAbsent is set.
func ParseOptional(raw string, zeroIsAbsent bool) Optional {
	if raw == MissingValue {
		return None()
	}
	if zeroIsAbsent && raw == zeroValue {
		return None()
	}
	return Some(raw)
}

// FromPointer converts a nullable string into an Optional. A nil pointer is absent and a
// non-nil value follows the same sentinel rules as ParseOptional.
func FromPointer(value *string, zeroIsAbsent bool) Optional {
	if value == nil {
		return None()
	}
	return ParseOptional(*value, zeroIsAbsent)
}

// Get returns the value and whether it is present.
func (o Optional) Get() (string, bool) {
	return o.value, o.present
}

// Present reports whether a value is set.
func (o Optional) Present() bool {
	return o.present
}

// Or returns the value when present, fallback otherwise.
func (o Optional) Or(fallback string) string {
	if o.present {
		return o.value
	}
	return fallback
}

// String renders the persisted form, substituting MissingValue when absent.
func (o Optional) String() string {
	return o.Or(MissingValue)
}

// MarshalJSON always renders a string, never null.
func (o Optional) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes null or "N/A" as absent. The "0" rule depends on the field
// and is applied by the owning type after decoding.
func (o *Optional) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None()
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: optional field is not a string", ErrMalformedInput)
	}
	*o = ParseOptional(raw, false)
	return nil
}

// zeroAsAbsent applies the id-like field rule to an already decoded value.
func (o Optional) zeroAsAbsent() Optional {
	if o.present && o.value == zeroValue {
		return None()
	}
	return o
}
