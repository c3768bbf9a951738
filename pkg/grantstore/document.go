package grantstore

import "time"

// Recognized document fields.
const (
	FieldID        = "id"
	FieldGrantID   = "grantId"
	FieldExpiresAt = "expiresAt"
	FieldConsumed  = "consumed"
)

// Document is a stored record: field name to value. Engines return
// time-valued fields as time.Time in UTC and always expose the key as "id".
type Document map[string]any

// ID returns the record identifier, or "" when absent.
func (d Document) ID() string {
	return d.stringField(FieldID)
}

// GrantID returns the grant the record was issued under, or "" when absent.
func (d Document) GrantID() string {
	return d.stringField(FieldGrantID)
}

// ExpiresAt reports the passive expiry deadline, if any.
func (d Document) ExpiresAt() (time.Time, bool) {
	return d.timeField(FieldExpiresAt)
}

// ConsumedAt reports when the record was consumed, if ever.
func (d Document) ConsumedAt() (time.Time, bool) {
	return d.timeField(FieldConsumed)
}

// Expired reports whether the record has an expiry at or before now.
func (d Document) Expired(now time.Time) bool {
	expiresAt, ok := d.ExpiresAt()
	return ok && !expiresAt.After(now)
}

// Clone returns a shallow copy. A nil Document clones to an empty one.
func (d Document) Clone() Document {
	out := make(Document, len(d)+1)
	for key, value := range d {
		out[key] = value
	}
	return out
}

func (d Document) stringField(key string) string {
	value, _ := d[key].(string)
	return value
}

func (d Document) timeField(key string) (time.Time, bool) {
	switch value := d[key].(type) {
	case time.Time:
		return value, !value.IsZero()
	case *time.Time:
		if value == nil {
			return time.Time{}, false
		}
		return *value, !value.IsZero()
	default:
		return time.Time{}, false
	}
}
