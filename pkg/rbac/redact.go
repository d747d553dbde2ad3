package rbac

// Redacted replaces string fields the principal may not see. Numbers and
// structured values are replaced by nil so downstream JSON carries null.
const Redacted = "[redacted]"

// Sensitivity annotates record fields with the minimum data-access level
// required to see them. Unannotated fields are visible to everyone.
type Sensitivity map[string]int

// Redact returns a copy of record with every field the principal's
// data-access level does not admit replaced by a sentinel. The input is
// never mutated; redaction must be safe to apply to shared tool output.
func Redact(record map[string]any, sensitivity Sensitivity, p Principal) map[string]any {
	if record == nil {
		return nil
	}
	out := make(map[string]any, len(record))
	for field, value := range record {
		level, annotated := sensitivity[field]
		if !annotated || p.CanRead(level) {
			out[field] = value
			continue
		}
		out[field] = sentinel(value)
	}
	return out
}

// RedactAll redacts a slice of records.
func RedactAll(records []map[string]any, sensitivity Sensitivity, p Principal) []map[string]any {
	if records == nil {
		return nil
	}
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = Redact(rec, sensitivity, p)
	}
	return out
}

func sentinel(value any) any {
	if _, ok := value.(string); ok {
		return Redacted
	}
	return nil
}
