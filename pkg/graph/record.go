package graph

// Record is one row of query output keyed by return alias. The driver
// hands values back as any; the accessors coerce the shapes neo4j
// actually produces (int64 for integers, []any for lists).
type Record map[string]any

func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

func (r Record) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func (r Record) Int(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func (r Record) Bool(key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}

func (r Record) StringSlice(key string) []string {
	raw, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r Record) Map(key string) map[string]any {
	if v, ok := r[key].(map[string]any); ok {
		return v
	}
	return nil
}

func (r Record) Slice(key string) []any {
	if v, ok := r[key].([]any); ok {
		return v
	}
	return nil
}
