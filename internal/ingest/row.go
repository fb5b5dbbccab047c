package ingest

// Row is one source record: values in header order plus the batch home ZIP.
type Row struct {
	Headers []string
	Values  []string
	HomeZip string
}

// NewRow zips values against headers. Missing trailing values become ""
// and surplus values are dropped.
func NewRow(headers, values []string, homeZip string) Row {
	v := make([]string, len(headers))
	copy(v, values)
	return Row{Headers: headers, Values: v, HomeZip: homeZip}
}

// Get returns the value under header. Duplicate headers resolve to the first.
func (r Row) Get(header string) (string, bool) {
	for i, h := range r.Headers {
		if h == header {
			return r.Values[i], true
		}
	}
	return "", false
}

// Map returns the row as a header to value map.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r.Headers))
	for i := len(r.Headers) - 1; i >= 0; i-- {
		m[r.Headers[i]] = r.Values[i]
	}
	return m
}

func isBlank(values []string) bool {
	for _, v := range values {
		if v != "" {
			return false
		}
	}
	return true
}
