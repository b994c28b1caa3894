package fingerprint

import "net/http"

// headerEntry stores a single header key/value pair with its original
// casing.
type headerEntry struct {
	key   string
	value string
}

// OrderedHeader is a drop-in companion to http.Header that preserves the
// exact capitalisation and insertion order of HTTP headers.
//
// Unlike http.Header (a map[string][]string, therefore unordered),
// OrderedHeader stores entries in a slice so iteration always returns them
// in the order they were added. This matters for fingerprinting: edges
// profile both the capitalisation ("sec-ch-ua-platform" vs
// "Sec-Ch-Ua-Platform") and the ordering of headers such as
// "accept-language", "sec-ch-ua-*", and "user-agent".
//
// OrderedHeader is NOT safe for concurrent use without external
// synchronisation; callers build one per request and discard it afterward.
type OrderedHeader struct {
	entries []headerEntry
}

// Add appends key/value, preserving the exact casing of key. Multiple calls
// with the same key produce multiple entries (like http.Header.Add).
func (h *OrderedHeader) Add(key, value string) {
	h.entries = append(h.entries, headerEntry{key: key, value: value})
}

// Set replaces the first entry whose key matches key (case-insensitively)
// with the new value and removes subsequent duplicates, preserving the
// position of the first match. If no entry with that key exists, Set
// behaves like Add (appending at the end).
func (h *OrderedHeader) Set(key, value string) {
	canonKey := http.CanonicalHeaderKey(key)
	replaced := false
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			if !replaced {
				out = append(out, headerEntry{key: key, value: value})
				replaced = true
			}
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, headerEntry{key: key, value: value})
	}
	h.entries = out
}

// SetPreservingPosition behaves like Set but, when key already exists,
// keeps the original key casing rather than adopting the new casing. This
// implements compose_request_headers rule 4: user overrides replace a
// template header's value without disturbing the template's declared
// casing or position.
func (h *OrderedHeader) SetPreservingPosition(key, value string) {
	canonKey := http.CanonicalHeaderKey(key)
	for i, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			h.entries[i].value = value
			return
		}
	}
	h.Add(key, value)
}

// Del removes all entries whose key matches key (case-insensitively).
func (h *OrderedHeader) Del(key string) {
	canonKey := http.CanonicalHeaderKey(key)
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) != canonKey {
			out = append(out, e)
		}
	}
	h.entries = out
}

// Get returns the value of the first entry whose key matches key
// (case-insensitively), or "" if absent.
func (h *OrderedHeader) Get(key string) string {
	canonKey := http.CanonicalHeaderKey(key)
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			return e.value
		}
	}
	return ""
}

// Has reports whether key is present (case-insensitively).
func (h *OrderedHeader) Has(key string) bool {
	canonKey := http.CanonicalHeaderKey(key)
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			return true
		}
	}
	return false
}

// Len returns the number of header entries, including duplicates.
func (h *OrderedHeader) Len() int { return len(h.entries) }

// Clone returns a deep copy of the receiver.
func (h *OrderedHeader) Clone() *OrderedHeader {
	c := &OrderedHeader{entries: make([]headerEntry, len(h.entries))}
	copy(c.entries, h.entries)
	return c
}

// Keys returns the ordered, deduplicated list of header names as declared
// (original casing of first occurrence).
func (h *OrderedHeader) Keys() []string {
	seen := make(map[string]bool, len(h.entries))
	keys := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		canon := http.CanonicalHeaderKey(e.key)
		if seen[canon] {
			continue
		}
		seen[canon] = true
		keys = append(keys, e.key)
	}
	return keys
}

// ApplyToRequest writes every entry into req.Header, keeping exact key
// casing by bypassing http.Header's canonicalisation and writing the raw
// key directly into the underlying map. HTTP/1.1 sends those keys as
// given. Insertion order is not kept: http.Header is a map, net/http's
// HTTP/1.1 writer emits Host and User-Agent first and the remaining fields
// sorted by name, and HTTP/2 lowercases every field name and sends them in
// no fixed order.
//
// Any headers already present on req are discarded first.
func (h *OrderedHeader) ApplyToRequest(req *http.Request) {
	req.Header = make(http.Header, len(h.entries))
	for _, e := range h.entries {
		req.Header[e.key] = append(req.Header[e.key], e.value)
	}
}

// ToHTTPHeader converts the OrderedHeader to a standard http.Header map.
// Insertion order is not preserved (maps are unordered) but exact key
// casing is, because the raw key is used rather than its canonical form.
func (h *OrderedHeader) ToHTTPHeader() http.Header {
	out := make(http.Header, len(h.entries))
	for _, e := range h.entries {
		out[e.key] = append(out[e.key], e.value)
	}
	return out
}
