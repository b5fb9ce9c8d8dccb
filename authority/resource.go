package authority

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/always-cache/condfetch/rfc9111"
)

// Resource describes one logical resource served by the authority.
type Resource struct {
	Name string `yaml:"name"`
	// Field is the member of the representation that holds the content.
	Field  string         `yaml:"field"`
	Policy rfc9111.Policy `yaml:"policy"`
	// Vary lists the request fields the representation depends on.
	Vary     []string `yaml:"vary"`
	Writable bool     `yaml:"writable"`
	// Titles maps a language prefix to the representation title. The empty
	// prefix is the default. No titles means the representation has none.
	Titles map[string]string `yaml:"titles"`
}

// DefaultResources is the catalogue served when none is configured.
func DefaultResources() []Resource {
	return []Resource{
		{
			Name:  "products",
			Field: "items",
			Policy: rfc9111.Policy{
				MaxAge:               3 * time.Second,
				StaleWhileRevalidate: 5 * time.Second,
			},
			Vary:   []string{"Accept-Language"},
			Titles: map[string]string{"": "Products", "ko": "상품 목록"},
		},
		{
			Name:  "user",
			Field: "user",
			Policy: rfc9111.Policy{
				MaxAge:         2 * time.Second,
				Private:        true,
				MustRevalidate: true,
			},
			Vary:     []string{"Accept-Language"},
			Writable: true,
		},
	}
}

// DefaultContent seeds a new store for DefaultResources.
func DefaultContent() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"products": json.RawMessage(`[{"id":1,"name":"Keyboard","price":49000},{"id":2,"name":"Mouse","price":19000},{"id":3,"name":"Monitor","price":239000}]`),
		"user":     json.RawMessage(`{"id":1,"name":"Alice"}`),
	}
}

// FieldName is the representation member holding the content.
func (r Resource) FieldName() string {
	if r.Field == "" {
		return r.Name
	}
	return r.Field
}

// title picks the title for the Accept-Language value. The longest matching
// language prefix wins; a missing language is "en".
func (r Resource) title(acceptLanguage string) (string, bool) {
	if len(r.Titles) == 0 {
		return "", false
	}
	lang := strings.ToLower(strings.TrimSpace(acceptLanguage))
	if lang == "" {
		lang = "en"
	}
	best, found := "", false
	for prefix := range r.Titles {
		if prefix != "" && strings.HasPrefix(lang, strings.ToLower(prefix)) && len(prefix) > len(best) {
			best, found = prefix, true
		}
	}
	if found {
		return r.Titles[best], true
	}
	title, ok := r.Titles[""]
	return title, ok
}

// representation is the body of a read, without the volatile members
// (server version and time) that are added when it is sent.
func (r Resource) representation(content json.RawMessage, acceptLanguage string) map[string]any {
	rep := map[string]any{
		"type":        r.Name,
		r.FieldName(): content,
	}
	if title, ok := r.title(acceptLanguage); ok {
		rep["title"] = title
	}
	return rep
}
