package schema

import (
	"strings"
	"unicode"

	pluralizer "github.com/gertd/go-pluralize"
)

// pluralizeClient is a singleton instance for consistent pluralization behavior.
var pluralizeClient = pluralizer.NewClient()

// CollectionName converts a model name to its default collection name:
// camelCase, pluralized. This is the common MongoDB convention ("User" ->
// "users", "OrderItem" -> "orderItems").
func CollectionName(modelName string) string {
	camel := toCamelCase(modelName)
	return pluralizeClient.Pluralize(camel, 2, false)
}

// toCamelCase lowercases the leading uppercase run of a PascalCase or
// snake_case name and joins the remaining words.
func toCamelCase(name string) string {
	if name == "" {
		return ""
	}

	if strings.Contains(name, "_") {
		parts := strings.Split(name, "_")
		var b strings.Builder
		b.Grow(len(name))
		for i, part := range parts {
			if part == "" {
				continue
			}
			if i == 0 {
				b.WriteString(strings.ToLower(part))
				continue
			}
			b.WriteString(strings.ToUpper(part[:1]))
			b.WriteString(strings.ToLower(part[1:]))
		}
		return b.String()
	}

	runes := []rune(name)
	// Lowercase the leading uppercase run, keeping the last capital of an
	// acronym when a lowercase letter follows ("HTTPServer" -> "httpServer").
	i := 0
	for i < len(runes) && unicode.IsUpper(runes[i]) {
		i++
	}
	if i == 0 {
		return name
	}
	if i < len(runes) && i > 1 {
		i--
	}
	return strings.ToLower(string(runes[:i])) + string(runes[i:])
}
