package parser

import (
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// AttributeIdentity is the resolved display name and scope of a raw attribute.
type AttributeIdentity struct {
	Name   string
	Global bool
}

// ResolveIdentity picks the canonical name from name, label, taxonomy, slug
// and attribute key, in that order. Taxonomy-prefixed attributes and those
// carrying a positive numeric id are global.
func ResolveIdentity(attr models.Record) AttributeIdentity {
	name := FirstNonEmpty(
		FormatLabel(attr.String("name")),
		FormatLabel(attr.String("label")),
		FormatLabel(attr.String("taxonomy")),
		FormatLabel(attr.String("slug")),
		FormatLabel(attr.String("attribute")),
	)
	candidate := strings.ToLower(FirstNonEmpty(
		attr.String("taxonomy"),
		attr.String("slug"),
		attr.String("name"),
		attr.String("attribute"),
	))
	global := strings.HasPrefix(candidate, "pa_")
	if id, ok := attr.Int("id"); ok && id > 0 {
		global = true
	}
	return AttributeIdentity{Name: name, Global: global}
}

// AttributeValues extracts the option values of attr from whichever shape
// the source used: term objects, option lists, delimited strings or a
// single scalar. Global values are slugified. Order is first-seen.
func AttributeValues(attr models.Record, identity AttributeIdentity) []string {
	if attr == nil {
		return nil
	}
	c := valueCollector{global: identity.Global, seen: make(map[string]struct{})}

	for _, term := range attr.List("terms") {
		if obj := models.AsRecord(term); obj != nil {
			if identity.Global {
				c.push(FirstNonEmpty(obj.String("slug"), obj.String("name"), obj.String("value"), obj.String("option")))
			} else {
				c.push(FirstNonEmpty(obj.String("name"), obj.String("value"), obj.String("option"), obj.String("slug")))
			}
			continue
		}
		c.pushTokenized(models.ScalarString(term))
	}
	for _, option := range attr.List("options") {
		c.pushTokenized(models.ScalarString(option))
	}
	c.pushTokenized(attr.String("option"))
	for _, value := range attr.List("values") {
		c.pushTokenized(models.ScalarString(value))
	}
	c.pushTokenized(attr.String("value"))
	c.pushTokenized(attr.String("attribute_value"))

	return c.values
}

type valueCollector struct {
	global bool
	values []string
	seen   map[string]struct{}
}

func (c *valueCollector) push(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	value := raw
	if c.global {
		value = Slugify(raw)
	}
	if value == "" {
		return
	}
	if _, ok := c.seen[value]; ok {
		return
	}
	c.seen[value] = struct{}{}
	c.values = append(c.values, value)
}

func (c *valueCollector) pushTokenized(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	switch {
	case strings.Contains(raw, "|"):
		for _, token := range strings.Split(raw, "|") {
			c.push(token)
		}
	case strings.Contains(raw, ",") && !strings.Contains(raw, "http"):
		for _, token := range strings.Split(raw, ",") {
			c.push(token)
		}
	default:
		c.push(raw)
	}
}

// AttributeKeys returns every normalized alias of attr, including singular
// forms, so "pa_Colors" and "Color" share a key.
func AttributeKeys(attr models.Record) []string {
	raws := []string{
		attr.String("attribute"),
		attr.String("taxonomy"),
		attr.String("slug"),
		attr.String("name"),
		attr.String("label"),
		FormatLabel(attr.String("taxonomy")),
		FormatLabel(attr.String("slug")),
		FormatLabel(attr.String("name")),
		FormatLabel(attr.String("label")),
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, raw := range raws {
		for _, key := range KeyVariants(raw) {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

// AttributeKey is the single dedup key of a raw attribute.
func AttributeKey(attr models.Record) string {
	return NormalizeMatch(FirstNonEmpty(
		attr.String("attribute"),
		attr.String("taxonomy"),
		attr.String("slug"),
		ResolveIdentity(attr).Name,
	))
}

// NewDefinition builds the schema entry for one declared attribute.
func NewDefinition(attr models.Record) *models.AttributeDefinition {
	identity := ResolveIdentity(attr)
	values := AttributeValues(attr, identity)
	def := &models.AttributeDefinition{
		Name:    identity.Name,
		Global:  identity.Global,
		Visible: true,
		Values:  append([]string(nil), values...),
		Keys:    AttributeKeys(attr),
		Options: make(map[string]string, len(values)),
	}
	if visible, ok := attr.Bool("visible"); ok && !visible {
		def.Visible = false
	}
	for _, value := range values {
		def.Options[NormalizeMatch(value)] = value
	}
	return def
}

// BuildSchema derives the ordered attribute definitions of a product from
// its declared attributes, then backfills option values that only appear on
// variations.
func BuildSchema(attrs []models.Record, variations []*models.Variation) []*models.AttributeDefinition {
	schema := make([]*models.AttributeDefinition, 0, len(attrs))
	for _, attr := range attrs {
		schema = append(schema, NewDefinition(attr))
	}

	for _, variation := range variations {
		if variation == nil {
			continue
		}
		selections := SelectionMap(variation.Attributes)
		for _, def := range schema {
			resolved := ResolveSelection(def, Selected(def, selections))
			normalized := NormalizeMatch(resolved)
			if resolved == "" || normalized == "" {
				continue
			}
			if _, ok := def.Options[normalized]; ok {
				continue
			}
			def.Options[normalized] = resolved
			def.Values = append(def.Values, resolved)
		}
	}
	return schema
}

// SelectionMap maps every alias key of a variation's attributes to the
// first value the attribute selects. Earlier attributes win on key clashes.
func SelectionMap(attrs []models.Record) map[string]string {
	selections := make(map[string]string)
	for _, attr := range attrs {
		values := AttributeValues(attr, ResolveIdentity(attr))
		selected := ""
		if len(values) > 0 {
			selected = values[0]
		}
		for _, key := range AttributeKeys(attr) {
			if _, ok := selections[key]; !ok {
				selections[key] = selected
			}
		}
	}
	return selections
}

// Selected returns the raw selection for def, trying its keys in order.
func Selected(def *models.AttributeDefinition, selections map[string]string) string {
	for _, key := range def.Keys {
		if value, ok := selections[key]; ok {
			return value
		}
	}
	return ""
}

// ResolveSelection maps a raw selection onto def's display values: exact
// normalized match, then containment either way, then the raw text.
func ResolveSelection(def *models.AttributeDefinition, selected string) string {
	if selected == "" {
		return ""
	}
	normalized := NormalizeMatch(selected)
	if normalized == "" {
		return ""
	}
	if value, ok := def.Options[normalized]; ok {
		return value
	}
	// Values preserves insertion order; Options iteration would not.
	for _, value := range def.Values {
		key := NormalizeMatch(value)
		if key == "" {
			continue
		}
		if strings.Contains(key, normalized) || strings.Contains(normalized, key) {
			return value
		}
	}
	return selected
}

// NormalizeAttributes dedupes attributes by AttributeKey. On collision the
// entry with more values wins, overlaid on the earlier one.
func NormalizeAttributes(attrs []models.Record) []models.Record {
	order := make([]string, 0, len(attrs))
	byKey := make(map[string]models.Record, len(attrs))
	for _, attr := range attrs {
		if len(attr) == 0 {
			continue
		}
		key := AttributeKey(attr)
		if key == "" {
			continue
		}
		existing, ok := byKey[key]
		if !ok {
			order = append(order, key)
			byKey[key] = attr
			continue
		}
		existingValues := AttributeValues(existing, ResolveIdentity(existing))
		nextValues := AttributeValues(attr, ResolveIdentity(attr))
		if len(nextValues) > len(existingValues) {
			merged := existing.Clone()
			for k, v := range attr {
				merged[k] = v
			}
			byKey[key] = merged
		}
	}
	out := make([]models.Record, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}
