package parser

import (
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// NormalizeTerms dedupes category/tag references by id, then slug, then
// name. Bare strings are treated as names.
func NormalizeTerms(lists ...[]any) []models.Term {
	seen := make(map[string]struct{})
	out := make([]models.Term, 0)
	add := func(key string, term models.Term) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, term)
	}

	for _, list := range lists {
		for _, item := range list {
			if s, ok := item.(string); ok {
				name := strings.TrimSpace(s)
				if name == "" {
					continue
				}
				add("name:"+strings.ToLower(name), models.Term{Name: name})
				continue
			}
			obj := models.AsRecord(item)
			if obj == nil {
				continue
			}
			slug := strings.TrimSpace(obj.String("slug"))
			name := strings.TrimSpace(FirstNonEmpty(obj.String("name"), slug))
			id, hasID := obj.Int("id")
			if name == "" && slug == "" && !hasID {
				continue
			}

			term := models.Term{Slug: slug, Name: name}
			var key string
			switch {
			case hasID:
				term.ID = &id
				key = "id:" + strconv.FormatInt(id, 10)
			case slug != "":
				key = "slug:" + strings.ToLower(slug)
			default:
				key = "name:" + strings.ToLower(name)
			}
			add(key, term)
		}
	}
	return out
}

// TermNames joins the non-empty names of terms.
func TermNames(terms []models.Term) string {
	names := make([]string, 0, len(terms))
	for _, term := range terms {
		if term.Name != "" {
			names = append(names, term.Name)
		}
	}
	return strings.Join(names, ", ")
}
