package parser

import (
	"net/url"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// imageKeys are the object keys that may hold an image URL.
var imageKeys = []string{"src", "thumbnail", "url", "full", "original"}

// ExtractImageURLs collects image URLs from a string, a list, or an object
// with one of the known keys. Lists may nest; objects do not recurse.
func ExtractImageURLs(value any) []string {
	var out []string
	collectImageURLs(value, &out)
	return out
}

func collectImageURLs(value any, out *[]string) {
	switch typed := value.(type) {
	case nil:
	case string:
		if typed != "" {
			*out = append(*out, typed)
		}
	case []any, []models.Record, []string:
		for _, item := range models.AsList(typed) {
			collectImageURLs(item, out)
		}
	case map[string]any, models.Record:
		obj := models.AsRecord(typed)
		for _, key := range imageKeys {
			if s := obj.String(key); s != "" {
				*out = append(*out, s)
			}
		}
	}
}

// AbsoluteURL resolves ref against base. It returns "" when ref is empty or
// cannot be parsed.
func AbsoluteURL(ref string, base *url.URL) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.String()
}

// VariationImageSrc returns the first resolvable image of a variation-like
// record, checking image, images, and the same keys under raw.
func VariationImageSrc(rec models.Record, siteRoot *url.URL) string {
	raw := rec.Object("raw")
	var candidates []string
	candidates = append(candidates, ExtractImageURLs(rec.Get("image"))...)
	candidates = append(candidates, ExtractImageURLs(rec.Get("images"))...)
	candidates = append(candidates, ExtractImageURLs(raw.Get("image"))...)
	candidates = append(candidates, ExtractImageURLs(raw.Get("images"))...)
	for _, candidate := range candidates {
		if abs := AbsoluteURL(candidate, siteRoot); abs != "" {
			return abs
		}
	}
	return ""
}

// ProductImages converts the product "images" list into absolute references.
func ProductImages(rec models.Record, siteRoot *url.URL) []models.Image {
	images := make([]models.Image, 0)
	for _, item := range rec.List("images") {
		obj := models.AsRecord(item)
		if obj == nil {
			if s, ok := item.(string); ok {
				if abs := AbsoluteURL(s, siteRoot); abs != "" {
					images = append(images, models.Image{Src: abs})
				}
			}
			continue
		}
		src := obj.String("src")
		abs := AbsoluteURL(src, siteRoot)
		if abs == "" {
			abs = strings.TrimSpace(src)
		}
		if abs == "" {
			continue
		}
		id, _ := obj.Int("id")
		images = append(images, models.Image{
			ID:        id,
			Src:       abs,
			Thumbnail: obj.String("thumbnail"),
			Name:      obj.String("name"),
			Alt:       obj.String("alt"),
		})
	}
	return images
}
