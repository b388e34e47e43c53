package service

import (
	"strings"

	"github.com/gosimple/slug"
)

const maxSlugLen = 200

// Slugify turns a title or caller-supplied slug into its URL-safe form.
// The result may be empty when s has no sluggable characters.
func Slugify(s string) string {
	out := slug.Make(s)
	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}
	return out
}
