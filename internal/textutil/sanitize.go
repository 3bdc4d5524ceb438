package textutil

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters and control characters are removed.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, fileNameReplacer.Replace(name))
	return strings.Trim(strings.TrimSpace(name), ".")
}

// FoldName decomposes name and drops combining marks, so "Café Ñandú" becomes
// "Cafe Nandu". Characters without a decomposition are kept as they are.
func FoldName(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		return name
	}
	return folded
}

// OutputName derives an output filename from an input path: the folded,
// sanitized stem of input, then suffix, then ext. An unusable stem falls back
// to suffix alone.
func OutputName(input, suffix, ext string) string {
	return OutputStem(input, suffix) + "." + strings.TrimPrefix(ext, ".")
}

// OutputStem is OutputName without the extension.
func OutputStem(input, suffix string) string {
	base := filepath.Base(strings.TrimSpace(input))
	stem := SanitizeFileName(FoldName(strings.TrimSuffix(base, filepath.Ext(base))))
	if stem == "" || stem == "-" {
		return suffix
	}
	return stem + "_" + suffix
}

// Extension returns the lowercase extension of name including the dot, or
// fallback when name has none or it contains unsafe characters.
func Extension(name, fallback string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return fallback
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fallback
		}
	}
	return ext
}
