package constants

import "strings"

// Format is the coarse input class a recognition job is dispatched on.
type Format string

// Stable values (store these exact strings in DB).
const (
	PDF   Format = "PDF"
	IMAGE Format = "IMAGE"
)

// AllowedExtensions holds the default allowed file extensions for document ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tif":  {},
	"tiff": {},
	"bmp":  {},
	"webp": {},
	"heic": {},
	"heif": {},
}

// extToMime maps normalized extensions to the mime type reported for them.
var extToMime = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"bmp":  "image/bmp",
	"webp": "image/webp",
	"heic": "image/heic",
	"heif": "image/heif",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat returns the Format for a normalized extension, or "" if the
// extension is not recognized.
func MapExtToFormat(ext string) Format {
	if ext == "pdf" {
		return PDF
	}
	if _, ok := AllowedExtensions[ext]; ok {
		return IMAGE
	}
	return ""
}

// IsHEICExt reports whether the normalized extension needs HEIC conversion
// before OCR.
func IsHEICExt(ext string) bool {
	return ext == "heic" || ext == "heif"
}

// MimeForExt returns the mime type for a normalized extension, or "" if the
// extension is not recognized.
func MimeForExt(ext string) string {
	return extToMime[ext]
}

// FormatForMime maps a declared mime type to a Format. application/pdf maps
// to PDF, any image/* subtype maps to IMAGE, everything else is unsupported
// and returns "".
func FormatForMime(mime string) Format {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "application/pdf" {
		return PDF
	}
	if strings.HasPrefix(mime, "image/") {
		return IMAGE
	}
	return ""
}
