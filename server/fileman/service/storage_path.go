package service

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxExtensionLength = 10

// NewStoragePath names a blob <owner>/<parent>/<unix-millis>-<32 hex><ext>.
// The random part makes collisions and guessing impractical.
func NewStoragePath(ownerID, parentID, displayName string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s/%s/%d-%s%s",
		pathSegment(ownerID), pathSegment(parentID), now.UnixMilli(), random, safeExtension(displayName))
}

func pathSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

func safeExtension(name string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	if len(ext) < 2 || len(ext) > maxExtensionLength {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// ThumbnailPath derives the thumbnail location from a blob's storage path.
func ThumbnailPath(storagePath string) string {
	return strings.TrimSuffix(storagePath, path.Ext(storagePath)) + "_thumb.jpg"
}
