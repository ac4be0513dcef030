package engine

import (
	"net/url"
	"path"
	"strings"
)

// nativeVideoHost marks platform-hosted video that carries no file extension.
const nativeVideoHost = "v.redd.it"

var mediaExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".mp4":  {},
	".webm": {},
}

// ClassifyMedia returns ref when it points at an image or video and "" when
// it does not (or when ref is empty). It is a pure function of its input.
func ClassifyMedia(ref string) string {
	if ref == "" {
		return ""
	}
	if _, ok := mediaExtensions[strings.ToLower(path.Ext(refPath(ref)))]; ok {
		return ref
	}
	if strings.Contains(ref, nativeVideoHost) {
		return ref
	}
	return ""
}

// refPath strips query and fragment so "a.png?width=640" still counts.
func refPath(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return u.Path
}
