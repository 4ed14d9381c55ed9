package transcoder

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/agleyzer/hlsfetch/internal/segment"
)

// LanguageCodes maps display labels to the three-letter codes written as
// subtitle stream metadata.
var LanguageCodes = map[string]string{
	"English":         "eng",
	"French":          "fre",
	"German":          "ger",
	"Italian":         "ita",
	"Portuguese":      "por",
	"Portuguese (BR)": "por",
	"Spanish":         "spa",
}

// LanguageCode returns the code for label, or the lower-cased first three
// letters of the file stem of rawURL when label is not in LanguageCodes.
func LanguageCode(label, rawURL string) string {
	if code, ok := LanguageCodes[label]; ok {
		return code
	}

	stem := []rune(segment.Stem(rawURL))
	if len(stem) > 3 {
		stem = stem[:3]
	}
	return strings.ToLower(string(stem))
}

// SubtitleCodec returns the text subtitle codec the container at out can
// carry.
func SubtitleCodec(out string) string {
	switch strings.ToLower(filepath.Ext(out)) {
	case ".mkv":
		return "srt"
	default:
		return "mov_text"
	}
}

// RemuxArgs builds a stream-copy remux of every stream in in.
func RemuxArgs(in, out string) []string {
	return []string{
		"-v", "-8",
		"-y",
		"-i", in,
		"-map", "0",
		"-c", "copy",
		out,
	}
}

// MuxArgs builds a mux of the video and audio of in plus one subtitle
// stream per entry of subs, each tagged with its language code.
func MuxArgs(in string, subs []Subtitle, out string) []string {
	args := []string{"-xerror", "-v", "-8", "-y", "-i", in}
	for _, s := range subs {
		args = append(args, "-i", s.Path)
	}

	args = append(args, "-map", "0:v", "-map", "0:a")
	for i := range subs {
		args = append(args, "-map", fmt.Sprint(i+1))
	}

	args = append(args, "-c:v", "copy", "-c:a", "copy", "-c:s", SubtitleCodec(out))

	for i, s := range subs {
		src := s.URL
		if src == "" {
			src = path.Base(filepath.ToSlash(s.Path))
		}
		args = append(args,
			fmt.Sprintf("-metadata:s:s:%d", i),
			"language="+LanguageCode(s.Label, src),
		)
	}

	return append(args, out)
}
