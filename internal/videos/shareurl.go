package videos

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var shareURLPattern = regexp.MustCompile(`https?://\S+`)

// shareTrailing lists punctuation share texts glue onto links.
const shareTrailing = "。，！？、）】}"

// ExtractShareURL pulls the first link out of pasted share text, such as
// "7.43 复制打开抖音，看看【作品】 https://v.douyin.com/iRNBho6/ 复制此链接".
func ExtractShareURL(text string) (string, error) {
	text = norm.NFC.String(text)
	match := shareURLPattern.FindString(text)
	if match == "" {
		return "", ErrNoShareURL
	}
	if i := strings.IndexFunc(match, unicode.IsSpace); i >= 0 {
		match = match[:i]
	}
	match = strings.Map(func(r rune) rune {
		if strings.ContainsRune(shareTrailing, r) {
			return -1
		}
		return r
	}, match)
	if len(match) <= len("https://") {
		return "", ErrNoShareURL
	}
	return match, nil
}
