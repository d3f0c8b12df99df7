package token

import (
	"unicode"
)

// CountWords counts words the way chapter lengths are measured: every
// Han, Hiragana, Katakana or Hangul character counts as one word, and each
// run of other letters or digits counts as one word.
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			count++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' && inWord:
			if !inWord {
				count++
				inWord = true
			}
		default:
			inWord = false
		}
	}
	return count
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
