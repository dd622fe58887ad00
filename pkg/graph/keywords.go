package graph

import (
	"strings"
	"unicode"
)

const (
	minKeywordRunes = 2
	maxKeywordRunes = 6
	// FallbackRunes is the length of the raw query prefix used when no
	// keyword survives extraction.
	FallbackRunes = 10
)

// chineseStopWords are removed from CJK runs before substrings are built.
// Replacement prefers earlier entries, so longer phrases are listed first.
var chineseStopWords = []string{
	"请问一下", "是什么", "有哪些", "怎么样", "为什么", "如何", "什么", "哪些", "怎么", "怎样",
	"请问", "关于", "以及", "或者", "还是", "是否", "可以", "应该", "需要", "一下",
	"我们", "你们", "他们", "这个", "那个", "这些", "那些", "的", "了", "是", "吗",
	"呢", "吧", "啊", "和", "与", "及", "或",
}

var englishStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "please": {}, "should": {}, "the": {},
	"to": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"with": {},
}

var stopWordReplacer = func() *strings.Replacer {
	pairs := make([]string, 0, len(chineseStopWords)*2)
	for _, w := range chineseStopWords {
		pairs = append(pairs, w, " ")
	}
	return strings.NewReplacer(pairs...)
}()

// ExtractKeywords derives lookup keywords from a free text query without a
// tokenizer. Punctuation and stop words split the query into segments and
// every 2 to 6 rune substring of every segment becomes a keyword, Latin
// segments lowercased. Keywords are unique and ordered by segment, then
// longest first. If nothing survives, the first FallbackRunes runes of the
// trimmed query are used.
func ExtractKeywords(query string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, query)
	cleaned = stopWordReplacer.Replace(cleaned)

	seen := make(map[string]struct{})
	keywords := make([]string, 0)

	for _, segment := range splitScripts(cleaned) {
		runes := []rune(segment)
		if !isHan(runes[0]) {
			segment = strings.ToLower(segment)
			if _, stop := englishStopWords[segment]; stop {
				continue
			}
			runes = []rune(segment)
		}
		for size := min(maxKeywordRunes, len(runes)); size >= minKeywordRunes; size-- {
			for start := 0; start+size <= len(runes); start++ {
				k := string(runes[start : start+size])
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				keywords = append(keywords, k)
			}
		}
	}

	if len(keywords) == 0 {
		fallback := []rune(strings.TrimSpace(query))
		if len(fallback) > FallbackRunes {
			fallback = fallback[:FallbackRunes]
		}
		if len(fallback) > 0 {
			keywords = append(keywords, string(fallback))
		}
	}

	return keywords
}

// splitScripts splits on whitespace and on every boundary between Han and
// non Han runes.
func splitScripts(s string) []string {
	var (
		out     []string
		current []rune
		han     bool
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, string(current))
			current = current[:0]
		}
	}
	for _, r := range s {
		if unicode.IsSpace(r) {
			flush()
			continue
		}
		if len(current) > 0 && isHan(r) != han {
			flush()
		}
		han = isHan(r)
		current = append(current, r)
	}
	flush()
	return out
}

func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}
