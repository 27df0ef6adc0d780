package oribot

import (
	"fmt"
	"regexp"
	"strings"
)

// Regex fragments used by MatcherBuilder. The punctuation set is fixed:
// comma, period, bang, question mark, tilde, single and double quote.
const (
	fragmentSomePunctuationWithSpace = `(,|\.|!|\?|~|'|"| )+`
	fragmentSomePunctuation          = `(,|\.|!|\?|~|'|")+`
	fragmentSomeSpaceOrPeriod        = `( |\.)+`
	fragmentSomeSpace                = ` +`

	fragmentAnyPunctuationWithSpace = `(,|\.|!|\?|~|'|"| )*`
	fragmentAnyPunctuation          = `(,|\.|!|\?|~|'|")*`
	fragmentAnySpaceOrPeriod        = `( |\.)*`
	fragmentAnySpace                = ` *`
)

// orGroup builds an alternation group `(a|b|c)` from literal tokens.
// Tokens are escaped, so metacharacters in a token match literally.
func orGroup(tokens ...string) string {
	escaped := make([]string, len(tokens))
	for i, token := range tokens {
		escaped[i] = regexp.QuoteMeta(token)
	}
	return "(" + strings.Join(escaped, "|") + ")"
}

// rawOrGroup builds an alternation group from fragments that are
// already valid regex (e.g. nested groups built by orGroup).
func rawOrGroup(fragments ...string) string {
	return "(" + strings.Join(fragments, "|") + ")"
}

// Matcher wraps a case-insensitive compiled regex with the match
// semantics the passive-response tables rely on.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
	// Anchored variant for whole-input matches. A separate compile is
	// needed because alternations prefer earlier branches: finding
	// "ori" inside "oribot" and checking the span would reject input
	// the anchored pattern accepts.
	strict *regexp.Regexp
}

// NewMatcher compiles pattern case-insensitively. A pattern that does
// not compile is a programming error in the fragment chain.
func NewMatcher(pattern string) (*Matcher, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling matcher pattern %q: %w", pattern, err)
	}
	strict, err := regexp.Compile("(?i)^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("compiling matcher pattern %q: %w", pattern, err)
	}
	return &Matcher{pattern: pattern, re: re, strict: strict}, nil
}

// Pattern returns the uncompiled pattern, without the
// case-insensitivity flag.
func (m *Matcher) Pattern() string {
	return m.pattern
}

// Match reports whether the pattern occurs anywhere in text.
func (m *Matcher) Match(text string) bool {
	return m.re.MatchString(text)
}

// MatchStrict reports whether the pattern covers the entire input.
// This is the operation trigger recognition uses: any stray leading or
// trailing character outside the fragment chain causes a full miss.
func (m *Matcher) MatchStrict(text string) bool {
	if text == "" {
		return false
	}
	return m.strict.MatchString(text)
}

// Replace substitutes every occurrence of the pattern in text.
func (m *Matcher) Replace(text string, replacement string) string {
	return m.re.ReplaceAllString(text, replacement)
}

// MatcherBuilder assembles a pattern from ordered fragments. Fragments
// concatenate in call order; Build compiles the result once.
type MatcherBuilder struct {
	fragments []string
	err       error
}

func NewMatcherBuilder() *MatcherBuilder {
	return &MatcherBuilder{}
}

func (b *MatcherBuilder) add(fragment string) *MatcherBuilder {
	b.fragments = append(b.fragments, fragment)
	return b
}

// BeginningMarker anchors the pattern to the start of the input.
func (b *MatcherBuilder) BeginningMarker() *MatcherBuilder {
	return b.add("^")
}

// Space requires one or more spaces.
func (b *MatcherBuilder) Space() *MatcherBuilder {
	return b.add(fragmentSomeSpace)
}

// Punctuation requires one or more punctuation characters.
func (b *MatcherBuilder) Punctuation() *MatcherBuilder {
	return b.add(fragmentSomePunctuation)
}

// SpaceOrPeriod requires one or more spaces or periods.
func (b *MatcherBuilder) SpaceOrPeriod() *MatcherBuilder {
	return b.add(fragmentSomeSpaceOrPeriod)
}

// PunctuationAndSpace requires one or more punctuation characters or
// spaces.
func (b *MatcherBuilder) PunctuationAndSpace() *MatcherBuilder {
	return b.add(fragmentSomePunctuationWithSpace)
}

// AnyLengthSpace allows zero or more spaces.
func (b *MatcherBuilder) AnyLengthSpace() *MatcherBuilder {
	return b.add(fragmentAnySpace)
}

// AnyPunctuation allows zero or more punctuation characters.
func (b *MatcherBuilder) AnyPunctuation() *MatcherBuilder {
	return b.add(fragmentAnyPunctuation)
}

// AnySpaceOrPeriod allows zero or more spaces or periods.
func (b *MatcherBuilder) AnySpaceOrPeriod() *MatcherBuilder {
	return b.add(fragmentAnySpaceOrPeriod)
}

// AnyPunctuationAndSpace allows zero or more punctuation characters or
// spaces.
func (b *MatcherBuilder) AnyPunctuationAndSpace() *MatcherBuilder {
	return b.add(fragmentAnyPunctuationWithSpace)
}

// Tokens appends an alternation of literal phrases. Every token is
// escaped before interpolation, so tokens containing regex
// metacharacters still match as written.
func (b *MatcherBuilder) Tokens(tokens ...string) *MatcherBuilder {
	if len(tokens) == 0 {
		if b.err == nil {
			b.err = fmt.Errorf("matcher builder: empty token list")
		}
		return b
	}
	return b.add(orGroup(tokens...))
}

// Custom appends a raw regex fragment verbatim. Unlike Tokens, no
// escaping is applied; the caller owns the fragment's correctness.
func (b *MatcherBuilder) Custom(pattern string) *MatcherBuilder {
	return b.add(pattern)
}

// Pattern returns the fragments concatenated so far.
func (b *MatcherBuilder) Pattern() string {
	return strings.Join(b.fragments, "")
}

// Build compiles the accumulated fragments into a Matcher.
func (b *MatcherBuilder) Build() (*Matcher, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewMatcher(b.Pattern())
}

// mustBuild panics on a build error. Used only for the static trigger
// tables assembled at startup, where a malformed chain is fatal.
func (b *MatcherBuilder) mustBuild() *Matcher {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}
