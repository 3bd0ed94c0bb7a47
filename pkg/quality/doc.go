/*
Package quality implements the Quality Verifier: a deterministic rule
table that classifies a fetched artifact as good, marginal, or bad before
it is allowed to commit.

Every check runs, in a fixed order — minimum size, word count, paywall
signal count, soft-404 pattern match, JS-gated content, paragraph
structure — and any rule producing a "bad" reason makes the verdict "bad",
with all such reasons returned together; a single paywall
signal degrades the result to "marginal" without blocking commit.
Paragraph and paywall-pattern scanning walk the parsed DOM via goquery
rather than regexing raw HTML, since "a paragraph of non-trivial length"
is a structural property of the markup, not a string pattern.
*/
package quality
