package normalize

// stopwords is the fixed list dropped from token counts (spec §4.A). Kept as a
// plain set, the same convention engine/domain/validate.go uses for its
// profanityWords list.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "shall": true, "to": true, "of": true,
	"in": true, "for": true, "on": true, "with": true, "at": true, "by": true,
	"from": true, "as": true, "into": true, "through": true, "during": true,
	"before": true, "after": true, "what": true, "where": true, "when": true,
	"how": true, "which": true, "who": true, "whom": true, "this": true,
	"that": true, "these": true, "those": true, "i": true, "me": true,
	"my": true, "it": true, "its": true, "and": true, "but": true, "or": true,
	"not": true, "we": true, "you": true, "your": true, "they": true,
	"them": true, "their": true, "he": true, "she": true, "his": true,
	"her": true, "if": true, "then": true, "than": true, "so": true,
	"such": true, "no": true, "nor": true, "too": true, "very": true,
	"just": true, "about": true, "also": true, "all": true, "any": true,
	"both": true, "each": true, "more": true, "most": true, "other": true,
	"some": true, "only": true, "own": true, "same": true, "up": true,
	"down": true, "out": true, "off": true, "over": true, "under": true,
	"again": true, "once": true, "there": true, "here": true,
}
