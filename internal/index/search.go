package index

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gramsearch/internal/analysis"
)

// SearchRequest captures the parameters for executing a search against an index snapshot.
type SearchRequest struct {
	Query    string
	Page     int
	PageSize int
	Filters  string
}

// SearchResponse contains the ranked hits plus paging metadata.
type SearchResponse struct {
	TotalHits int         `json:"totalHits"`
	Page      int         `json:"page"`
	PageSize  int         `json:"pageSize"`
	Hits      []SearchHit `json:"hits"`
}

// SearchHit represents a single matched document and its associated metadata.
type SearchHit struct {
	ID         string            `json:"id"`
	Score      float64           `json:"score"`
	Highlights map[string]string `json:"highlights,omitempty"`
	Source     map[string]any    `json:"source,omitempty"`
}

// QueryTerm encapsulates either a single term or a quoted phrase as part of the parsed query string.
type QueryTerm struct {
	Term    string
	Phrase  []string
	Must    bool
	MustNot bool
}

// ParsedQuery is the intermediate representation of a user query after tokenization and parsing.
type ParsedQuery struct {
	Terms   []QueryTerm
	Filters []Filter
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
	snippetRadius   = 40
)

// location is the anchor a set of grams must share to count as one word match: the field and,
// for per-word analyzers, the token position.
type location struct {
	field string
	pos   int
}

type docLocations map[string]map[location]struct{}

func (d docLocations) add(docID string, loc location) {
	locs, ok := d[docID]
	if !ok {
		locs = make(map[location]struct{})
		d[docID] = locs
	}
	locs[loc] = struct{}{}
}

// queryClause is a query term resolved into index terms. Each word lists the terms that must all
// occur at one location; offsets hold the query position of each word.
type queryClause struct {
	words   [][]string
	offsets []int
	phrase  bool
	must    bool
	mustNot bool
}

// clauseMatch records, per document, the locations each word of a clause matched at.
type clauseMatch map[string][]map[location]struct{}

// Searcher executes BM25-ranked queries over an immutable snapshot of postings and a document store.
type Searcher struct {
	def          Definition
	postings     map[string][]Posting
	docs         map[string]map[string]any
	stats        BM25Stats
	analyzer     *Analyzer
	docLengths   map[string]int
	avgDocLength float64
}

// NewSearcher constructs a Searcher from a segment snapshot. A nil analyzer selects the standard one.
func NewSearcher(def Definition, snapshot SegmentSnapshot, analyzer *Analyzer) *Searcher {
	docs := make(map[string]map[string]any, len(snapshot.Docs))
	for _, doc := range snapshot.Docs {
		if IsDeleted(doc) {
			continue
		}
		if id, ok := doc["id"].(string); ok {
			docs[id] = doc
		}
	}

	docLengths := make(map[string]int)
	totalTerms := 0
	for _, postings := range snapshot.Postings {
		for _, p := range postings {
			docLengths[p.DocID] += len(p.Positions)
			totalTerms += len(p.Positions)
		}
	}

	avgDocLength := 0.0
	if len(docLengths) > 0 {
		avgDocLength = float64(totalTerms) / float64(len(docLengths))
	}

	if analyzer == nil {
		analyzer = StandardAnalyzer()
	}

	return &Searcher{
		def:          def,
		postings:     snapshot.Postings,
		docs:         docs,
		stats:        snapshot.Stats,
		analyzer:     analyzer,
		docLengths:   docLengths,
		avgDocLength: avgDocLength,
	}
}

// StandardAnalyzer returns the whitespace and lowercase analyzer.
func StandardAnalyzer() *Analyzer {
	a, err := analysis.New(analysis.TypeStandard, analysis.Settings{Type: analysis.TypeStandard}, analysis.Dependencies{})
	if err != nil {
		panic(fmt.Sprintf("standard analyzer: %v", err))
	}
	return NewAnalyzer(a)
}

// ParseQuery breaks the raw query string (and optional filters string) into structured components.
// Terms keep their original spelling; normalization is left to the analyzer.
func ParseQuery(raw string, filters string) ParsedQuery {
	tokens := tokenizeQuery(raw)
	if filters != "" {
		tokens = append(tokens, tokenizeQuery(filters)...)
	}

	parsed := ParsedQuery{}
	for _, tok := range tokens {
		term := tok
		must := true // default AND semantics
		mustNot := false

		if strings.HasPrefix(term, "+") {
			term = strings.TrimPrefix(term, "+")
		} else if strings.HasPrefix(term, "-") {
			term = strings.TrimPrefix(term, "-")
			must = false
			mustNot = true
		}

		if f, ok := parseFilterToken(term); ok {
			parsed.Filters = append(parsed.Filters, f)
			continue
		}

		if phrase := parsePhrase(term); len(phrase) > 0 {
			parsed.Terms = append(parsed.Terms, QueryTerm{Phrase: phrase, Must: must, MustNot: mustNot})
			continue
		}

		if trimmed := strings.TrimSpace(term); trimmed != "" {
			parsed.Terms = append(parsed.Terms, QueryTerm{Term: trimmed, Must: must, MustNot: mustNot})
		}
	}

	return parsed
}

// Search executes the ranked query and applies filters, pagination, and highlighting.
func (s *Searcher) Search(req SearchRequest) SearchResponse {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	parsed := ParseQuery(req.Query, req.Filters)
	clauses := s.compile(parsed)
	matches := make([]clauseMatch, len(clauses))
	for i, c := range clauses {
		matches[i] = s.matchClause(c)
	}

	candidates := evaluateCandidates(clauses, matches)
	scores := s.scoreDocuments(clauses, candidates)
	filtered := s.applyFilters(parsed.Filters, scores)

	hits := make([]SearchHit, 0, len(filtered))
	for docID, score := range filtered {
		doc := s.docs[docID]
		hits = append(hits, SearchHit{
			ID:         docID,
			Score:      score,
			Highlights: s.buildHighlights(docID, doc, clauses, matches),
			Source:     doc,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})

	total := len(hits)
	start := (req.Page - 1) * req.PageSize
	if start > total {
		start = total
	}
	end := start + req.PageSize
	if end > total {
		end = total
	}

	return SearchResponse{TotalHits: total, Page: req.Page, PageSize: req.PageSize, Hits: hits[start:end]}
}

// compile resolves parsed terms into index terms. Words the analyzer would not index are dropped,
// and a clause left without words is dropped entirely.
func (s *Searcher) compile(parsed ParsedQuery) []queryClause {
	clauses := make([]queryClause, 0, len(parsed.Terms))
	for _, t := range parsed.Terms {
		raw := t.Term
		phrase := len(t.Phrase) > 0
		if phrase {
			raw = strings.Join(t.Phrase, " ")
		}

		tokens := s.analyzer.queryTokens(raw)
		if s.analyzer.WholeInput() && len(tokens) > 1 {
			tokens = []Token{{Term: strings.Join(termsOfTokens(tokens), " ")}}
		}

		c := queryClause{must: t.Must, mustNot: t.MustNot}
		for _, tok := range tokens {
			if keys := s.analyzer.Expand(tok.Term); len(keys) > 0 {
				c.words = append(c.words, keys)
				c.offsets = append(c.offsets, tok.Position)
			}
		}
		c.phrase = phrase && len(c.words) > 1
		if len(c.words) > 0 {
			clauses = append(clauses, c)
		}
	}
	return clauses
}

func termsOfTokens(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Term
	}
	return out
}

func (s *Searcher) matchClause(c queryClause) clauseMatch {
	perWord := make([]docLocations, len(c.words))
	for i, keys := range c.words {
		perWord[i] = s.matchWord(keys)
	}

	result := make(clauseMatch)
	if !c.phrase {
		// Independent words: every word must match somewhere in the document.
		for docID, locs := range perWord[0] {
			matched := []map[location]struct{}{locs}
			for _, other := range perWord[1:] {
				otherLocs, ok := other[docID]
				if !ok {
					matched = nil
					break
				}
				matched = append(matched, otherLocs)
			}
			if matched != nil {
				result[docID] = matched
			}
		}
		return result
	}

	for docID, locs := range perWord[0] {
		for loc := range locs {
			if !phraseAt(perWord, c.offsets, docID, loc) {
				continue
			}
			matched, ok := result[docID]
			if !ok {
				matched = make([]map[location]struct{}, len(perWord))
				for i := range matched {
					matched[i] = make(map[location]struct{})
				}
				result[docID] = matched
			}
			for i := range perWord {
				matched[i][location{field: loc.field, pos: loc.pos + c.offsets[i] - c.offsets[0]}] = struct{}{}
			}
		}
	}
	return result
}

func phraseAt(perWord []docLocations, offsets []int, docID string, start location) bool {
	for i := 1; i < len(perWord); i++ {
		want := location{field: start.field, pos: start.pos + offsets[i] - offsets[0]}
		if _, ok := perWord[i][docID][want]; !ok {
			return false
		}
	}
	return true
}

// matchWord returns the locations where every key occurs.
func (s *Searcher) matchWord(keys []string) docLocations {
	var result docLocations
	for i, key := range keys {
		current := make(docLocations)
		for _, p := range s.postings[key] {
			prev, seen := result[p.DocID]
			if i > 0 && !seen {
				continue
			}
			for j := range p.Positions {
				loc := s.locate(p, j)
				if i > 0 {
					if _, ok := prev[loc]; !ok {
						continue
					}
				}
				current.add(p.DocID, loc)
			}
		}
		result = current
		if len(result) == 0 {
			break
		}
	}
	return result
}

func (s *Searcher) locate(p Posting, i int) location {
	loc := location{pos: p.Positions[i]}
	if i < len(p.Spans) {
		loc.field = p.Spans[i].Field
	}
	if s.analyzer.WholeInput() {
		loc.pos = 0
	}
	return loc
}

func evaluateCandidates(clauses []queryClause, matches []clauseMatch) map[string]struct{} {
	candidates := make(map[string]struct{})
	initialized := false

	for i, c := range clauses {
		if !c.must {
			continue
		}
		if !initialized {
			for id := range matches[i] {
				candidates[id] = struct{}{}
			}
			initialized = true
			continue
		}
		for id := range candidates {
			if _, ok := matches[i][id]; !ok {
				delete(candidates, id)
			}
		}
	}

	for i, c := range clauses {
		if !c.mustNot {
			continue
		}
		for id := range matches[i] {
			delete(candidates, id)
		}
	}

	return candidates
}

func (s *Searcher) scoreDocuments(clauses []queryClause, candidates map[string]struct{}) map[string]float64 {
	scores := make(map[string]float64, len(candidates))
	if len(candidates) == 0 {
		return scores
	}

	var terms []string
	for _, c := range clauses {
		if c.mustNot {
			continue
		}
		for _, keys := range c.words {
			terms = append(terms, keys...)
		}
	}

	k1 := s.def.BM25.K1
	b := s.def.BM25.B
	avgDL := s.avgDocLength
	if avgDL == 0 {
		avgDL = 1
	}

	for id := range candidates {
		scores[id] = 0
	}
	for _, term := range uniqueStrings(terms) {
		postings := s.postings[term]
		if len(postings) == 0 {
			continue
		}
		df := float64(len(postings))
		idf := math.Log((float64(s.stats.TotalDocs)-df+0.5)/(df+0.5) + 1)

		for _, p := range postings {
			if _, ok := candidates[p.DocID]; !ok {
				continue
			}
			tf := p.TermFreq
			dl := float64(s.docLengths[p.DocID])
			scores[p.DocID] += idf * ((tf * (k1 + 1)) / (tf + k1*(1-b+b*(dl/avgDL))))
		}
	}

	return scores
}

func (s *Searcher) applyFilters(filters []Filter, scores map[string]float64) map[string]float64 {
	if len(filters) == 0 || len(scores) == 0 {
		return scores
	}

	filtered := make(map[string]float64, len(scores))
	for docID, score := range scores {
		doc := s.docs[docID]
		if doc == nil {
			continue
		}
		if matchesAllFilters(doc, filters) {
			filtered[docID] = score
		}
	}
	return filtered
}

func tokenizeQuery(input string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false

	pushToken := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range input {
		switch {
		case r == '"':
			// A leading + or - stays attached to the phrase it prefixes.
			if prefix := current.String(); inQuotes || (prefix != "+" && prefix != "-") {
				pushToken()
			}
			inQuotes = !inQuotes
		case unicode.IsSpace(r) && !inQuotes:
			pushToken()
		default:
			current.WriteRune(r)
		}
	}
	pushToken()
	return tokens
}

func parsePhrase(token string) []string {
	if !strings.ContainsFunc(token, unicode.IsSpace) {
		return nil
	}
	return strings.Fields(token)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// buildHighlights marks the stored spans of every matched term in each text field.
func (s *Searcher) buildHighlights(docID string, doc map[string]any, clauses []queryClause, matches []clauseMatch) map[string]string {
	if doc == nil {
		return nil
	}

	spansByField := make(map[string][]Span)
	for i, c := range clauses {
		if c.mustNot {
			continue
		}
		matched, ok := matches[i][docID]
		if !ok {
			continue
		}
		for w, keys := range c.words {
			for _, key := range keys {
				for _, span := range s.spansAt(key, docID, matched[w]) {
					spansByField[span.Field] = append(spansByField[span.Field], span)
				}
			}
		}
	}

	highlights := make(map[string]string)
	for field, def := range s.def.Fields {
		if def.Type != FieldTypeText {
			continue
		}
		spans := spansByField[field]
		value, ok := doc[field]
		if !ok || len(spans) == 0 {
			continue
		}
		if snippet := buildSnippet(fmt.Sprint(value), spans); snippet != "" {
			highlights[field] = snippet
		}
	}

	if len(highlights) == 0 {
		return nil
	}
	return highlights
}

func (s *Searcher) spansAt(key, docID string, locs map[location]struct{}) []Span {
	var out []Span
	for _, p := range s.postings[key] {
		if p.DocID != docID {
			continue
		}
		for j := range p.Positions {
			if j >= len(p.Spans) {
				break
			}
			if _, ok := locs[s.locate(p, j)]; ok {
				out = append(out, p.Spans[j])
			}
		}
	}
	return out
}

// buildSnippet wraps the merged spans in <em> tags and trims the text to a window around the
// first of them.
func buildSnippet(text string, spans []Span) string {
	type interval struct{ start, end int }
	intervals := make([]interval, 0, len(spans))
	for _, sp := range spans {
		start, end := snapToRune(text, sp.Start), snapToRune(text, sp.End)
		if start < end {
			intervals = append(intervals, interval{start, end})
		}
	}
	if len(intervals) == 0 {
		return ""
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].start < intervals[j].start })

	merged := intervals[:1]
	for _, iv := range intervals[1:] {
		last := &merged[len(merged)-1]
		if iv.start <= last.end {
			if iv.end > last.end {
				last.end = iv.end
			}
			continue
		}
		merged = append(merged, iv)
	}

	windowStart := snapToRune(text, merged[0].start-snippetRadius)
	windowEnd := snapToRune(text, merged[0].end+snippetRadius)

	var sb strings.Builder
	if windowStart > 0 {
		sb.WriteString("…")
	}
	cursor := windowStart
	for _, iv := range merged {
		if iv.start >= windowEnd {
			break
		}
		end := iv.end
		if end > windowEnd {
			windowEnd = end
		}
		sb.WriteString(text[cursor:iv.start])
		sb.WriteString("<em>")
		sb.WriteString(text[iv.start:end])
		sb.WriteString("</em>")
		cursor = end
	}
	sb.WriteString(text[cursor:windowEnd])
	if windowEnd < len(text) {
		sb.WriteString("…")
	}
	return sb.String()
}

// snapToRune clamps offset into text and moves it back to the start of the rune it falls in.
func snapToRune(text string, offset int) int {
	if offset <= 0 {
		return 0
	}
	if offset >= len(text) {
		return len(text)
	}
	for offset > 0 && !utf8.RuneStart(text[offset]) {
		offset--
	}
	return offset
}
