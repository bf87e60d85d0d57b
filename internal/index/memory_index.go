package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DeletedField marks a stored document as a tombstone.
const DeletedField = "_deleted"

// Span locates one occurrence of a term inside a field value, as byte offsets into the value text.
type Span struct {
	Field string `json:"field"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Posting captures inverted index information for a single document. Spans runs parallel to Positions.
type Posting struct {
	DocID     string  `json:"docId"`
	TermFreq  float64 `json:"tf"`
	Positions []int   `json:"positions"`
	Spans     []Span  `json:"spans,omitempty"`
}

// BM25Stats tracks the corpus statistics required for BM25 scoring.
type BM25Stats struct {
	TotalDocs       int                `json:"totalDocs"`
	AvgFieldLengths map[string]float64 `json:"avgFieldLengths"`
}

// FlushThresholds controls when the in-memory index should be materialized into an immutable segment.
type FlushThresholds struct {
	MaxDocuments int
	MaxPostings  int
}

// SegmentSnapshot materializes the current mutable state so it can be persisted as an immutable segment.
type SegmentSnapshot struct {
	Postings map[string][]Posting
	Docs     []map[string]any
	Stats    BM25Stats
}

// AnalyzedDocument is a document whose fields have already been run through the analyzer.
type AnalyzedDocument struct {
	ID     string
	Doc    map[string]any
	Fields []AnalyzedField
}

// AnalyzedField holds the tokens produced for one field.
type AnalyzedField struct {
	Name   string
	Weight float64
	Tokens []Token
}

// InMemoryIndex accumulates documents and postings prior to flushing them to disk segments.
type InMemoryIndex struct {
	def         Definition
	tokenizer   Tokenizer
	thresholds  FlushThresholds
	inverted    map[string]map[string]*Posting
	docStore    []map[string]any
	slots       map[string]int
	docLengths  map[string]map[string]int
	fieldTotals map[string]int
	totalDocs   int
	totalTerms  int
}

// NewInMemoryIndex wires together analysis and field weighting for the supplied index definition.
func NewInMemoryIndex(def Definition, tokenizer Tokenizer, thresholds FlushThresholds) *InMemoryIndex {
	return &InMemoryIndex{
		def:         def,
		tokenizer:   tokenizer,
		thresholds:  thresholds,
		inverted:    make(map[string]map[string]*Posting),
		docStore:    []map[string]any{},
		slots:       make(map[string]int),
		docLengths:  make(map[string]map[string]int),
		fieldTotals: make(map[string]int),
	}
}

// IndexDocument ingests the provided document and updates postings, document store, and BM25 statistics.
func (idx *InMemoryIndex) IndexDocument(doc map[string]any) error {
	analyzed, err := idx.Analyze(doc)
	if err != nil {
		return err
	}
	idx.Apply(analyzed)
	return nil
}

// Analyze tokenizes every indexed field of doc. It reads only immutable state and may run
// concurrently with other Analyze calls.
func (idx *InMemoryIndex) Analyze(doc map[string]any) (AnalyzedDocument, error) {
	docID, err := DocumentID(doc)
	if err != nil {
		return AnalyzedDocument{}, err
	}

	analyzed := AnalyzedDocument{ID: docID, Doc: cloneDocument(doc)}
	for _, fieldName := range sortedFieldNames(idx.def.Fields) {
		fieldDef := idx.def.Fields[fieldName]
		value, exists := doc[fieldName]
		if !exists || value == nil {
			continue
		}

		field := AnalyzedField{Name: fieldName, Weight: fieldDef.Weight}
		switch fieldDef.Type {
		case FieldTypeText:
			field.Tokens = idx.tokenizer.Tokenize(fmt.Sprint(value))
		case FieldTypeKeyword:
			field.Tokens = keywordTokens(value)
		}
		analyzed.Fields = append(analyzed.Fields, field)
	}
	return analyzed, nil
}

// AnalyzeBatch analyzes docs concurrently, bounded by workers. Results keep the input order; a
// document that fails analysis has its error recorded at the same index.
func (idx *InMemoryIndex) AnalyzeBatch(ctx context.Context, docs []map[string]any, workers int) ([]AnalyzedDocument, []error) {
	return analyzeConcurrently(ctx, docs, workers, idx.Analyze)
}

// Apply adds an analyzed document to the mutable state, replacing a buffered document with the
// same id.
func (idx *InMemoryIndex) Apply(doc AnalyzedDocument) {
	idx.remove(doc.ID)
	idx.totalDocs++
	idx.slots[doc.ID] = len(idx.docStore)
	idx.docStore = append(idx.docStore, doc.Doc)

	lengths := make(map[string]int, len(doc.Fields))
	for _, field := range doc.Fields {
		weight := field.Weight
		if weight == 0 {
			weight = 1
		}
		lengths[field.Name] += len(field.Tokens)
		idx.fieldTotals[field.Name] += len(field.Tokens)
		idx.totalTerms += len(field.Tokens)
		for _, tok := range field.Tokens {
			idx.addPosting(tok, field.Name, doc.ID, weight)
		}
	}
	idx.docLengths[doc.ID] = lengths
}

// remove drops a buffered document and everything it contributed.
func (idx *InMemoryIndex) remove(docID string) {
	slot, ok := idx.slots[docID]
	if !ok {
		return
	}
	for term, byDoc := range idx.inverted {
		if p, ok := byDoc[docID]; ok {
			idx.totalTerms -= len(p.Positions)
			delete(byDoc, docID)
			if len(byDoc) == 0 {
				delete(idx.inverted, term)
			}
		}
	}
	for field, n := range idx.docLengths[docID] {
		idx.fieldTotals[field] -= n
	}
	idx.docStore[slot] = nil
	delete(idx.docLengths, docID)
	delete(idx.slots, docID)
	idx.totalDocs--
}

// ShouldFlush reports whether current mutable state exceeds any configured thresholds.
func (idx *InMemoryIndex) ShouldFlush() bool {
	if idx.thresholds.MaxDocuments > 0 && idx.totalDocs >= idx.thresholds.MaxDocuments {
		return true
	}
	if idx.thresholds.MaxPostings > 0 && idx.totalTerms >= idx.thresholds.MaxPostings {
		return true
	}
	return false
}

// Delete buffers a tombstone for docID. Tombstones carry no postings; they hide earlier versions of
// the document when segments are merged.
func (idx *InMemoryIndex) Delete(docID string) {
	idx.remove(docID)
	idx.docStore = append(idx.docStore, map[string]any{"id": docID, DeletedField: true})
}

// Pending reports how many documents and tombstones are buffered.
func (idx *InMemoryIndex) Pending() int {
	n := 0
	for _, doc := range idx.docStore {
		if doc != nil {
			n++
		}
	}
	return n
}

// Flush snapshots the mutable structures into an immutable representation and resets the index.
func (idx *InMemoryIndex) Flush() SegmentSnapshot {
	docs := make([]map[string]any, 0, len(idx.docStore))
	for _, doc := range idx.docStore {
		if doc != nil {
			docs = append(docs, doc)
		}
	}

	snapshot := SegmentSnapshot{
		Postings: make(map[string][]Posting, len(idx.inverted)),
		Docs:     docs,
		Stats: BM25Stats{
			TotalDocs:       idx.totalDocs,
			AvgFieldLengths: make(map[string]float64, len(idx.fieldTotals)),
		},
	}

	for term, postingsByDoc := range idx.inverted {
		postings := make([]Posting, 0, len(postingsByDoc))
		for _, p := range postingsByDoc {
			sortOccurrences(p)
			postings = append(postings, *p)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		snapshot.Postings[term] = postings
	}

	if idx.totalDocs > 0 {
		for field, total := range idx.fieldTotals {
			snapshot.Stats.AvgFieldLengths[field] = float64(total) / float64(idx.totalDocs)
		}
	}

	idx.inverted = make(map[string]map[string]*Posting)
	idx.docStore = []map[string]any{}
	idx.slots = make(map[string]int)
	idx.docLengths = make(map[string]map[string]int)
	idx.fieldTotals = make(map[string]int)
	idx.totalDocs = 0
	idx.totalTerms = 0

	return snapshot
}

func keywordTokens(value any) []Token {
	var entries []string
	switch v := value.(type) {
	case string:
		entries = []string{v}
	case []string:
		entries = v
	case []any:
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				entries = append(entries, s)
			}
		}
	default:
		return nil
	}

	tokens := make([]Token, 0, len(entries))
	for i, entry := range entries {
		term := strings.ToLower(strings.TrimSpace(entry))
		if term == "" {
			continue
		}
		tokens = append(tokens, Token{Term: term, Position: i, Start: 0, End: len(entry)})
	}
	return tokens
}

func (idx *InMemoryIndex) addPosting(tok Token, field, docID string, weight float64) {
	if tok.Term == "" {
		return
	}
	postingsByDoc, exists := idx.inverted[tok.Term]
	if !exists {
		postingsByDoc = make(map[string]*Posting)
		idx.inverted[tok.Term] = postingsByDoc
	}

	posting, exists := postingsByDoc[docID]
	if !exists {
		posting = &Posting{DocID: docID}
		postingsByDoc[docID] = posting
	}

	posting.TermFreq += weight
	posting.Positions = append(posting.Positions, tok.Position)
	posting.Spans = append(posting.Spans, Span{Field: field, Start: tok.Start, End: tok.End})
}

// sortOccurrences orders positions while keeping spans aligned with them.
func sortOccurrences(p *Posting) {
	if len(p.Spans) != len(p.Positions) {
		sort.Ints(p.Positions)
		return
	}
	order := make([]int, len(p.Positions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := p.Spans[order[a]], p.Spans[order[b]]
		if sa.Field != sb.Field {
			return sa.Field < sb.Field
		}
		return p.Positions[order[a]] < p.Positions[order[b]]
	})

	positions := make([]int, len(order))
	spans := make([]Span, len(order))
	for i, j := range order {
		positions[i] = p.Positions[j]
		spans[i] = p.Spans[j]
	}
	p.Positions = positions
	p.Spans = spans
}

// IsDeleted reports whether doc is a tombstone.
func IsDeleted(doc map[string]any) bool {
	flag, ok := doc[DeletedField].(bool)
	return ok && flag
}

// DocumentID extracts the mandatory string id of a document.
func DocumentID(doc map[string]any) (string, error) {
	idRaw, ok := doc["id"]
	if !ok {
		return "", fmt.Errorf("document missing id")
	}

	docID, ok := idRaw.(string)
	if !ok || docID == "" {
		return "", fmt.Errorf("document id must be a non-empty string")
	}
	return docID, nil
}

func sortedFieldNames(fields map[string]FieldDefinition) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cloneDocument(doc map[string]any) map[string]any {
	clone := make(map[string]any, len(doc))
	for k, v := range doc {
		clone[k] = v
	}
	return clone
}
