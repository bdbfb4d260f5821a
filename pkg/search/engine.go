// Package search is an in-memory fuzzy index over task documents:
// character 2-grams for candidate recall, then field-weighted scoring
// with a Levenshtein fallback for typo tolerance.
package search

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Field weights, highest first: an exact title beats everything, a hit
// in the assignee beats one buried in the notes.
const (
	scoreTitleExact     = 100.0
	scoreTitlePrefix    = 50.0
	scoreTitleSubstring = 30.0
	scoreTitleWordExact = 20.0
	scoreTitleWordPref  = 10.0
	scoreAssignee       = 18.0
	scoreProject        = 15.0
	scoreCategory       = 12.0
	scoreNotes          = 8.0
	scoreFuzzyFactor    = 10.0
)

// ngramSize is the window used for the recall index.
const ngramSize = 2

// suggestLimit caps the suggestion list.
const suggestLimit = 5

// Document is one searchable task.
type Document struct {
	ID       uint32 `json:"id"`
	Title    string `json:"title"`
	Project  string `json:"project"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
	Status   string `json:"status"`
	Assignee string `json:"assignee"`
}

// Engine holds the documents and their n-gram index. Not safe for
// concurrent use.
type Engine struct {
	documents []Document
	ngrams    map[string][]uint32
}

// NewEngine creates an empty index.
func NewEngine() *Engine {
	return &Engine{ngrams: make(map[string][]uint32)}
}

// Index replaces the document set and rebuilds the index.
func (e *Engine) Index(documents []Document) {
	e.documents = make([]Document, len(documents))
	copy(e.documents, documents)
	e.rebuild()
}

// Add inserts a document, replacing any existing one with the same id.
func (e *Engine) Add(doc Document) {
	for i, existing := range e.documents {
		if existing.ID == doc.ID {
			e.documents[i] = doc
			e.rebuild()
			return
		}
	}
	e.documents = append(e.documents, doc)
	e.rebuild()
}

// Remove drops the document with the given id, if present.
func (e *Engine) Remove(id uint32) {
	for i, doc := range e.documents {
		if doc.ID == id {
			e.documents = append(e.documents[:i], e.documents[i+1:]...)
			e.rebuild()
			return
		}
	}
}

// Clear empties the index.
func (e *Engine) Clear() {
	e.documents = nil
	e.ngrams = make(map[string][]uint32)
}

// Count returns the number of indexed documents.
func (e *Engine) Count() int {
	return len(e.documents)
}

func (e *Engine) rebuild() {
	e.ngrams = make(map[string][]uint32)
	for _, doc := range e.documents {
		searchable := strings.ToLower(strings.Join([]string{
			doc.Title, doc.Project, doc.Category, doc.Notes, doc.Assignee,
		}, " "))
		for _, gram := range generateNgrams(searchable) {
			e.ngrams[gram] = append(e.ngrams[gram], doc.ID)
		}
	}
	for gram, ids := range e.ngrams {
		e.ngrams[gram] = dedupe(ids)
	}
}

// generateNgrams yields the 2-char windows of text plus its first ten
// single characters, so one-letter queries still recall candidates.
func generateNgrams(text string) []string {
	chars := []rune(text)
	if len(chars) < ngramSize {
		return []string{text}
	}

	grams := make([]string, 0, len(chars)+10)
	for i := 0; i+ngramSize <= len(chars); i++ {
		grams = append(grams, string(chars[i:i+ngramSize]))
	}
	for i := 0; i < len(chars) && i < 10; i++ {
		grams = append(grams, string(chars[i]))
	}
	return grams
}

func dedupe(ids []uint32) []uint32 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	var last uint32
	for i, id := range ids {
		if i == 0 || id != last {
			out = append(out, id)
			last = id
		}
	}
	return out
}

// Search returns up to limit documents ranked by relevance. An empty
// query returns the whole document set.
func (e *Engine) Search(query string, limit int) []Document {
	if strings.TrimSpace(query) == "" {
		out := make([]Document, len(e.documents))
		copy(out, e.documents)
		return out
	}

	queryLower := strings.ToLower(query)

	// Recall: count n-gram hits per document.
	base := make(map[uint32]float64)
	for _, gram := range generateNgrams(queryLower) {
		for _, id := range e.ngrams[gram] {
			base[id]++
		}
	}

	type scored struct {
		score float64
		doc   Document
	}
	results := make([]scored, 0, len(base))

	for _, doc := range e.documents {
		score, ok := base[doc.ID]
		if !ok {
			continue
		}

		titleLower := strings.ToLower(doc.Title)

		switch {
		case titleLower == queryLower:
			score += scoreTitleExact
		case strings.HasPrefix(titleLower, queryLower):
			score += scoreTitlePrefix
		case strings.Contains(titleLower, queryLower):
			score += scoreTitleSubstring
		}

		for _, word := range strings.Fields(titleLower) {
			if word == queryLower {
				score += scoreTitleWordExact
			} else if strings.HasPrefix(word, queryLower) {
				score += scoreTitleWordPref
			}
		}

		if strings.Contains(strings.ToLower(doc.Project), queryLower) {
			score += scoreProject
		}
		if strings.Contains(strings.ToLower(doc.Category), queryLower) {
			score += scoreCategory
		}
		if strings.Contains(strings.ToLower(doc.Assignee), queryLower) {
			score += scoreAssignee
		}
		if strings.Contains(strings.ToLower(doc.Notes), queryLower) {
			score += scoreNotes
		}

		score += fuzzyScore(queryLower, titleLower) * scoreFuzzyFactor

		results = append(results, scored{score: score, doc: doc})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	out := make([]Document, len(results))
	for i, r := range results {
		out[i] = r.doc
	}
	return out
}

// Suggest returns up to five unique completions for a partial word,
// drawn from titles, projects and categories: prefix matches first,
// then substrings, then close fuzzy matches.
func (e *Engine) Suggest(partial string) []string {
	if len(partial) < 2 {
		return nil
	}

	partialLower := strings.ToLower(partial)

	type scored struct {
		score float64
		word  string
	}
	var suggestions []scored
	seen := make(map[string]struct{})

	for _, doc := range e.documents {
		words := strings.Fields(doc.Title)
		words = append(words, strings.Fields(doc.Project)...)
		words = append(words, strings.Fields(doc.Category)...)

		for _, word := range words {
			wordLower := strings.ToLower(word)
			if _, ok := seen[wordLower]; ok {
				continue
			}
			seen[wordLower] = struct{}{}

			var score float64
			if strings.HasPrefix(wordLower, partialLower) {
				score += 2
			}
			if strings.Contains(wordLower, partialLower) {
				score++
			}
			if fuzzy := fuzzyScore(partialLower, wordLower); fuzzy > 0.7 {
				score += fuzzy
			}

			if score > 0 {
				suggestions = append(suggestions, scored{score: score, word: word})
			}
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool { return suggestions[i].score > suggestions[j].score })

	out := make([]string, 0, suggestLimit)
	for _, s := range suggestions {
		out = append(out, s.word)
		if len(out) == suggestLimit {
			break
		}
	}
	return out
}

// fuzzyScore blends in-order character containment with the best
// per-word Levenshtein similarity, in [0, 1]. A substring match is a
// perfect score.
func fuzzyScore(query, target string) float64 {
	if query == "" || target == "" {
		return 0
	}
	if strings.Contains(target, query) {
		return 1
	}

	queryChars := []rune(query)
	targetChars := []rune(target)

	matches := 0
	targetIdx := 0
	for _, qc := range queryChars {
		for targetIdx < len(targetChars) {
			hit := targetChars[targetIdx] == qc
			targetIdx++
			if hit {
				matches++
				break
			}
		}
	}
	containment := float64(matches) / float64(len(queryChars))

	var bestWord float64
	for _, qWord := range strings.Fields(query) {
		for _, tWord := range strings.Fields(target) {
			dist := levenshtein.ComputeDistance(qWord, tWord)
			maxLen := len([]rune(qWord))
			if l := len([]rune(tWord)); l > maxLen {
				maxLen = l
			}
			if maxLen > 0 {
				similarity := 1 - float64(dist)/float64(maxLen)
				if similarity > bestWord {
					bestWord = similarity
				}
			}
		}
	}

	return (containment + bestWord) / 2
}
