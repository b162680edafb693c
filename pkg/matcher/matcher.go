// Package matcher scores existing catalog books against freshly extracted
// metadata. It is deterministic and never writes anything.
package matcher

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/shishobooks/spines/pkg/identifiers"
	"github.com/shishobooks/spines/pkg/models"
)

// Policy holds the thresholds and weights used for scoring. Matches below
// Floor are dropped; a match at or above Actionable forces human review.
type Policy struct {
	Floor        float64
	Actionable   float64
	TitleWeight  float64
	AuthorWeight float64
	YearWeight   float64
}

func DefaultPolicy() Policy {
	return Policy{
		Floor:        0.5,
		Actionable:   0.75,
		TitleWeight:  0.55,
		AuthorWeight: 0.35,
		YearWeight:   0.10,
	}
}

// CandidateQuery narrows the catalog down to books worth scoring.
type CandidateQuery struct {
	NormalizedTitle  string
	NormalizedAuthor string
	Year             *int
	ISBN             string
}

// CandidateFinder is the read side of the catalog the matcher needs.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, q CandidateQuery) ([]*models.Book, error)
}

type Matcher struct {
	finder CandidateFinder
	policy Policy
}

func New(finder CandidateFinder, policy Policy) *Matcher {
	return &Matcher{finder, policy}
}

func (m *Matcher) Policy() Policy {
	return m.policy
}

// QueryFor builds the candidate query for an extraction result.
func QueryFor(r *models.ExtractionResult) CandidateQuery {
	q := CandidateQuery{
		NormalizedTitle:  NormalizeTitle(r.TitleString()),
		NormalizedAuthor: NormalizeAuthor(r.AuthorString()),
		Year:             r.Year,
	}
	if isbn, ok := identifiers.CanonicalISBN(r.ISBNString()); ok {
		q.ISBN = isbn
	}
	return q
}

// FindSimilar returns the books scoring at or above the floor, highest first.
// Ties are broken by book id so repeated calls agree.
func (m *Matcher) FindSimilar(ctx context.Context, r *models.ExtractionResult) ([]*models.SimilarBookMatch, error) {
	if r == nil {
		return []*models.SimilarBookMatch{}, nil
	}
	q := QueryFor(r)
	if q.NormalizedTitle == "" && q.ISBN == "" {
		return []*models.SimilarBookMatch{}, nil
	}

	books, err := m.finder.FindCandidates(ctx, q)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	matches := make([]*models.SimilarBookMatch, 0, len(books))
	for _, book := range books {
		score := m.score(q, book)
		if score < m.policy.Floor {
			continue
		}
		matches = append(matches, &models.SimilarBookMatch{
			BookID:       book.ID,
			Title:        book.Title,
			Author:       book.Author,
			Year:         book.Year,
			ISBN:         book.ISBN,
			Contributors: book.ContributorNames(),
			Confidence:   score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].BookID < matches[j].BookID
	})

	return matches, nil
}

// HasActionable reports whether any match clears the actionable threshold.
func (m *Matcher) HasActionable(matches []*models.SimilarBookMatch) bool {
	return TopActionable(matches, m.policy) != nil
}

// TopActionable returns the best match that clears the actionable threshold.
func TopActionable(matches []*models.SimilarBookMatch, policy Policy) *models.SimilarBookMatch {
	var top *models.SimilarBookMatch
	for _, match := range matches {
		if match.Confidence < policy.Actionable {
			continue
		}
		if top == nil || match.Confidence > top.Confidence ||
			(match.Confidence == top.Confidence && match.BookID < top.BookID) {
			top = match
		}
	}
	return top
}

// Score compares an extraction result with a single book.
func (m *Matcher) Score(r *models.ExtractionResult, book *models.Book) float64 {
	return m.score(QueryFor(r), book)
}

func (m *Matcher) score(q CandidateQuery, book *models.Book) float64 {
	// An exact ISBN match means the same book regardless of how the title
	// and author came out.
	if q.ISBN != "" && book.ISBN != nil && *book.ISBN == q.ISBN {
		return 1.0
	}

	bookTitle := book.NormalizedTitle
	if bookTitle == "" {
		bookTitle = NormalizeTitle(book.Title)
	}
	bookAuthor := book.NormalizedAuthor
	if bookAuthor == "" {
		bookAuthor = NormalizeAuthor(book.Author)
	}

	titleSim := jaccard(tokenSet(q.NormalizedTitle), tokenSet(bookTitle))
	authorSim := jaccard(tokenSet(q.NormalizedAuthor), tokenSet(bookAuthor))

	yearSim := 0.5
	if q.Year != nil && book.Year != nil {
		yearSim = 0
		if diff := *q.Year - *book.Year; diff >= -1 && diff <= 1 {
			yearSim = 1
		}
	}

	score := m.policy.TitleWeight*titleSim + m.policy.AuthorWeight*authorSim + m.policy.YearWeight*yearSim
	return math.Max(0, math.Min(1, math.Round(score*10000)/10000))
}
