package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ChatStream/internal/cache"
)

const (
	DefaultPeopleCount    = 1_000_000
	MaxPeopleResults      = 10
	MaxSuggestionResults  = 5
	DefaultPeopleTTL      = 10 * time.Minute
	DefaultSuggestionsTTL = 5 * time.Minute
)

var (
	firstNames = []string{"Alice", "Bob", "Charlie", "Diana", "Eve", "Frank", "Grace", "Henry", "Ivy", "Jack"}
	lastNames  = []string{"Smith", "Johnson", "Brown", "Davis", "Miller", "Wilson", "Moore", "Taylor", "Anderson", "Thomas"}

	suggestions = []string{
		"Explain React hooks",
		"How to build a Next.js app",
		"Best practices for TypeScript",
		"CSS Grid vs Flexbox",
		"What is a closure in JavaScript",
		"Understanding async/await",
		"REST API best practices",
		"Database optimization techniques",
		"Web performance optimization",
		"Security best practices for web apps",
	}
)

// Person is a mentionable user
type Person struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Directory is a generated people corpus. Person i is named after
// firstNames[i%10] and lastNames[i%10], so the corpus repeats every ten
// entries and is never materialised.
type Directory struct {
	count int
	names []string
	mails []string
}

// NewDirectory creates a directory of count people
func NewDirectory(count int) *Directory {
	if count < 0 {
		count = 0
	}
	period := min(len(firstNames), len(lastNames))
	d := &Directory{
		count: count,
		names: make([]string, period),
		mails: make([]string, period),
	}
	for i := 0; i < period; i++ {
		d.names[i] = firstNames[i] + " " + lastNames[i]
		d.mails[i] = strings.ToLower(firstNames[i]) + "." + strings.ToLower(lastNames[i]) + "@example.com"
	}
	return d
}

// Len returns the corpus size
func (d *Directory) Len() int {
	return d.count
}

// Person returns the i-th person
func (d *Directory) Person(i int) (Person, bool) {
	if i < 0 || i >= d.count {
		return Person{}, false
	}
	r := i % len(d.names)
	return Person{
		ID:          fmt.Sprintf("user_%d", i),
		Name:        d.names[r],
		Email:       d.mails[r],
		DisplayName: fmt.Sprintf("%s (%s)", d.names[r], d.mails[r]),
	}, true
}

// Search returns up to MaxPeopleResults people whose name or email contains
// query, case-insensitively, in corpus order. A blank query matches nobody.
func (d *Directory) Search(query string) []Person {
	q := strings.ToLower(strings.TrimSpace(query))
	results := []Person{}
	if q == "" {
		return results
	}

	period := len(d.names)
	matched := make([]bool, period)
	hit := false
	for r := 0; r < period; r++ {
		matched[r] = strings.Contains(strings.ToLower(d.names[r]), q) || strings.Contains(d.mails[r], q)
		hit = hit || matched[r]
	}
	if !hit {
		return results
	}

	for i := 0; i < d.count && len(results) < MaxPeopleResults; i++ {
		if matched[i%period] {
			p, _ := d.Person(i)
			results = append(results, p)
		}
	}
	return results
}

// Suggestions returns up to MaxSuggestionResults prompts containing query,
// case-insensitively. A blank query returns none.
func Suggestions(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	results := []string{}
	if q == "" {
		return results
	}
	for _, s := range suggestions {
		if strings.Contains(strings.ToLower(s), q) {
			results = append(results, s)
			if len(results) == MaxSuggestionResults {
				break
			}
		}
	}
	return results
}

// Defaults returns the prompts offered before anything is typed
func Defaults() []string {
	out := make([]string, MaxSuggestionResults)
	copy(out, suggestions)
	return out
}

// Service answers people and suggestion lookups through a TTL cache
type Service struct {
	directory   *Directory
	people      *cache.TTL[[]Person]
	suggestions *cache.TTL[[]string]
	logger      *slog.Logger
}

// NewService creates a service over directory
func NewService(directory *Directory, peopleTTL, suggestionsTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		directory:   directory,
		people:      cache.New[[]Person](peopleTTL, logger),
		suggestions: cache.New[[]string](suggestionsTTL, logger),
		logger:      logger,
	}
}

// People searches the directory
func (s *Service) People(ctx context.Context, query string) ([]Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := cache.GenerateCacheKey("people", strings.ToLower(strings.TrimSpace(query)))
	results, err := s.people.Do(key, func() ([]Person, error) {
		s.logger.Debug("searching people", "query", query)
		return s.directory.Search(query), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search people: %w", err)
	}
	return clonePeople(results), nil
}

// Suggestions searches the prompt suggestions
func (s *Service) Suggestions(ctx context.Context, query string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := cache.GenerateCacheKey("suggestions", strings.ToLower(strings.TrimSpace(query)))
	results, err := s.suggestions.Do(key, func() ([]string, error) {
		return Suggestions(query), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search suggestions: %w", err)
	}
	return append([]string{}, results...), nil
}

func clonePeople(in []Person) []Person {
	return append([]Person{}, in...)
}
