package search

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryPerson(t *testing.T) {
	d := NewDirectory(DefaultPeopleCount)
	assert.Equal(t, DefaultPeopleCount, d.Len())

	p, ok := d.Person(12)
	require.True(t, ok)
	assert.Equal(t, Person{
		ID:          "user_12",
		Name:        "Charlie Brown",
		Email:       "charlie.brown@example.com",
		DisplayName: "Charlie Brown (charlie.brown@example.com)",
	}, p)

	_, ok = d.Person(DefaultPeopleCount)
	assert.False(t, ok)
	_, ok = d.Person(-1)
	assert.False(t, ok)
}

func TestDirectorySearch(t *testing.T) {
	d := NewDirectory(DefaultPeopleCount)

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{"blank", "  ", []string{}},
		{"no match", "zelda", []string{}},
		{"name case-insensitive", "ALICE", []string{
			"user_0", "user_10", "user_20", "user_30", "user_40",
			"user_50", "user_60", "user_70", "user_80", "user_90",
		}},
		{"email domain matches all", "example.com", []string{
			"user_0", "user_1", "user_2", "user_3", "user_4",
			"user_5", "user_6", "user_7", "user_8", "user_9",
		}},
		{"email local part", "ivy.anderson", []string{
			"user_8", "user_18", "user_28", "user_38", "user_48",
			"user_58", "user_68", "user_78", "user_88", "user_98",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Search(tt.query)
			ids := make([]string, len(got))
			for i, p := range got {
				ids[i] = p.ID
				assert.True(t,
					strings.Contains(strings.ToLower(p.Name), strings.ToLower(strings.TrimSpace(tt.query))) ||
						strings.Contains(p.Email, strings.ToLower(strings.TrimSpace(tt.query))))
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestQueriesAreTrimmed(t *testing.T) {
	d := NewDirectory(1000)

	assert.Empty(t, d.Search(" "))
	assert.Equal(t, d.Search("alice"), d.Search("  alice\t"))
	assert.Empty(t, Suggestions("\n"))
	assert.Equal(t, Suggestions("react"), Suggestions(" react "))
}

func TestDirectorySearchSmallCorpus(t *testing.T) {
	d := NewDirectory(25)
	got := d.Search("bob")
	require.Len(t, got, 3)
	assert.Equal(t, "user_21", got[2].ID)

	assert.Empty(t, NewDirectory(0).Search("bob"))
}

func TestSuggestions(t *testing.T) {
	assert.Empty(t, Suggestions(""))
	assert.Empty(t, Suggestions("   "))
	assert.Equal(t, []string{"Explain React hooks"}, Suggestions("react"))
	assert.Equal(t, []string{
		"Best practices for TypeScript",
		"REST API best practices",
		"Security best practices for web apps",
	}, Suggestions("BEST"))
	assert.Len(t, Suggestions("e"), MaxSuggestionResults)
}

func TestDefaults(t *testing.T) {
	defaults := Defaults()
	assert.Equal(t, []string{
		"Explain React hooks",
		"How to build a Next.js app",
		"Best practices for TypeScript",
		"CSS Grid vs Flexbox",
		"What is a closure in JavaScript",
	}, defaults)

	defaults[0] = "changed"
	assert.Equal(t, "Explain React hooks", Defaults()[0])
}

func TestServiceCachesLookups(t *testing.T) {
	svc := NewService(NewDirectory(100), time.Minute, time.Minute, nil)
	ctx := context.Background()

	first, err := svc.People(ctx, "grace")
	require.NoError(t, err)
	require.Len(t, first, 10)

	first[0].Name = "mutated"
	second, err := svc.People(ctx, " Grace ")
	require.NoError(t, err)
	assert.Equal(t, "Grace Moore", second[0].Name)

	s, err := svc.Suggestions(ctx, "css")
	require.NoError(t, err)
	assert.Equal(t, []string{"CSS Grid vs Flexbox"}, s)
}

func TestServiceHonorsCanceledContext(t *testing.T) {
	svc := NewService(NewDirectory(10), time.Minute, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.People(ctx, "bob")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = svc.Suggestions(ctx, "react")
	assert.ErrorIs(t, err, context.Canceled)
}
