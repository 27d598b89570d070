package jira

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryBuild(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{
			name:  "empty",
			query: Query{},
			want:  "",
		},
		{
			name:  "assignee only",
			query: Query{Assignee: "bob@example.com"},
			want:  "assignee=bob@example.com",
		},
		{
			name:  "keys",
			query: Query{Keys: []string{"SUP-1", "SUP-2"}},
			want:  "key in (SUP-1, SUP-2)",
		},
		{
			name:  "labels and status",
			query: Query{Labels: []string{"support", "mail"}, Status: "Open"},
			want:  "labels in (support, mail) AND status='Open'",
		},
		{
			name:  "summary search",
			query: Query{Summary: "printer on fire"},
			want:  "summary ~ 'printer on fire'",
		},
		{
			name:  "watcher with sort",
			query: Query{Watcher: "carol@example.com", Sort: "created"},
			want:  "watcher=carol@example.com ORDER BY created",
		},
		{
			name:  "sort only",
			query: Query{Sort: "created"},
			want:  "ORDER BY created",
		},
		{
			name: "combined",
			query: Query{
				Assignee: "bob@example.com",
				Filters:  []string{"10001"},
				Keys:     []string{"SUP-3"},
				Status:   "Done",
				Sort:     "created",
			},
			want: "assignee=bob@example.com AND filter in (10001) AND key in (SUP-3) AND status='Done' ORDER BY created",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Build())
		})
	}
}
