package jira

import "strings"

// Query holds typed JQL search filters. Build maps it to the query string;
// it performs no network calls.
type Query struct {
	Assignee string
	Filters  []string
	Keys     []string
	Labels   []string
	Status   string
	Summary  string
	Watcher  string
	Sort     string // e.g. "created"
}

// Build renders the query into a JQL string
func (q Query) Build() string {
	var clauses []string

	if q.Assignee != "" {
		clauses = append(clauses, "assignee="+q.Assignee)
	}
	if len(q.Filters) > 0 {
		clauses = append(clauses, "filter in ("+strings.Join(q.Filters, ", ")+")")
	}
	if len(q.Keys) > 0 {
		clauses = append(clauses, "key in ("+strings.Join(q.Keys, ", ")+")")
	}
	if len(q.Labels) > 0 {
		clauses = append(clauses, "labels in ("+strings.Join(q.Labels, ", ")+")")
	}
	if q.Status != "" {
		clauses = append(clauses, "status='"+q.Status+"'")
	}
	if q.Summary != "" {
		clauses = append(clauses, "summary ~ '"+q.Summary+"'")
	}
	if q.Watcher != "" {
		clauses = append(clauses, "watcher="+q.Watcher)
	}

	jql := strings.Join(clauses, " AND ")
	if q.Sort != "" {
		jql += " ORDER BY " + q.Sort
	}
	return strings.TrimSpace(jql)
}
