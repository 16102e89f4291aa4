package entity

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

const userIDPlaceholder = "{userId}"

// Dataset is a named list the RefuLearn dashboards read, backed by one upstream
// REST path and refreshed when its change subject fires.
type Dataset struct {
	Name    string `json:"name" yaml:"name"`
	Path    string `json:"path" yaml:"path"`
	Subject string `json:"subject,omitempty" yaml:"subject"`
	// Field names the member of the response object holding the list,
	// e.g. "jobs" for {"jobs":[...],"pagination":{...}}.
	Field string `json:"field,omitempty" yaml:"field"`
	// Object marks datasets served as a JSON object rather than a list.
	Object bool `json:"object,omitempty" yaml:"object"`
	// PerUser datasets are fetched with the caller's token and cached per user.
	PerUser bool `json:"per_user,omitempty" yaml:"per_user"`
}

const (
	DashboardCourses      = "refugee_dashboard_courses"
	DashboardJobs         = "refugee_dashboard_jobs"
	DashboardScholarships = "refugee_dashboard_scholarships"
	DashboardStats        = "refugee_dashboard_stats"
	BrowseCourses         = "refugee_courses_cache"
	BrowseCategories      = "refugee_categories_cache"
	BrowseEnrolled        = "refugee_enrolled_cache"
	JobsList              = "refugee_jobs_cache"
	ScholarshipsList      = "refugee_scholarships_cache"
)

// DefaultDatasets mirrors the cache keys used by the refugee dashboards.
func DefaultDatasets() []Dataset {
	return []Dataset{
		{Name: DashboardCourses, Path: "/api/courses", Field: "courses", Subject: "courses.changed"},
		{Name: DashboardJobs, Path: "/api/jobs", Field: "jobs", Subject: "jobs.changed"},
		{Name: DashboardScholarships, Path: "/api/scholarships", Field: "scholarships", Subject: "scholarships.changed"},
		{Name: DashboardStats, Path: "/api/courses/user/{userId}/stats", Object: true, PerUser: true},
		{Name: BrowseCourses, Path: "/api/courses", Field: "courses", Subject: "courses.changed"},
		{Name: BrowseCategories, Path: "/api/courses/categories", Field: "categories"},
		{Name: BrowseEnrolled, Path: "/api/courses/enrolled/courses", Field: "courses", PerUser: true},
		{Name: JobsList, Path: "/api/jobs", Field: "jobs", Subject: "jobs.changed"},
		{Name: ScholarshipsList, Path: "/api/scholarships", Field: "scholarships", Subject: "scholarships.changed"},
	}
}

// PerUserNamespaces returns the key prefixes under which per-user datasets
// are cached.
func PerUserNamespaces(datasets []Dataset) []string {
	var out []string
	for _, d := range datasets {
		if d.PerUser {
			out = append(out, d.Name+":")
		}
	}
	return out
}

// EmptyValue is what callers get when neither upstream nor the cache has data.
func (d Dataset) EmptyValue() json.RawMessage {
	if d.Object {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(`[]`)
}

// CacheKey is the key the dataset is cached under. Shared datasets ignore
// userID.
func (d Dataset) CacheKey(userID string) string {
	if !d.PerUser {
		return d.Name
	}
	return d.Name + ":" + userID
}

// PathFor fills the {userId} placeholder of the upstream path.
func (d Dataset) PathFor(userID string) string {
	return strings.ReplaceAll(d.Path, userIDPlaceholder, url.PathEscape(userID))
}

// Extract pulls the dataset's list out of an upstream payload. A payload that
// is already a bare list is returned as is; an object missing Field yields nil.
func (d Dataset) Extract(payload json.RawMessage) json.RawMessage {
	if d.Field == "" {
		return payload
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payload
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return payload
	}
	return fields[d.Field]
}

// SubjectFor builds the NATS subject a dataset listens on.
func (d Dataset) SubjectFor(prefix string) string {
	if d.Subject == "" {
		return ""
	}
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return "sync." + d.Subject
	}
	return prefix + ".sync." + d.Subject
}
