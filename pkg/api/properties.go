package api

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PropertyMap is the free-form properties bag every entity carries. It is
// persisted as JSONB and parsed into explicit structs at the boundary via
// Get/Set so that nothing downstream works with raw JSON.
type PropertyMap map[string]json.RawMessage

// Get decodes the property stored under key into out. It returns false when
// the key is absent.
func (m PropertyMap) Get(key string, out interface{}) (bool, error) {
	raw, ok := m[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode property %q: %w", key, err)
	}
	return true, nil
}

// Set encodes value and stores it under key, allocating the map if needed.
func (m *PropertyMap) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode property %q: %w", key, err)
	}
	if *m == nil {
		*m = PropertyMap{}
	}
	(*m)[key] = raw
	return nil
}

// Value implements driver.Valuer, serializing the map as JSONB.
func (m PropertyMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *PropertyMap) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into PropertyMap", src)
	}
}

const (
	propertyGitlab           = "gitlab"
	propertyGitlabRepository = "gitlab_repository"
)

// GitlabGroupInfo is the remote group identity recorded on organizations and
// course families after the hierarchy workflow creates (or finds) the group.
type GitlabGroupInfo struct {
	GroupID       int    `json:"group_id"`
	NamespacePath string `json:"namespace_path"`
	WebURL        string `json:"web_url"`
}

// GitlabCourseProjects carries the per-course project identifiers created by
// the hierarchy workflow.
type GitlabCourseProjects struct {
	GroupID         int               `json:"group_id"`
	NamespacePath   string            `json:"namespace_path"`
	WebURL          string            `json:"web_url"`
	StudentsGroupID int               `json:"students_group_id"`
	Projects        map[string]RepoID `json:"projects,omitempty"`
}

// RepoID identifies one remote project.
type RepoID struct {
	ProjectID int    `json:"project_id"`
	FullPath  string `json:"full_path"`
	WebURL    string `json:"web_url"`
}

// GitlabRepoInfo identifies a student's forked repository, cached on the
// course member after the fork workflow succeeds.
type GitlabRepoInfo struct {
	ProjectID   int    `json:"project_id"`
	FullPath    string `json:"full_path"`
	WebURL      string `json:"web_url"`
	GroupID     int    `json:"group_id"`
	NamespaceID int    `json:"namespace_id"`
	// RemoteUserID caches the GitLab user id resolved by email so repeated
	// runs skip the user search.
	RemoteUserID int `json:"remote_user_id,omitempty"`
}

// GitlabInfo returns the "gitlab" property decoded as group info.
func (m PropertyMap) GitlabInfo() (*GitlabGroupInfo, error) {
	info := &GitlabGroupInfo{}
	ok, err := m.Get(propertyGitlab, info)
	if err != nil || !ok {
		return nil, err
	}
	return info, nil
}

// SetGitlabInfo stores group info under the "gitlab" property.
func (m *PropertyMap) SetGitlabInfo(info *GitlabGroupInfo) error {
	return m.Set(propertyGitlab, info)
}

// GitlabCourse returns the "gitlab" property decoded as course projects.
func (m PropertyMap) GitlabCourse() (*GitlabCourseProjects, error) {
	info := &GitlabCourseProjects{}
	ok, err := m.Get(propertyGitlab, info)
	if err != nil || !ok {
		return nil, err
	}
	return info, nil
}

// SetGitlabCourse stores course project info under the "gitlab" property.
func (m *PropertyMap) SetGitlabCourse(info *GitlabCourseProjects) error {
	return m.Set(propertyGitlab, info)
}

// GitlabRepository returns the member's forked repository info, if recorded.
func (m PropertyMap) GitlabRepository() (*GitlabRepoInfo, error) {
	info := &GitlabRepoInfo{}
	ok, err := m.Get(propertyGitlabRepository, info)
	if err != nil || !ok {
		return nil, err
	}
	return info, nil
}

// SetGitlabRepository stores the member's forked repository info.
func (m *PropertyMap) SetGitlabRepository(info *GitlabRepoInfo) error {
	return m.Set(propertyGitlabRepository, info)
}
