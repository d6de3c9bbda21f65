package repository

import (
	"fmt"
	"os"

	"github.com/okian/classboard/internal/domain/model"
	"go.yaml.in/yaml/v3"
)

// fixtureFilePermission is used when writing generated fixtures.
const fixtureFilePermission = 0o600

// Fixture is a full set of school records, as read from or written to a
// YAML seed file.
type Fixture struct {
	Users         []model.User             `yaml:"users,omitempty"`
	Classes       []model.ClassRecord      `yaml:"classes,omitempty"`
	Enrollments   []model.Enrollment       `yaml:"enrollments,omitempty"`
	Assignments   []model.Assignment       `yaml:"assignments,omitempty"`
	Submissions   []model.Submission       `yaml:"submissions,omitempty"`
	Attendance    []model.AttendanceRecord `yaml:"attendance,omitempty"`
	Announcements []model.Announcement     `yaml:"announcements,omitempty"`
}

// LoadFixture reads a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes YAML fixture bytes and validates attendance dates.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFixture, err)
	}
	for i, r := range f.Attendance {
		if !r.Date.Valid() {
			return nil, fmt.Errorf("%w: attendance[%d]: bad date %q", ErrFixture, i, r.Date)
		}
	}
	return &f, nil
}

// WriteFixture encodes f as YAML into path.
func WriteFixture(path string, f *Fixture) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, data, fixtureFilePermission); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}
