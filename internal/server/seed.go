package server

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hudacode/prayerlog/internal/record"
)

// SeedFile describes an initial roster loaded at serve time.
//
// Example:
//
//	classes:
//	  - name: Grade 3
//	students:
//	  - name: Ayesha Khan
//	    roll_number: "12"
//	    class: Grade 3
type SeedFile struct {
	Classes []struct {
		Name string `yaml:"name"`
	} `yaml:"classes"`
	Students []struct {
		Name       string `yaml:"name"`
		RollNumber string `yaml:"roll_number"`
		Class      string `yaml:"class"`
	} `yaml:"students"`
}

// SeedResult reports what a seed import actually added.
type SeedResult struct {
	ClassesAdded  int
	StudentsAdded int
	Skipped       int
}

// LoadSeedFile parses a roster seed from a YAML file.
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// ApplySeed imports classes then students, skipping entries that already
// exist. Individual failures are logged and counted, not fatal.
func (s *FileStore) ApplySeed(seed *SeedFile) (*SeedResult, error) {
	result := &SeedResult{}

	for _, cls := range seed.Classes {
		_, err := s.AddClass(cls.Name)
		if err != nil {
			if errors.Is(err, ErrDuplicate) {
				result.Skipped++
				continue
			}
			s.logger.Printf("Warning: failed to seed class %q: %v", cls.Name, err)
			continue
		}
		result.ClassesAdded++
	}

	for _, st := range seed.Students {
		if s.findStudentByName(st.Name, st.Class) {
			result.Skipped++
			continue
		}
		_, err := s.AddStudent(record.Student{
			Name:       st.Name,
			RollNumber: st.RollNumber,
			ClassName:  st.Class,
		})
		if err != nil {
			s.logger.Printf("Warning: failed to seed student %q: %v", st.Name, err)
			continue
		}
		result.StudentsAdded++
	}

	return result, nil
}

// findStudentByName reports whether a same-named student already exists
// in the class. Roll numbers aren't unique, so name+class is the best
// dedup signal a seed file has.
func (s *FileStore) findStudentByName(name, className string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := record.NormalizeName(className)
	for _, st := range s.data.Students {
		if st.Name == name && record.NormalizeName(st.ClassName) == normalized {
			return true
		}
	}
	return false
}
