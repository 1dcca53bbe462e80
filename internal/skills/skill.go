package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFilename is the expected filename for a skill definition.
const SkillFilename = "SKILL.md"

// frontmatterDelimiter marks the beginning and end of a SKILL.md's YAML header.
const frontmatterDelimiter = "---"

// Skill is a single loaded skill: a name/description pair used for search,
// plus the markdown body injected into the agent's context when invoked.
type Skill struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags,omitempty"`
	Content     string   `yaml:"-"`
	Path        string   `yaml:"-"`
	Source      string   `yaml:"-"` // directory the skill was discovered under
}

// parseSkillFile reads and parses a single SKILL.md file.
func parseSkillFile(path, source string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var s Skill
	if err := yaml.Unmarshal(frontmatter, &s); err != nil {
		return nil, fmt.Errorf("%s: parse frontmatter: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("%s: skill name is required", path)
	}
	if s.Description == "" {
		return nil, fmt.Errorf("%s: skill description is required", path)
	}
	s.Content = strings.TrimSpace(string(body))
	s.Path = filepath.Dir(path)
	s.Source = source
	return &s, nil
}

// splitFrontmatter separates a SKILL.md's YAML header from its markdown body.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontLines, bodyLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return []byte(strings.Join(frontLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

// discoverDir walks dir for SKILL.md files, one level deep per skill
// directory (skills/<name>/SKILL.md), returning whatever parses cleanly.
func discoverDir(dir string) []*Skill {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var found []*Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		skillPath := filepath.Join(dir, e.Name(), SkillFilename)
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}
		s, err := parseSkillFile(skillPath, dir)
		if err != nil {
			continue
		}
		found = append(found, s)
	}
	return found
}
