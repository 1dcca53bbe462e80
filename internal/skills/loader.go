package skills

import (
	"sort"
	"strings"
	"sync"
)

// Loader discovers and caches skills from a workspace-local directory, a
// global user directory, and an optional extra directory. Later sources win
// on name collision, so a workspace skill can shadow a global one.
type Loader struct {
	dirs []string

	mu     sync.RWMutex
	skills map[string]*Skill
}

// NewLoader builds a Loader over the given skill directories, in priority
// order (earliest first). Directories are expected to contain one
// subdirectory per skill, each holding a SKILL.md. workspace and global may
// be empty; extra is an optional additional directory (may be "").
func NewLoader(workspace, global, extra string) *Loader {
	var dirs []string
	for _, d := range []string{global, workspace, extra} {
		if d != "" {
			dirs = append(dirs, skillsSubdir(d))
		}
	}
	l := &Loader{dirs: dirs, skills: make(map[string]*Skill)}
	l.Reload()
	return l
}

// skillsSubdir returns dir/skills if dir doesn't already end in "skills",
// so callers can pass either a workspace root or an already-scoped path.
func skillsSubdir(dir string) string {
	if strings.HasSuffix(strings.TrimRight(dir, "/"), "skills") {
		return dir
	}
	return dir + "/skills"
}

// Reload re-scans all configured directories, replacing the cached set.
func (l *Loader) Reload() {
	found := make(map[string]*Skill)
	for _, dir := range l.dirs {
		for _, s := range discoverDir(dir) {
			found[s.Name] = s
		}
	}
	l.mu.Lock()
	l.skills = found
	l.mu.Unlock()
}

// ListSkills returns every loaded skill, sorted by name.
func (l *Loader) ListSkills() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Skill, 0, len(l.skills))
	for _, s := range l.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the named skill, if loaded.
func (l *Loader) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// Search returns skills whose name, description, or tags contain query
// (case-insensitive), ranked by name match first.
func (l *Loader) Search(query string) []*Skill {
	q := strings.ToLower(strings.TrimSpace(query))
	all := l.ListSkills()
	if q == "" {
		return all
	}

	var nameMatches, otherMatches []*Skill
	for _, s := range all {
		if strings.Contains(strings.ToLower(s.Name), q) {
			nameMatches = append(nameMatches, s)
			continue
		}
		if strings.Contains(strings.ToLower(s.Description), q) {
			otherMatches = append(otherMatches, s)
			continue
		}
		for _, tag := range s.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				otherMatches = append(otherMatches, s)
				break
			}
		}
	}
	return append(nameMatches, otherMatches...)
}
