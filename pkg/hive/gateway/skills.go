package gateway

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/orchestrator"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
)

const skillCacheTTL = 60 * time.Second

// resolvedSkill is a by-name skill match, whichever tier resolved it.
type resolvedSkill struct {
	name    string
	content string
}

// skillSet is one user's cached view of every skill visible to them,
// refreshed at most once per skillCacheTTL.
type skillSet struct {
	fetchedAt time.Time
	own       []*store.Skill
	shared    []*store.Skill
	userFS    []resolvedSkill
	globalFS  []resolvedSkill
}

// skillResolver implements the spec's precedence: user's stored skills
// → user's filesystem skills → shared stored skills → global filesystem
// skills, caching the assembled set for 60 seconds per user.
type skillResolver struct {
	repo    store.Store
	dataDir string

	mu    sync.Mutex
	cache map[string]*skillSet
}

func newSkillResolver(repo store.Store, dataDir string) *skillResolver {
	return &skillResolver{repo: repo, dataDir: dataDir, cache: make(map[string]*skillSet)}
}

func (r *skillResolver) load(ctx context.Context, userID string) (*skillSet, error) {
	r.mu.Lock()
	if s, ok := r.cache[userID]; ok && time.Since(s.fetchedAt) < skillCacheTTL {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	own, err := r.repo.ListSkills(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := &skillSet{
		fetchedAt: time.Now(),
		own:       own,
		userFS:    readSkillDir(filepath.Join(userWorkspace(r.dataDir, userID), "skills")),
		globalFS:  readSkillDir(filepath.Join(r.dataDir, "skills")),
	}

	r.mu.Lock()
	r.cache[userID] = set
	r.mu.Unlock()
	return set, nil
}

// Resolve finds the named skill for userID, following the precedence
// order, resolving shared stored skills lazily (each distinct shared
// name is looked up only if nothing earlier in the chain matched).
func (r *skillResolver) Resolve(ctx context.Context, userID, name string) (*resolvedSkill, error) {
	set, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, sk := range set.own {
		if strings.EqualFold(sk.Name, name) {
			return &resolvedSkill{name: sk.Name, content: sk.Content}, nil
		}
	}
	for _, sk := range set.userFS {
		if strings.EqualFold(sk.name, name) {
			return &sk, nil
		}
	}
	if sk, err := r.repo.GetSharedSkillByName(ctx, name); err == nil {
		return &resolvedSkill{name: sk.Name, content: sk.Content}, nil
	}
	for _, sk := range set.globalFS {
		if strings.EqualFold(sk.name, name) {
			return &sk, nil
		}
	}
	return nil, apperr.Newf(apperr.NotFound, "skill %q not found", name)
}

// List returns the user's stored skills, user filesystem skills and global
// filesystem skills by name+description, for the Orchestrator's routing
// prompt. Filesystem skills have no description. Shared stored skills are
// not listed; Resolve finds them only by name.
func (r *skillResolver) List(ctx context.Context, userID string) ([]orchestrator.Skill, error) {
	set, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []orchestrator.Skill
	seen := make(map[string]bool)
	add := func(name, desc string) {
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, orchestrator.Skill{Name: name, Description: desc})
	}
	for _, sk := range set.own {
		add(sk.Name, sk.Description)
	}
	for _, sk := range set.userFS {
		add(sk.name, "")
	}
	for _, sk := range set.globalFS {
		add(sk.name, "")
	}
	return out, nil
}

// userWorkspace is the per-user root for skills/ and files/ subtrees.
func userWorkspace(dataDir, userID string) string {
	return filepath.Join(dataDir, "users", userID)
}

// ensureWorkspace creates the per-user skills/ and files/ subtrees if
// they don't already exist (§4.6 step 1).
func ensureWorkspace(dataDir, userID string) error {
	root := userWorkspace(dataDir, userID)
	if err := os.MkdirAll(filepath.Join(root, "skills"), 0o755); err != nil {
		return apperr.Wrap(apperr.Transport, "creating skills workspace", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "files"), 0o755); err != nil {
		return apperr.Wrap(apperr.Transport, "creating files workspace", err)
	}
	return nil
}

// readSkillDir reads every *.md file in dir as a skill named after its
// filename (without extension). A missing directory yields no skills,
// not an error.
func readSkillDir(dir string) []resolvedSkill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []resolvedSkill
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, resolvedSkill{
			name:    strings.TrimSuffix(e.Name(), ".md"),
			content: string(b),
		})
	}
	return out
}

// fileContextLines renders the bullet list of filenames with size and
// mtime for the file_operation intent override (§4.6 step 10). Size is
// read from disk rather than duplicated in FileMetadata, since the
// workspace files/ directory is the authoritative source for it.
func fileContextLines(dataDir, userID string, files []*store.FileMetadata) string {
	if len(files) == 0 {
		return ""
	}
	dir := filepath.Join(userWorkspace(dataDir, userID), "files")
	var b strings.Builder
	for _, f := range files {
		size := int64(-1)
		if info, err := os.Stat(filepath.Join(dir, f.Filename)); err == nil {
			size = info.Size()
		}
		b.WriteString("- ")
		b.WriteString(f.Filename)
		if size >= 0 {
			b.WriteString(" (")
			b.WriteString(formatSize(size))
			b.WriteString(", ")
		} else {
			b.WriteString(" (")
		}
		b.WriteString(f.LastUploadedAt.Format("2006-01-02 15:04"))
		b.WriteString(")\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSize(n int64) string {
	const kb = 1024
	const mb = kb * 1024
	switch {
	case n >= mb:
		return formatFloat(float64(n)/float64(mb)) + " MB"
	case n >= kb:
		return formatFloat(float64(n)/float64(kb)) + " KB"
	default:
		return formatFloat(float64(n)) + " B"
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 1, 64)
	s = strings.TrimSuffix(s, ".0")
	return s
}
