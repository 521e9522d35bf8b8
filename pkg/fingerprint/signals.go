// Package fingerprint derives a stable identity and feature summary for a
// project from discoverable signals: declared languages and frameworks,
// directory shape, naming conventions, and domain keywords. Fingerprints
// are deterministic so similarity lookups and fixtures are reproducible.
package fingerprint

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// DescriptorName is the optional per-project descriptor file. Anything
// declared there is unioned with detected signals.
const DescriptorName = ".skillcast.yaml"

// Signals is the raw, best-effort observation of a project before hashing.
type Signals struct {
	Technologies   []string
	Architecture   []string
	DomainKeywords []string
	Conventions    []string
	TeamSize       learning.TeamSize
}

// Descriptor is the schema of the optional .skillcast.yaml file.
type Descriptor struct {
	Technologies []string `yaml:"technologies"`
	Architecture []string `yaml:"architecture"`
	Domain       []string `yaml:"domain"`
	Conventions  []string `yaml:"conventions"`
	TeamSize     string   `yaml:"team_size"`
}

var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".rs":    "rust",
	".java":  "java",
	".rb":    "ruby",
	".kt":    "kotlin",
	".swift": "swift",
	".cs":    "csharp",
}

// frameworkMarkers maps doublestar glob patterns (relative to the project
// root) onto technology labels.
var frameworkMarkers = []struct {
	pattern string
	label   string
}{
	{"go.mod", "go-modules"},
	{"package.json", "node"},
	{"requirements.txt", "pip"},
	{"pyproject.toml", "python-packaging"},
	{"Cargo.toml", "cargo"},
	{"pom.xml", "maven"},
	{"build.gradle*", "gradle"},
	{"Gemfile", "bundler"},
	{"Dockerfile", "docker"},
	{"docker-compose.{yml,yaml}", "docker-compose"},
	{".github/workflows/*.{yml,yaml}", "github-actions"},
	{"**/*.tf", "terraform"},
	{"**/*.proto", "protobuf"},
	{"Makefile", "make"},
}

// architectureMarkers maps top-level directory names onto architectural
// pattern labels.
var architectureMarkers = map[string]string{
	"cmd":         "cli",
	"internal":    "layered",
	"pkg":         "library",
	"api":         "service",
	"handlers":    "service",
	"controllers": "mvc",
	"models":      "mvc",
	"migrations":  "relational-storage",
	"proto":       "rpc",
	"web":         "web-frontend",
	"frontend":    "web-frontend",
	"charts":      "kubernetes",
	"deploy":      "kubernetes",
}

// domainVocabulary is the closed set of business-domain keywords extracted
// from project prose. A closed set keeps fingerprints stable across noisy
// README edits.
var domainVocabulary = []string{
	"payments", "billing", "auth", "authentication", "identity",
	"analytics", "observability", "logging", "messaging", "streaming",
	"search", "ecommerce", "inventory", "scheduling", "ml",
	"machine-learning", "llm", "agent", "security", "compliance",
	"healthcare", "finance", "gaming", "iot", "devops",
}

// ignoredDirs are never descended into during signal detection.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"dist":         true,
	"target":       true,
}

// DetectSignals walks the project tree and collects raw signals. Detection
// is best effort: an unreadable tree yields empty signals, not an error.
func DetectSignals(root string) Signals {
	var sig Signals

	entries, err := os.ReadDir(root)
	if err != nil {
		return sig
	}

	techs := map[string]bool{}
	archs := map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			if label, ok := architectureMarkers[entry.Name()]; ok {
				archs[label] = true
			}
		}
	}

	var relPaths []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable subtrees
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		relPaths = append(relPaths, rel)
		if lang, ok := languageByExt[filepath.Ext(rel)]; ok {
			techs[lang] = true
		}
		return nil
	})

	for _, marker := range frameworkMarkers {
		for _, rel := range relPaths {
			if ok, _ := doublestar.Match(marker.pattern, rel); ok {
				techs[marker.label] = true
				break
			}
		}
	}

	sig.Technologies = setToSlice(techs)
	sig.Architecture = setToSlice(archs)
	sig.DomainKeywords = detectDomainKeywords(root)
	sig.Conventions = detectConventions(root, relPaths)
	sig.TeamSize = detectTeamSize(root)

	if desc, err := LoadDescriptor(filepath.Join(root, DescriptorName)); err == nil {
		sig = sig.merge(desc)
	}

	return sig
}

// LoadDescriptor parses a .skillcast.yaml project descriptor.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read project descriptor")
	}
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, errors.Wrap(err, "failed to parse project descriptor")
	}
	return &desc, nil
}

func (s Signals) merge(desc *Descriptor) Signals {
	s.Technologies = unionSets(s.Technologies, desc.Technologies)
	s.Architecture = unionSets(s.Architecture, desc.Architecture)
	s.DomainKeywords = unionSets(s.DomainKeywords, desc.Domain)
	s.Conventions = unionSets(s.Conventions, desc.Conventions)
	if desc.TeamSize != "" {
		s.TeamSize = learning.TeamSize(strings.ToLower(desc.TeamSize))
	}
	return s
}

func detectDomainKeywords(root string) []string {
	found := map[string]bool{}
	for _, name := range []string{"README.md", "README", "readme.md"} {
		f, err := os.Open(filepath.Join(root, name))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.ToLower(scanner.Text())
			for _, kw := range domainVocabulary {
				if strings.Contains(line, kw) {
					found[kw] = true
				}
			}
		}
		f.Close()
		break
	}
	return setToSlice(found)
}

func detectConventions(root string, relPaths []string) []string {
	conv := map[string]bool{}

	for _, rel := range relPaths {
		switch {
		case strings.HasPrefix(rel, "internal/"):
			conv["internal-packages"] = true
		case rel == "Makefile":
			conv["makefile-driven"] = true
		case rel == ".editorconfig":
			conv["editorconfig"] = true
		case strings.HasSuffix(rel, "_test.go"):
			conv["colocated-tests"] = true
		case rel == ".golangci.yml" || rel == ".golangci.yaml":
			conv["linted"] = true
		}
	}

	if _, err := os.Stat(filepath.Join(root, "docs")); err == nil {
		conv["docs-directory"] = true
	}
	return setToSlice(conv)
}

func detectTeamSize(root string) learning.TeamSize {
	// CODEOWNERS rule count is a weak but deterministic team-size hint.
	for _, name := range []string{"CODEOWNERS", ".github/CODEOWNERS", "docs/CODEOWNERS"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		rules := 0
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				rules++
			}
		}
		switch {
		case rules <= 1:
			return learning.TeamSolo
		case rules <= 5:
			return learning.TeamSmall
		case rules <= 15:
			return learning.TeamMedium
		default:
			return learning.TeamLarge
		}
	}
	return learning.TeamSmall
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func unionSets(a, b []string) []string {
	set := map[string]bool{}
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = true
		}
	}
	return setToSlice(set)
}
