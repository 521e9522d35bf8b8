// Package predictor extracts fixed-schema feature vectors from task
// contexts, trains lightweight per-skill logistic scorers, and produces
// ranked skill recommendations with confidence and rationale. Skills
// whose model is untrained fall back to a similarity-weighted vote over
// comparable historical patterns.
package predictor

import (
	"strings"

	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// FeatureDim is the size of the fixed feature schema. Changing the layout
// requires bumping learning.FeatureSchemaVersion so stale models are
// retired instead of misread.
const FeatureDim = 18

// Feature vector layout.
const (
	featTechDiversity = iota
	featTechMaturity
	featComplexity
	featSecuritySensitive
	featTeamSolo
	featTeamSmall
	featTeamMedium
	featTeamLarge
	featDomainData
	featDomainWeb
	featDomainInfra
	featDomainSecurity
	featDomainML
	featDomainBusiness
	featTaskBuild
	featTaskDiagnose
	featTaskIntegrate
	featTaskHarden
)

// featureNames label each dimension for rationale strings.
var featureNames = [FeatureDim]string{
	"technology diversity",
	"technology maturity",
	"estimated complexity",
	"security sensitivity",
	"solo team",
	"small team",
	"medium team",
	"large team",
	"data domain",
	"web domain",
	"infrastructure domain",
	"security domain",
	"ml domain",
	"business domain",
	"build-type task",
	"diagnose-type task",
	"integration task",
	"hardening task",
}

// matureTechnologies are long-established stacks; the maturity feature is
// the fraction of the task's technologies found here.
var matureTechnologies = map[string]bool{
	"go": true, "java": true, "python": true, "ruby": true, "c": true,
	"postgres": true, "postgresql": true, "mysql": true, "sqlite": true,
	"redis": true, "nginx": true, "linux": true, "make": true,
	"javascript": true, "html": true, "css": true, "bash": true,
}

var securityKeywords = []string{"security", "auth", "crypto", "secret", "vulnerability", "cve", "compliance"}

var domainGroups = map[int][]string{
	featDomainData:     {"data", "database", "storage", "etl", "analytics", "search"},
	featDomainWeb:      {"web", "frontend", "http", "api", "rest", "graphql"},
	featDomainInfra:    {"infra", "infrastructure", "devops", "kubernetes", "docker", "ci", "deployment", "observability", "logging"},
	featDomainSecurity: {"security", "auth", "authentication", "identity", "compliance"},
	featDomainML:       {"ml", "machine-learning", "llm", "agent", "ai"},
	featDomainBusiness: {"payments", "billing", "ecommerce", "inventory", "finance", "scheduling"},
}

// ExtractFeatures maps a task context onto the fixed feature schema. The
// mapping is deterministic; equal contexts always produce equal vectors.
func ExtractFeatures(taskCtx learning.TaskContext) []float64 {
	v := make([]float64, FeatureDim)

	techs := lowerSet(taskCtx.Technologies)
	v[featTechDiversity] = minf(1.0, float64(len(techs))/8.0)

	if len(techs) > 0 {
		mature := 0
		for t := range techs {
			if matureTechnologies[t] {
				mature++
			}
		}
		v[featTechMaturity] = float64(mature) / float64(len(techs))
	}

	v[featComplexity] = taskCtx.Complexity.Scalar()

	if isSecuritySensitive(taskCtx) {
		v[featSecuritySensitive] = 1
	}

	switch taskCtx.TeamSize {
	case learning.TeamSolo:
		v[featTeamSolo] = 1
	case learning.TeamMedium:
		v[featTeamMedium] = 1
	case learning.TeamLarge:
		v[featTeamLarge] = 1
	default:
		v[featTeamSmall] = 1
	}

	domains := lowerSet(taskCtx.DomainTags)
	for dim, keywords := range domainGroups {
		for _, kw := range keywords {
			if domains[kw] {
				v[dim] = 1
				break
			}
		}
	}

	switch taskCtx.Type {
	case learning.TaskImplementation, learning.TaskRefactor:
		v[featTaskBuild] = 1
	case learning.TaskDebug, learning.TaskTest:
		v[featTaskDiagnose] = 1
	case learning.TaskIntegration:
		v[featTaskIntegrate] = 1
	case learning.TaskSecurity:
		v[featTaskHarden] = 1
	}

	return v
}

func isSecuritySensitive(taskCtx learning.TaskContext) bool {
	if taskCtx.Type == learning.TaskSecurity {
		return true
	}
	haystack := strings.ToLower(taskCtx.Intent + " " + strings.Join(taskCtx.DomainTags, " "))
	for _, kw := range securityKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// dominantFeatures names the highest-valued dimensions for rationale text.
func dominantFeatures(v []float64, limit int) []string {
	type entry struct {
		name  string
		value float64
	}
	var entries []entry
	for i, val := range v {
		if val > 0 {
			entries = append(entries, entry{featureNames[i], val})
		}
	}
	// insertion sort by descending value, stable on schema order
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].value > entries[j-1].value; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	return set
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
