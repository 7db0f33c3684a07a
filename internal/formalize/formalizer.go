// Package formalize turns a parsed project into machine-checked Lean
// artifacts: dependency analyzers order the work, formalizers drive a
// generate-validate-retry loop per entity against the proof checker.
package formalize

// Summary reports per-entity outcomes of one formalization stage.
// Entities are service-qualified names.
type Summary struct {
	Accepted []string
	// Failed lists entities whose retry budget was exhausted.
	Failed []string
	// Skipped lists entities not attempted because an earlier entity in
	// their batch failed or a dependency has no accepted artifact.
	Skipped []string
}

// Clean reports whether every attempted entity was accepted.
func (s *Summary) Clean() bool {
	return len(s.Failed) == 0 && len(s.Skipped) == 0
}
