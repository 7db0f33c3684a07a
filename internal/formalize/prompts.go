package formalize

import (
	"fmt"
	"strings"

	"leanforge/internal/project"
)

const tableDepSystemPrompt = `You analyze relational database schemas. Given the tables of one
service, report which tables each table depends on through foreign keys
or semantic references. Respond with a "### Output" section containing a
fenced json object mapping every table name to an array of the table
names it depends on. Include every table exactly once, with an empty
array when it has no dependencies. Never invent table names.`

const apiTableDepSystemPrompt = `You analyze service APIs against their database schema. Given one
API and the tables of its service, report which tables the API reads or
writes. Respond with a "### Output" section containing a fenced json
array of table names drawn only from the provided schema. Use an empty
array when the API touches no table.`

const apiDepSystemPrompt = `You analyze call relationships between service APIs. Given one API
and the full catalog of APIs across all services, report which other
APIs it invokes. Respond with a "### Output" section containing a fenced
json array of [service, api] pairs drawn only from the catalog. An API
never depends on itself. Use an empty array when it calls no other API.`

const tableFormalizeSystemPrompt = `You translate relational database tables into Lean 4. For each table
produce a Lean structure capturing its columns and a row predicate
capturing its constraints, building on the formalizations of the tables
it depends on. Always end your response with a "### Lean Code" section
containing a single fenced lean block holding the complete source.`

const apiFormalizeSystemPrompt = `You translate service APIs into Lean 4. For each API produce a Lean
theorem stating the API's contract over the formalized tables it touches
and the formalized APIs it invokes, and prove it. Always end your
response with a "### Lean Code" section containing a single fenced lean
block holding the complete source.`

func tableSection(t *project.Table, withLean bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Table: %s\n\n", t.Name)
	if t.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", t.Description)
	}
	fmt.Fprintf(&b, "```sql\n%s\n```\n", t.SourceCode)
	if withLean && t.LeanCode != "" {
		fmt.Fprintf(&b, "\n```lean\n%s\n```\n", t.LeanCode)
	}
	return b.String()
}

func apiSection(a *project.API, withCode, withLean bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## API: %s\n\n", a.Name)
	if a.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", a.Description)
	}
	if withCode {
		if a.PlannerCode != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n", a.PlannerCode)
		}
		if a.MessageCode != "" {
			fmt.Fprintf(&b, "```\n%s\n```\n", a.MessageCode)
		}
	}
	if withLean && a.LeanCode != "" {
		fmt.Fprintf(&b, "\n```lean\n%s\n```\n", a.LeanCode)
	}
	return b.String()
}

func tableDepPrompt(s *project.Service) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Service: %s\n\n", s.Name)
	for _, t := range s.Tables {
		b.WriteString(tableSection(t, false))
		b.WriteString("\n")
	}
	b.WriteString("Report the dependency map for these tables.")
	return b.String()
}

func apiTableDepPrompt(s *project.Service, a *project.API) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Service: %s\n\n", s.Name)
	for _, t := range s.Tables {
		b.WriteString(tableSection(t, false))
		b.WriteString("\n")
	}
	b.WriteString(apiSection(a, true, false))
	b.WriteString("\nReport the tables this API reads or writes.")
	return b.String()
}

func apiDepPrompt(p *project.Project, ref project.APIRef, a *project.API) string {
	var b strings.Builder
	b.WriteString("# API catalog\n\n")
	for _, s := range p.Services {
		for _, sa := range s.APIs {
			fmt.Fprintf(&b, "- [%s, %s]", s.Name, sa.Name)
			if sa.Description != "" {
				fmt.Fprintf(&b, ": %s", sa.Description)
			}
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "\n# Subject: %s of service %s\n\n", ref.API, ref.Service)
	b.WriteString(apiSection(a, true, false))
	b.WriteString("\nReport the APIs this API invokes.")
	return b.String()
}

func tableFormalizePrompt(t *project.Table, deps []*project.Table) string {
	var b strings.Builder
	if len(deps) > 0 {
		b.WriteString("# Formalized dependencies\n\n")
		for _, d := range deps {
			b.WriteString(tableSection(d, true))
			b.WriteString("\n")
		}
	}
	b.WriteString("# Target\n\n")
	b.WriteString(tableSection(t, false))
	b.WriteString("\nFormalize this table in Lean 4.")
	return b.String()
}

func apiFormalizePrompt(ref project.APIRef, a *project.API, tableDeps []*project.Table, apiDeps []*project.API) string {
	var b strings.Builder
	if len(tableDeps) > 0 {
		b.WriteString("# Formalized tables\n\n")
		for _, d := range tableDeps {
			b.WriteString(tableSection(d, true))
			b.WriteString("\n")
		}
	}
	if len(apiDeps) > 0 {
		b.WriteString("# Formalized APIs\n\n")
		for _, d := range apiDeps {
			b.WriteString(apiSection(d, false, true))
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "# Target: %s of service %s\n\n", ref.API, ref.Service)
	b.WriteString(apiSection(a, true, false))
	b.WriteString("\nFormalize this API in Lean 4.")
	return b.String()
}

func retryPrompt(feedback string) string {
	return fmt.Sprintf("The previous attempt was rejected.\n\n%s\n\nFix the issues and produce a corrected version. End with a \"### Lean Code\" section containing the full source.", feedback)
}

func analyzerRetryPrompt(feedback string) string {
	return fmt.Sprintf("The previous response could not be used.\n\n%s\n\nRespond again with a valid \"### Output\" section.", feedback)
}
