package tools

import (
	"context"
	"strings"

	"github.com/greenroom-ai/greenroom/pkg/graph"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
	"github.com/greenroom-ai/greenroom/pkg/rbac"
)

// Canonical tool names. Agent variants reference these in their
// per-variant allow lists.
const (
	ToolPersonProfile        = "get_person_profile"
	ToolOrganizationProfile  = "get_organization_profile"
	ToolProjectDetails       = "get_project_details"
	ToolPeopleAtOrganization = "find_people_at_organization"
	ToolProjectsByConcept    = "find_projects_by_concept"
	ToolClientContributors   = "find_contributors_on_client_projects"
	ToolDealDetails          = "get_deal_details"
	ToolDealSourcer          = "get_deal_sourcer"
	ToolDocumentSearch       = "search_documents_full_text"
	ToolVectorSearch         = "universal_vector_search"
)

// PermissionDealsRead gates the deal pipeline tools.
const PermissionDealsRead = "deals:read"

// Field sensitivity per entity kind, on the 1..6 data-access lattice.
// Unannotated fields are visible to every principal.
var (
	personSensitivity  = rbac.Sensitivity{"email": 3, "phone": 4}
	projectSensitivity = rbac.Sensitivity{"budget": 4}
	dealSensitivity    = rbac.Sensitivity{"value": 4, "commission_rate": 5}
)

const (
	finderLimit         = 50
	documentSearchLimit = 20
	conceptSearchK      = 10
	conceptMinScore     = 0.6
)

// Canonical returns the full tool set wired over the given handles.
func Canonical(h Handles) []Tool {
	return []Tool{
		personProfileTool(h),
		organizationProfileTool(h),
		projectDetailsTool(h),
		peopleAtOrganizationTool(h),
		projectsByConceptTool(h),
		clientContributorsTool(h),
		dealDetailsTool(h),
		dealSourcerTool(h),
		documentSearchTool(h),
		vectorSearchTool(h),
	}
}

const personProfileCypher = `MATCH (person:Person)
WHERE ($id IS NOT NULL AND person.id = $id)
   OR ($name IS NOT NULL AND toLower(person.name) = toLower($name))
WITH person LIMIT 1
RETURN person.id AS id, person.name AS name, person.bio AS bio,
       person.union_status AS union_status, person.email AS email,
       person.phone AS phone,
       [(person)-[w:WORKED_ON]->(proj:Project) | {id: proj.id, name: proj.name, role: w.role}] AS projects,
       [(person)-[:MEMBER_OF]->(org:Organization) | {id: org.id, name: org.name}] AS organizations`

func personProfileTool(h Handles) Tool {
	return Tool{
		Name:        ToolPersonProfile,
		Description: "Look up one person by name or id: bio, union status, project credits with roles, and organization memberships.",
		Parameters: objectSchema(nil, map[string]any{
			"id":   stringProp("Person id"),
			"name": stringProp("Person name, matched case-insensitively"),
		}),
		MinRole:     rbac.RoleCreativeDirector,
		Sensitivity: personSensitivity,
		Idempotent:  true,
		Run: func(ctx context.Context, _ rbac.Principal, args map[string]any) (Output, error) {
			var in entityRef
			if err := decodeArgs(args, &in); err != nil {
				return Output{}, err
			}
			if err := in.validate(ToolPersonProfile); err != nil {
				return Output{}, err
			}
			return singleEntity(ctx, h, personProfileCypher, in.params())
		},
	}
}

const organizationProfileCypher = `MATCH (org:Organization)
WHERE ($id IS NOT NULL AND org.id = $id)
   OR ($name IS NOT NULL AND toLower(org.name) = toLower($name))
WITH org LIMIT 1
RETURN org.id AS id, org.name AS name, org.profile AS profile,
       org.org_type AS org_type,
       [(member:Person)-[:MEMBER_OF]->(org) | {id: member.id, name: member.name}] AS people,
       [(proj:Project)-[:FOR_CLIENT]->(org) | {id: proj.id, name: proj.name, project_type: proj.project_type}][..10] AS recent_projects`

func organizationProfileTool(h Handles) Tool {
	return Tool{
		Name:        ToolOrganizationProfile,
		Description: "Look up one organization by name or id: profile, associated people, and recent projects.",
		Parameters: objectSchema(nil, map[string]any{
			"id":   stringProp("Organization id"),
			"name": stringProp("Organization name, matched case-insensitively"),
		}),
		MinRole:    rbac.RoleCreativeDirector,
		Idempotent: true,
		Run: func(ctx context.Context, _ rbac.Principal, args map[string]any) (Output, error) {
			var in entityRef
			if err := decodeArgs(args, &in); err != nil {
				return Output{}, err
			}
			if err := in.validate(ToolOrganizationProfile); err != nil {
				return Output{}, err
			}
			return singleEntity(ctx, h, organizationProfileCypher, in.params())
		},
	}
}

const projectDetailsCypher = `MATCH (proj:Project)
WHERE ($id IS NOT NULL AND proj.id = $id)
   OR ($name IS NOT NULL AND toLower(proj.name) = toLower($name))
WITH proj LIMIT 1
RETURN proj.id AS id, proj.name AS name, proj.project_type AS project_type,
       proj.status AS status, proj.budget AS budget, proj.logline AS logline,
       [(member:Person)-[w:WORKED_ON]->(proj) | {id: member.id, name: member.name, role: w.role}] AS crew,
       head([(proj)-[:FOR_CLIENT]->(client:Organization) | {id: client.id, name: client.name}]) AS client`

func projectDetailsTool(h Handles) Tool {
	return Tool{
		Name:        ToolProjectDetails,
		Description: "Look up one project by name or id: type, status, budget band, logline, crew list, and client.",
		Parameters: objectSchema(nil, map[string]any{
			"id":   stringProp("Project id"),
			"name": stringProp("Project name, matched case-insensitively"),
		}),
		MinRole:     rbac.RoleCreativeDirector,
		Sensitivity: projectSensitivity,
		Idempotent:  true,
		Run: func(ctx context.Context, _ rbac.Principal, args map[string]any) (Output, error) {
			var in entityRef
			if err := decodeArgs(args, &in); err != nil {
				return Output{}, err
			}
			if err := in.validate(ToolProjectDetails); err != nil {
				return Output{}, err
			}
			return singleEntity(ctx, h, projectDetailsCypher, in.params())
		},
	}
}

const peopleAtOrganizationCypher = `MATCH (org:Organization)
WHERE org.id = $org OR toLower(org.name) = toLower($org)
WITH org LIMIT 1
MATCH (person:Person)-[:MEMBER_OF]->(org)
RETURN org.name AS organization, person.id AS id, person.name AS name,
       person.union_status AS union_status
ORDER BY name ASC
LIMIT $limit`

func peopleAtOrganizationTool(h Handles) Tool {
	return Tool{
		Name:        ToolPeopleAtOrganization,
		Description: "List the people who are members of an organization.",
		Parameters: objectSchema([]string{"org"}, map[string]any{
			"org": stringProp("Organization name or id"),
		}),
		MinRole:    rbac.RoleCreativeDirector,
		Idempotent: true,
		Run: func(ctx context.Context, _ rbac.Principal, args map[string]any) (Output, error) {
			var in struct {
				Org string `mapstructure:"org"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Output{}, err
			}
			if strings.TrimSpace(in.Org) == "" {
				return Output{}, protocol.Errorf(protocol.KindValidation,
					"tools."+ToolPeopleAtOrganization, "org is required")
			}
			records, err := h.Graph.Run(ctx, graph.Query{
				Cypher:     peopleAtOrganizationCypher,
				Params:     map[string]any{"org": strings.TrimSpace(in.Org), "limit": finderLimit},
				Idempotent: true,
			})
			if err != nil {
				return Output{}, err
			}
			if len(records) == 0 {
				return Output{}, nil
			}
			people := make([]map[string]any, 0, len(records))
			for _, rec := range records {
				people = append(people, map[string]any{
					"id":           rec.String("id"),
					"name":         rec.String("name"),
					"union_status": rec.String("union_status"),
				})
			}
			return Output{Found: true, Data: map[string]any{
				"organization": records[0].String("organization"),
				"people":       people,
				"count":        len(people),
			}}, nil
		},
	}
}

func projectsByConceptTool(h Handles) Tool {
	return Tool{
		Name:        ToolProjectsByConcept,
		Description: "Find projects whose creative concept is semantically close to a free-text description.",
		Parameters: objectSchema([]string{"concept"}, map[string]any{
			"concept": stringProp("Creative concept to search for, in plain language"),
		}),
		MinRole:    rbac.RoleCreativeDirector,
		Idempotent: true,
		Run: func(ctx context.Context, p rbac.Principal, args map[string]any) (Output, error) {
			var in struct {
				Concept string `mapstructure:"concept"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Output{}, err
			}
			concept := strings.TrimSpace(in.Concept)
			if len(concept) < 2 {
				return Output{}, protocol.Errorf(protocol.KindValidation,
					"tools."+ToolProjectsByConcept, "concept must be at least 2 characters")
			}
			embedding, err := h.Embed.Embed(ctx, concept)
			if err != nil {
				return Output{}, err
			}
			hits, err := h.Graph.VectorSearch(ctx, graph.IndexProjectConcept, embedding, conceptSearchK, conceptMinScore)
			if err != nil {
				return Output{}, err
			}
			projects := make([]map[string]any, 0, len(hits))
			for _, hit := range hits {
				item := rbac.Redact(publicProps(hit.Props), projectSensitivity, p)
				item["id"] = hit.ID
				item["score"] = hit.Score
				projects = append(projects, item)
			}
			sortByScore(projects)
			return Output{Found: len(projects) > 0, Data: map[string]any{
				"concept":  concept,
				"projects": projects,
				"count":    len(projects),
			}}, nil
		},
	}
}

const clientContributorsCypher = `MATCH (person:Person)-[w:WORKED_ON]->(proj:Project)-[:FOR_CLIENT]->(client:Organization)
WHERE (client.id = $client OR toLower(client.name) = toLower($client))
  AND ($role IS NULL OR toLower(w.role) = toLower($role))
RETURN DISTINCT person.id AS id, person.name AS name, w.role AS role,
       proj.id AS project_id, proj.name AS project_name
ORDER BY name ASC, project_name ASC
LIMIT $limit`

func clientContributorsTool(h Handles) Tool {
	return Tool{
		Name:        ToolClientContributors,
		Description: "Find people who worked on projects for a given client, optionally filtered by their role on the project.",
		Parameters: objectSchema([]string{"client"}, map[string]any{
			"client": stringProp("Client organization name or id"),
			"role":   stringProp("Optional project role filter, e.g. director or cinematographer"),
		}),
		MinRole:    rbac.RoleCreativeDirector,
		Idempotent: true,
		Run: func(ctx context.Context, _ rbac.Principal, args map[string]any) (Output, error) {
			var in struct {
				Client string `mapstructure:"client"`
				Role   string `mapstructure:"role"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Output{}, err
			}
			client := strings.TrimSpace(in.Client)
			if client == "" {
				return Output{}, protocol.Errorf(protocol.KindValidation,
					"tools."+ToolClientContributors, "client is required")
			}
			params := map[string]any{"client": client, "role": nil, "limit": finderLimit}
			if role := strings.TrimSpace(in.Role); role != "" {
				params["role"] = role
			}
			records, err := h.Graph.Run(ctx, graph.Query{
				Cypher:     clientContributorsCypher,
				Params:     params,
				Idempotent: true,
			})
			if err != nil {
				return Output{}, err
			}
			contributors := make([]map[string]any, 0, len(records))
			for _, rec := range records {
				contributors = append(contributors, map[string]any{
					"id":           rec.String("id"),
					"name":         rec.String("name"),
					"role":         rec.String("role"),
					"project_id":   rec.String("project_id"),
					"project_name": rec.String("project_name"),
				})
			}
			return Output{Found: len(contributors) > 0, Data: map[string]any{
				"client":       client,
				"contributors": contributors,
				"count":        len(contributors),
			}}, nil
		},
	}
}

const dealDetailsCypher = `MATCH (deal:Deal)
WHERE deal.id = $id
RETURN deal.id AS id, deal.name AS name, deal.stage AS stage,
       deal.value AS value, deal.commission_rate AS commission_rate,
       head([(deal)-[:FOR_CLIENT]->(org:Organization) | {id: org.id, name: org.name}]) AS client,
       head([(deal)-[:AUTHORED_BY]->(person:Person) | {id: person.id, name: person.name}]) AS sourcer`

func dealDetailsTool(h Handles) Tool {
	return Tool{
		Name:        ToolDealDetails,
		Description: "Look up one deal by id: stage, value, commission rate, client, and the person who sourced it.",
		Parameters: objectSchema([]string{"id"}, map[string]any{
			"id": stringProp("Deal id"),
		}),
		MinRole:     rbac.RoleSalesperson,
		Permission:  PermissionDealsRead,
		Sensitivity: dealSensitivity,
		Idempotent:  true,
		Run: func(ctx context.Context, _ rbac.Principal, args map[string]any) (Output, error) {
			id, err := requiredID(args, ToolDealDetails)
			if err != nil {
				return Output{}, err
			}
			return singleEntity(ctx, h, dealDetailsCypher, map[string]any{"id": id})
		},
	}
}

const dealSourcerCypher = `MATCH (deal:Deal)-[:AUTHORED_BY]->(person:Person)
WHERE deal.id = $id
RETURN deal.id AS deal_id, deal.name AS deal_name, person.id AS id,
       person.name AS name, person.email AS email
LIMIT 1`

func dealSourcerTool(h Handles) Tool {
	return Tool{
		Name:        ToolDealSourcer,
		Description: "Look up the person who sourced a deal.",
		Parameters: objectSchema([]string{"id"}, map[string]any{
			"id": stringProp("Deal id"),
		}),
		MinRole:     rbac.RoleSalesperson,
		Permission:  PermissionDealsRead,
		Sensitivity: personSensitivity,
		Idempotent:  true,
		Run: func(ctx context.Context, _ rbac.Principal, args map[string]any) (Output, error) {
			id, err := requiredID(args, ToolDealSourcer)
			if err != nil {
				return Output{}, err
			}
			return singleEntity(ctx, h, dealSourcerCypher, map[string]any{"id": id})
		},
	}
}

const documentSearchCypher = `CALL db.index.fulltext.queryNodes($index, $query, {limit: $limit})
YIELD node, score
RETURN coalesce(node.id, elementId(node)) AS id, node.title AS title,
       node.doc_type AS doc_type,
       left(coalesce(node.content, ''), 400) AS snippet, score`

func documentSearchTool(h Handles) Tool {
	return Tool{
		Name:        ToolDocumentSearch,
		Description: "Keyword search over document titles and contents. Returns matching documents with a snippet and relevance score.",
		Parameters: objectSchema([]string{"query"}, map[string]any{
			"query": stringProp("Keywords to search for"),
		}),
		MinRole:    rbac.RoleCreativeDirector,
		Idempotent: true,
		Run: func(ctx context.Context, _ rbac.Principal, args map[string]any) (Output, error) {
			var in struct {
				Query string `mapstructure:"query"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Output{}, err
			}
			query := strings.TrimSpace(in.Query)
			if len(query) < 2 {
				return Output{}, protocol.Errorf(protocol.KindValidation,
					"tools."+ToolDocumentSearch, "query must be at least 2 characters")
			}
			records, err := h.Graph.Run(ctx, graph.Query{
				Cypher: documentSearchCypher,
				Params: map[string]any{
					"index": graph.IndexDocumentFullText,
					"query": escapeLucene(query),
					"limit": documentSearchLimit,
				},
				Idempotent: true,
			})
			if err != nil {
				return Output{}, err
			}
			documents := make([]map[string]any, 0, len(records))
			for _, rec := range records {
				documents = append(documents, map[string]any{
					"id":       rec.String("id"),
					"title":    rec.String("title"),
					"doc_type": rec.String("doc_type"),
					"snippet":  rec.String("snippet"),
					"score":    rec.Float("score"),
				})
			}
			sortByScore(documents)
			return Output{Found: len(documents) > 0, Data: map[string]any{
				"query":     query,
				"documents": documents,
				"count":     len(documents),
			}}, nil
		},
	}
}

// singleEntity runs a one-row lookup. Zero rows is a successful miss.
func singleEntity(ctx context.Context, h Handles, cypher string, params map[string]any) (Output, error) {
	records, err := h.Graph.Run(ctx, graph.Query{Cypher: cypher, Params: params, Idempotent: true})
	if err != nil {
		return Output{}, err
	}
	if len(records) == 0 {
		return Output{}, nil
	}
	return Output{Found: true, Data: map[string]any(records[0])}, nil
}

func requiredID(args map[string]any, op string) (string, error) {
	var in struct {
		ID string `mapstructure:"id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return "", protocol.Errorf(protocol.KindValidation, "tools."+op, "id is required")
	}
	return id, nil
}

// escapeLucene neutralizes full-text query syntax so user keywords are
// matched literally.
var luceneEscaper = strings.NewReplacer(
	`\`, `\\`, `&&`, `\&&`, `||`, `\||`, `+`, `\+`, `-`, `\-`, `!`, `\!`,
	`(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`,
	`^`, `\^`, `"`, `\"`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`, `/`, `\/`,
)

func escapeLucene(query string) string {
	return luceneEscaper.Replace(query)
}
