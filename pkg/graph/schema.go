package graph

import (
	"context"
	"fmt"
)

// Vector index names. One per searchable entity kind plus the two memory
// item indexes the memory manager queries.
const (
	IndexPersonBio           = "person_bio_vector"
	IndexOrganizationProfile = "organization_profile_vector"
	IndexProjectConcept      = "project_concept_vector"
	IndexDocumentContent     = "document_content_vector"
	IndexMemoryContent       = "memory_content_vector"
	IndexMemorySummary       = "memory_summary_vector"

	// IndexDocumentFullText backs keyword document search.
	IndexDocumentFullText = "document_fulltext"
)

var uniquenessConstraints = []struct {
	name  string
	label string
}{
	{"person_id_unique", "Person"},
	{"organization_id_unique", "Organization"},
	{"project_id_unique", "Project"},
	{"document_id_unique", "Document"},
	{"deal_id_unique", "Deal"},
	{"creative_concept_id_unique", "CreativeConcept"},
	{"memory_id_unique", "Memory"},
}

var vectorIndexes = []struct {
	name     string
	label    string
	property string
}{
	{IndexPersonBio, "Person", "embedding"},
	{IndexOrganizationProfile, "Organization", "embedding"},
	{IndexProjectConcept, "Project", "embedding"},
	{IndexDocumentContent, "Document", "embedding"},
	{IndexMemoryContent, "Memory", "embedding"},
	{IndexMemorySummary, "Memory", "summary_embedding"},
}

// EnsureSchema creates the uniqueness constraints, vector indexes and the
// document full-text index if they do not exist. MERGE upserts elsewhere
// rely on the id constraints being in place.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, con := range uniquenessConstraints {
		stmt := fmt.Sprintf(
			"CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			con.name, con.label,
		)
		if _, err := c.Run(ctx, Query{Cypher: stmt, Write: true, Idempotent: true}); err != nil {
			return fmt.Errorf("create constraint %s: %w", con.name, err)
		}
	}
	for _, idx := range vectorIndexes {
		stmt := fmt.Sprintf(
			"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s) "+
				"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
			idx.name, idx.label, idx.property, c.cfg.EmbeddingDim,
		)
		if _, err := c.Run(ctx, Query{Cypher: stmt, Write: true, Idempotent: true}); err != nil {
			return fmt.Errorf("create vector index %s: %w", idx.name, err)
		}
	}
	fulltext := fmt.Sprintf(
		"CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (d:Document) ON EACH [d.title, d.content]",
		IndexDocumentFullText,
	)
	if _, err := c.Run(ctx, Query{Cypher: fulltext, Write: true, Idempotent: true}); err != nil {
		return fmt.Errorf("create fulltext index %s: %w", IndexDocumentFullText, err)
	}
	return nil
}
