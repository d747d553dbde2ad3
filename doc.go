// Package greenroom is the AI orchestration layer for an
// entertainment-industry business intelligence hub.
//
// The layer sits between websocket clients and a knowledge graph of
// deals, talent, projects, and companies. Each inbound message is
// classified and routed to a specialist agent (sales, talent, or
// analytics) that reasons over graph tools, short-term conversation
// state, and long-term per-user memory, streaming its answer back as
// newline-delimited JSON frames.
//
// # Quick Start
//
// Install the server:
//
//	go install github.com/greenroom-ai/greenroom/cmd/greenroom@latest
//
// Point it at a configuration file:
//
//	greenroom serve --config greenroom.yaml
//
// A minimal configuration names the graph, cache, and at least one
// model provider:
//
//	graph:
//	  uri: "bolt://localhost:7687"
//	  password: "${NEO4J_PASSWORD}"
//	cache:
//	  url: "${REDIS_URL}"
//	llm:
//	  providers:
//	    primary:
//	      provider: anthropic
//	      model: claude-sonnet-4-20250514
//	      api_key: "${ANTHROPIC_API_KEY}"
//
// # Packages
//
// The library splits along the request path:
//
//   - pkg/protocol: frame types, turns, and the error taxonomy
//   - pkg/server: websocket sessions, health, and metrics endpoints
//   - pkg/orchestrator: intent classification and agent dispatch
//   - pkg/agent: the specialist reasoning loop
//   - pkg/tools: permission-gated graph tools
//   - pkg/memory: extraction, consolidation, and retrieval
//   - pkg/graph, pkg/kv: neo4j and redis access
//   - pkg/runtime: composition root and lifecycle
//
// Clients authenticate with a bearer token on the first frame; roles
// and data-access levels from the token gate every tool call.
package greenroom
