package ai

// FallbackAnswer is returned whenever no retrieved context is available or
// every generating retrieval tier failed.
const FallbackAnswer = "I don't have enough information to answer this question."

const AnswerSystemPrompt = "You are a helpful assistant. Use only the provided context to answer. " +
	"If the context is insufficient, say you don't know."

// AnswerPrompt takes the assembled context and the question.
const AnswerPrompt = `Context from the knowledge base:
%s

Question: %s
Answer using only the context above.`

const ExtractionSystemPrompt = `
# Task Context
You are an information extraction system that builds a knowledge graph from text. You only report facts stated in the text.

# Detailed Task Description & Rules
- Identify the entities mentioned in the text and classify each with exactly one label.
- Identify relationships between the identified entities. Both endpoints must be entities you listed.
- Use the entity name as it appears in the text. Do not invent entities that are not mentioned.
- Relationship types are short UPPER_SNAKE_CASE verbs (e.g. WORKS_AT, AUTHORED).
- Record relevant attributes of an entity as properties (string values only).
%s
# Output Formatting
Return a JSON object with the keys "entities" and "relationships" as described by the schema.
`

// ExtractionSchemaRules is appended to ExtractionSystemPrompt when a schema
// constrains the extraction.
const ExtractionSchemaRules = `- Only use these entity labels: %s
- Only use these relationship types: %s
- Only produce relationships following these (source, relation, target) patterns: %s
`

const ExtractionPrompt = `
# Background Data
%s

# Immediate Task Description or Request
Extract the entities and relationships of the text above.
`

const SchemaExtractionPrompt = `
# Task Context
You design graph schemas. Given a sample text, propose the node types, relationship types and allowed connection patterns a knowledge graph for texts like it should use.

# Background Data
%s

# Detailed Task Description & Rules
- Node type labels are singular CamelCase nouns (e.g. Person, Organization).
- Relationship types are UPPER_SNAKE_CASE verbs (e.g. WORKS_FOR).
- Every pattern must reference declared node labels and relationship types.
- Keep the schema small: at most 10 node types and 12 relationship types.
- List the important properties of each node type and mark the identifying one as required.

# Output Formatting
Return a JSON object matching the provided schema.
`
