package utils

import (
	graphql "github.com/graph-gophers/graphql-go"
)

// ParseGraphQLSchema binds the schema string to the root resolver. Panics
// on a schema/resolver mismatch, which is a programming error caught at
// server startup.
func ParseGraphQLSchema(schemaString string, resolver interface{}) *graphql.Schema {
	return graphql.MustParseSchema(schemaString, resolver)
}
