// Package graphql holds the GraphQL schema served by the API server.
package graphql

// GetGQLSchema returns the schema string. Kept as a Go literal so the
// binary stays self-contained.
func GetGQLSchema() string {
	return `
	schema {
		query: Query
		mutation: Mutation
	}

	scalar Time

	type Query {
		# The caller's home feed, newest-first under the requested
		# algorithm. Identity comes from the request, not from arguments.
		homeFeed(first: Int, after: String, algorithm: String, department: ID): HomeFeedConnection!
	}

	type Mutation {
		createPost(input: NewPostInput!): PostSummary!
		likePost(postId: ID!): Boolean!
		unlikePost(postId: ID!): Boolean!
		commentPost(postId: ID!, content: String!): Boolean!
		sharePost(postId: ID!, sharedWith: String): Boolean!
	}

	type HomeFeedConnection {
		edges: [FeedEdge!]!
		pageInfo: PageInfo!
	}

	type FeedEdge {
		cursor: String!
		node: PostSummary!
	}

	type PageInfo {
		hasNextPage: Boolean!
		endCursor: String
	}

	type PostSummary {
		id: ID!
		title: String!
		contentPreview: String!
		authorId: ID!
		authorName: String!
		universityId: ID
		companyId: ID
		departmentId: ID
		isPrivate: Boolean!
		createdAt: Time!
		score: Float!
		likeCount: Int!
		commentCount: Int!
		shareCount: Int!
		interacted: Boolean!
	}

	input NewPostInput {
		title: String!
		content: String!
		universityId: ID
		companyId: ID
		departmentId: ID
		isPrivate: Boolean
		location: String
		eventName: String
	}
	`
}
