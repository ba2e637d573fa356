package resolver

import (
	"context"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/photocampus/feedengine/feed"
)

// HomeFeed resolves the caller's home feed as a relay style connection.
func (r *RootResolver) HomeFeed(ctx context.Context, args struct {
	First      *int32
	After      *string
	Algorithm  *string
	Department *graphql.ID
}) (*homeFeedConnectionResolver, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	first := 0
	if args.First != nil {
		first = int(*args.First)
	}
	algorithm := ""
	if args.Algorithm != nil {
		algorithm = *args.Algorithm
	}
	var departmentID *string
	if args.Department != nil {
		id := string(*args.Department)
		departmentID = &id
	}

	connection, err := r.Assembler.HomeFeedConnection(ctx, userID, first, args.After, algorithm, departmentID)
	if err != nil {
		return nil, err
	}
	return &homeFeedConnectionResolver{connection: connection}, nil
}

type homeFeedConnectionResolver struct {
	connection *feed.FeedConnection
}

func (r *homeFeedConnectionResolver) Edges() []*feedEdgeResolver {
	edges := make([]*feedEdgeResolver, 0, len(r.connection.Edges))
	for _, edge := range r.connection.Edges {
		edges = append(edges, &feedEdgeResolver{edge: edge})
	}
	return edges
}

func (r *homeFeedConnectionResolver) PageInfo() *pageInfoResolver {
	return &pageInfoResolver{info: r.connection.PageInfo}
}

type feedEdgeResolver struct {
	edge *feed.FeedEdge
}

func (r *feedEdgeResolver) Cursor() string {
	return r.edge.Cursor
}

func (r *feedEdgeResolver) Node() *postSummaryResolver {
	return &postSummaryResolver{summary: r.edge.Node}
}

type pageInfoResolver struct {
	info feed.PageInfo
}

func (r *pageInfoResolver) HasNextPage() bool {
	return r.info.HasNextPage
}

func (r *pageInfoResolver) EndCursor() *string {
	return r.info.EndCursor
}

type postSummaryResolver struct {
	summary *feed.PostSummary
}

func (r *postSummaryResolver) ID() graphql.ID {
	return graphql.ID(r.summary.Id)
}

func (r *postSummaryResolver) Title() string {
	return r.summary.Title
}

func (r *postSummaryResolver) ContentPreview() string {
	return r.summary.ContentPreview
}

func (r *postSummaryResolver) AuthorID() graphql.ID {
	return graphql.ID(r.summary.AuthorID)
}

func (r *postSummaryResolver) AuthorName() string {
	return r.summary.AuthorName
}

func (r *postSummaryResolver) UniversityID() *graphql.ID {
	return optionalID(r.summary.UniversityID)
}

func (r *postSummaryResolver) CompanyID() *graphql.ID {
	return optionalID(r.summary.CompanyID)
}

func (r *postSummaryResolver) DepartmentID() *graphql.ID {
	return optionalID(r.summary.DepartmentID)
}

func (r *postSummaryResolver) IsPrivate() bool {
	return r.summary.IsPrivate
}

func (r *postSummaryResolver) CreatedAt() graphql.Time {
	return graphql.Time{Time: r.summary.CreatedAt}
}

func (r *postSummaryResolver) Score() float64 {
	return r.summary.Score
}

func (r *postSummaryResolver) LikeCount() int32 {
	return int32(r.summary.LikeCount)
}

func (r *postSummaryResolver) CommentCount() int32 {
	return int32(r.summary.CommentCount)
}

func (r *postSummaryResolver) ShareCount() int32 {
	return int32(r.summary.ShareCount)
}

func (r *postSummaryResolver) Interacted() bool {
	return r.summary.Interacted
}

func optionalID(id *string) *graphql.ID {
	if id == nil {
		return nil
	}
	gid := graphql.ID(*id)
	return &gid
}
