// Package mutation runs write RPCs with optimistic cache edits.
//
// A mutation moves through named stages:
//
//	snapshot  cancel in-flight fetches under the affected prefixes and copy every matching entry
//	apply     run the optimistic edit on each matching entry (synchronous, before Start returns)
//	call      issue the write RPC in the background
//	succeeded invalidate the affected prefixes so the next read reconciles with the server
//	failed    restore the snapshot verbatim and surface *Error
//
// Snapshots belong to one mutation and are never merged. When a mutation fails
// while another mutation touching an overlapping prefix is in flight, or one
// started after it, the rollback is followed by an invalidation of its prefixes:
// the restored snapshot may predate the other mutation's edit, so the entry is
// refetched rather than trusted.
//
// Example:
//
//	del := mutation.Mutation[DeleteOrganizationRequest, DeleteOrganizationResponse]{
//		Name:    "organizations.delete",
//		Affects: func(*DeleteOrganizationRequest) []query.Key { return []query.Key{query.NewKey("organizations")} },
//		Optimistic: func(req *DeleteOrganizationRequest, _ query.Key, data any) any {
//			return withoutOrganization(data, req.Name)
//		},
//		Call: deleteProcedure.Invoke,
//	}
//	res, err := mutation.Run(ctx, orchestrator, del, &DeleteOrganizationRequest{Name: "acme"})
package mutation
