// Package simpleldap is a high-level LDAP directory client built on
// go-ldap/ldap. It layers a bounded connection pool, an injection-safe filter
// algebra, streaming paged searches and group membership operations over the
// raw protocol.
//
// Every operation leases an authenticated session from the pool for its
// duration, so a single Client is safe for concurrent use:
//
//	client, err := simpleldap.New(simpleldap.Config{
//		URL:          "ldaps://directory.example.org:636",
//		BindDN:       "cn=service,dc=example,dc=org",
//		BindPassword: "secret",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	rec, err := client.Search(ctx, "ou=people,dc=example,dc=org",
//		simpleldap.ScopeSubtree, filter.Eq("uid", "ada"), nil)
//
// # Streaming searches
//
// StreamingSearch returns a Cursor producing entries one page at a time.
// A Cursor that is not drained to exhaustion must be finished with Cleanup,
// which releases both the pooled session and the directory's server-side
// paging state:
//
//	cursor, err := client.StreamingSearch(ctx, base, simpleldap.ScopeSubtree,
//		filter.Eq("objectClass", "inetOrgPerson"), nil)
//	if err != nil {
//		return err
//	}
//	for {
//		rec, err := cursor.Next(ctx)
//		if errors.Is(err, simpleldap.ErrEndOfResults) {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		// use rec
//	}
//
// # Error handling
//
// Failures carry the directory's verdict: sentinel errors (ErrNotFound,
// ErrMultipleResults, ErrPoolClosed, ErrPoolExhausted, ErrEndOfResults)
// compose with errors.Is, and *OperationError exposes the LDAP result code
// and a coarse category for everything the server rejected.
package simpleldap
