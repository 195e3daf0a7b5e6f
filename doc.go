/*
Package reql is a client driver for the ReQL wire protocol used by
RethinkDB-style document databases.

reql does not provide the query-building DSL. Callers construct a query as a
[Term] — typically produced by a generated AST layer — and hand it to a
[Connection]:

	conn, err := reql.Connect(context.Background(), reql.Config{
		Address:  "localhost:28015",
		Database: "test",
		Username: "admin",
		Password: "",
	})
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close(context.Background())

	result, err := conn.Run(context.Background(), term, nil)

[Connection.Run] returns a [*Cursor] when the server answers with a partial
(possibly infinite) sequence or a feed; an atom comes back as a decoded
single value, and a sequence delivered whole in one response as a []any.
Changefeeds are ordinary cursors; [Cursor.IsFeed] reports
whether the cursor will ever see SUCCESS_SEQUENCE.

# Authentication

Connections authenticate with SCRAM-SHA-256 (RFC 7677), the same mechanism
introduced for PostgreSQL 10. See [Crypto] and the handshake driven by
[Connect].

# Codec

reql never reflects over application values. Callers supply a [Codec], which
is responsible for turning decoded JSON into Go values and back. This mirrors
the split between `database/sql`'s driver.Value and a higher-level ORM: reql
owns the wire, the codec owns the mapping.

# Errors

Server-reported failures surface as one of the types rooted at [Error]:
[ClientError], [CompileError], or [RuntimeError] (further split by
[ErrorType]). Driver-side failures — a bad handshake, a dead socket, feed
misuse — surface as [DriverError], with [AuthError] as its handshake-specific
subtype.

# Connection pools

[Pool] dispatches queries across N connections to the same endpoint using a
least-busy policy, reconnecting quarantined connections with a full-jitter
exponential backoff. A single [Connection] is sufficient for most
applications; the pool exists for callers that want the driver itself to
spread load and ride out transient reconnects.
*/
package reql
