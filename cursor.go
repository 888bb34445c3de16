package simpleldap

import (
	"context"
	"log/slog"

	"github.com/go-ldap/ldap/v3"
)

// Cursor is a lazy, finite, forward-only view over a paged search. It holds
// a session lease for its whole lifetime and releases it on exhaustion or
// Cleanup.
//
// A Cursor abandoned before exhaustion must be finished with Cleanup, which
// tells the directory to drop its server-side paging state. Skipping Cleanup
// leaks that state on the server until the server's own timeout.
type Cursor struct {
	lease    *lease
	logger   *slog.Logger
	req      *ldap.SearchRequest
	pageSize uint32

	cookie    []byte
	morePages bool
	buf       []*ldap.Entry
	exhausted bool
	fetched   int
}

// openCursor issues the initial page fetch. On failure the lease is discarded
// and the error returned; no Cursor exists in that case.
func openCursor(ctx context.Context, l *lease, logger *slog.Logger, req *ldap.SearchRequest, pageSize uint32) (*Cursor, error) {
	c := &Cursor{
		lease:    l,
		logger:   logger,
		req:      req,
		pageSize: pageSize,
	}

	if err := c.fetchPage(ctx, pageSize); err != nil {
		c.exhausted = true
		c.settle(err)
		return nil, err
	}

	return c, nil
}

// Next returns the next entry of the result sequence. When the buffered page
// runs out and the directory holds further pages, Next fetches the next page
// before returning. Exhaustion is reported as (nil, ErrEndOfResults) and is
// idempotent: a page-fetch error is surfaced exactly once, after which every
// Next call reports exhaustion so callers can use a simple drain loop.
func (c *Cursor) Next(ctx context.Context) (*Record, error) {
	for {
		if len(c.buf) > 0 {
			entry := c.buf[0]
			c.buf = c.buf[1:]
			return newRecord(entry), nil
		}

		if c.exhausted {
			return nil, ErrEndOfResults
		}

		if !c.morePages {
			c.finish()
			return nil, ErrEndOfResults
		}

		if err := c.fetchPage(ctx, c.pageSize); err != nil {
			c.exhausted = true
			c.settle(err)
			return nil, err
		}
	}
}

// Cleanup finishes an abandoned Cursor. When pages are still outstanding it
// sends a zero-size page request carrying the open cookie so the directory
// discards its paging state, then releases the session lease. Cleanup after
// exhaustion or a surfaced error is a no-op.
func (c *Cursor) Cleanup(ctx context.Context) error {
	if c.exhausted {
		return nil
	}
	c.buf = nil

	if !c.morePages {
		c.finish()
		return nil
	}

	err := c.fetchPage(ctx, 0)
	c.exhausted = true
	c.buf = nil
	if err != nil {
		c.settle(err)
		return err
	}

	c.lease.release()
	c.logger.Debug("streaming search abandoned",
		slog.String("base_dn", c.req.BaseDN),
		slog.Int("pages_fetched", c.fetched))
	return nil
}

// finish handles natural exhaustion: the lease goes back to the pool.
func (c *Cursor) finish() {
	c.exhausted = true
	c.lease.release()
}

// settle returns the lease after a failed page fetch. Transport failures
// condemn the session; a directory verdict such as sizeLimitExceeded leaves
// it reusable.
func (c *Cursor) settle(err error) {
	if sessionFatal(err) {
		c.lease.discard()
	} else {
		c.lease.release()
	}
}

// fetchPage issues one paged search round trip and refills the buffer. A
// size of zero signals the directory to abandon the paging exchange.
func (c *Cursor) fetchPage(ctx context.Context, size uint32) error {
	control := ldap.NewControlPaging(size)
	if c.cookie != nil {
		control.SetCookie(c.cookie)
	}
	c.req.Controls = []ldap.Control{control}

	result, err := c.lease.sess.search(ctx, c.req)
	if err != nil {
		return operationError("streaming search", c.req.BaseDN, err)
	}
	c.fetched++

	c.buf = result.Entries
	c.cookie = nil
	c.morePages = false

	if responseControl, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging); ok {
		if len(responseControl.Cookie) > 0 {
			c.cookie = responseControl.Cookie
			c.morePages = true
		}
	}

	return nil
}
