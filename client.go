package simpleldap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/simpleldap/filter"
)

// Scope selects the breadth of a search.
type Scope int

const (
	// ScopeBase searches only the base entry itself.
	ScopeBase Scope = iota
	// ScopeOneLevel searches the base entry's immediate children.
	ScopeOneLevel
	// ScopeSubtree searches the base entry and all descendants.
	ScopeSubtree
)

func (s Scope) ldapScope() int {
	switch s {
	case ScopeOneLevel:
		return ldap.ScopeSingleLevel
	case ScopeSubtree:
		return ldap.ScopeWholeSubtree
	default:
		return ldap.ScopeBaseObject
	}
}

func (s Scope) String() string {
	switch s {
	case ScopeBase:
		return "base"
	case ScopeOneLevel:
		return "one-level"
	case ScopeSubtree:
		return "subtree"
	default:
		return "unknown"
	}
}

// Client is a high-level directory client backed by a bounded session pool.
// It is safe for concurrent use; every operation leases a session for its
// duration and returns it afterwards.
type Client struct {
	cfg    *Config
	pool   *pool
	logger *slog.Logger
}

// New builds a Client from cfg, filling unset fields with defaults. Sessions
// are dialed lazily on first use.
func New(cfg Config) (*Client, error) {
	resolved, err := cfg.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		cfg:    resolved,
		pool:   newPool(resolved),
		logger: resolved.Logger,
	}, nil
}

// Close shuts the pool down. Operations in flight keep their sessions until
// they finish; new operations fail with ErrPoolClosed.
func (c *Client) Close() {
	c.pool.shutdown()
}

// Stats reports a snapshot of pool activity.
func (c *Client) Stats() PoolStats {
	return c.pool.stats()
}

// withSession runs fn with a leased session. Sessions that hit a transport
// failure are discarded instead of recycled.
func (c *Client) withSession(ctx context.Context, fn func(context.Context, *session) error) error {
	l, err := c.pool.acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, l.sess)
	if sessionFatal(err) {
		l.discard()
	} else {
		l.release()
	}
	return err
}

// sessionFatal reports whether err indicates the session's transport is no
// longer trustworthy.
func sessionFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	return ldap.IsErrorAnyOf(err,
		ldap.ErrorNetwork,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultUnavailable,
	)
}

// Search finds exactly one entry matching f below baseDN. Zero matches
// return ErrNotFound, more than one ErrMultipleResults.
func (c *Client) Search(ctx context.Context, baseDN string, scope Scope, f filter.Filter, attributes []string) (*Record, error) {
	rendered, err := filter.Render(f)
	if err != nil {
		return nil, err
	}

	var record *Record
	err = c.withSession(ctx, func(ctx context.Context, s *session) error {
		req := ldap.NewSearchRequest(
			baseDN,
			scope.ldapScope(),
			ldap.NeverDerefAliases,
			0, 0, false,
			rendered,
			attributes,
			nil,
		)

		result, err := s.search(ctx, req)
		if err != nil {
			return operationError("search", baseDN, err)
		}

		switch len(result.Entries) {
		case 0:
			return fmt.Errorf("%w (base %q, filter %s)", ErrNotFound, baseDN, rendered)
		case 1:
			record = newRecord(result.Entries[0])
			return nil
		default:
			return fmt.Errorf("%w (base %q, filter %s, matches %d)", ErrMultipleResults, baseDN, rendered, len(result.Entries))
		}
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("search completed",
		slog.String("base_dn", baseDN),
		slog.String("filter", rendered),
		slog.String("dn", record.DN))

	return record, nil
}

// StreamingSearch opens a paged search below baseDN with the configured
// default page size. See Cursor for the caller's Cleanup obligation.
func (c *Client) StreamingSearch(ctx context.Context, baseDN string, scope Scope, f filter.Filter, attributes []string) (*Cursor, error) {
	return c.StreamingSearchPaged(ctx, baseDN, scope, f, attributes, c.cfg.PageSize)
}

// StreamingSearchPaged opens a paged search with an explicit page size.
func (c *Client) StreamingSearchPaged(ctx context.Context, baseDN string, scope Scope, f filter.Filter, attributes []string, pageSize uint32) (*Cursor, error) {
	rendered, err := filter.Render(f)
	if err != nil {
		return nil, err
	}

	if pageSize == 0 {
		pageSize = c.cfg.PageSize
	}

	l, err := c.pool.acquire(ctx)
	if err != nil {
		return nil, err
	}

	req := ldap.NewSearchRequest(
		baseDN,
		scope.ldapScope(),
		ldap.NeverDerefAliases,
		0, 0, false,
		rendered,
		attributes,
		nil,
	)

	cursor, err := openCursor(ctx, l, c.logger, req, pageSize)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("streaming search opened",
		slog.String("base_dn", baseDN),
		slog.String("filter", rendered),
		slog.Int("page_size", int(pageSize)))

	return cursor, nil
}

// Create adds a new entry uid=<uid>,<baseDN> with the given attributes.
func (c *Client) Create(ctx context.Context, uid, baseDN string, attributes map[string][]string) error {
	dn := uidDN(uid, baseDN)

	return c.withSession(ctx, func(ctx context.Context, s *session) error {
		req := ldap.NewAddRequest(dn, nil)
		for attr, values := range attributes {
			req.Attribute(attr, values)
		}

		if err := s.add(ctx, req); err != nil {
			return operationError("add", dn, err)
		}

		c.logger.Info("entry created", slog.String("dn", dn))
		return nil
	})
}

// Update replaces the given attributes on uid=<uid>,<baseDN>. A non-empty
// newUID different from uid renames the entry first, and the replacements
// apply to the renamed entry. A missing entry satisfies IsNotFound.
func (c *Client) Update(ctx context.Context, uid, baseDN string, attributes map[string][]string, newUID string) error {
	dn := uidDN(uid, baseDN)

	return c.withSession(ctx, func(ctx context.Context, s *session) error {
		if newUID != "" && newUID != uid {
			rename := ldap.NewModifyDNRequest(dn, "uid="+EscapeDNValue(newUID), true, "")
			if err := s.modifyDN(ctx, rename); err != nil {
				return operationError("rename", dn, err)
			}
			dn = uidDN(newUID, baseDN)
		}

		if len(attributes) == 0 {
			return nil
		}

		req := ldap.NewModifyRequest(dn, nil)
		for attr, values := range attributes {
			req.Replace(attr, values)
		}

		if err := s.modify(ctx, req); err != nil {
			return operationError("modify", dn, err)
		}

		c.logger.Info("entry updated", slog.String("dn", dn))
		return nil
	})
}

// Delete removes the entry uid=<uid>,<baseDN>. A missing entry satisfies
// IsNotFound.
func (c *Client) Delete(ctx context.Context, uid, baseDN string) error {
	dn := uidDN(uid, baseDN)

	return c.withSession(ctx, func(ctx context.Context, s *session) error {
		if err := s.del(ctx, ldap.NewDelRequest(dn, nil)); err != nil {
			return operationError("delete", dn, err)
		}

		c.logger.Info("entry deleted", slog.String("dn", dn))
		return nil
	})
}

// Authenticate verifies password for the single entry matching f below
// baseDN. It resolves the entry's DN via the configured DN attribute, then
// binds as that DN. The whole exchange runs on a dedicated session so pooled
// sessions never change identity; pool state is untouched.
func (c *Client) Authenticate(ctx context.Context, baseDN, uid, password string, f filter.Filter) error {
	rendered, err := filter.Render(f)
	if err != nil {
		return err
	}

	s, err := dialBound(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer s.close()

	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		rendered,
		[]string{c.cfg.DNAttribute},
		nil,
	)

	result, err := s.search(ctx, req)
	if err != nil {
		return operationError("authenticate", baseDN, err)
	}

	switch len(result.Entries) {
	case 0:
		return fmt.Errorf("%w (base %q, filter %s)", ErrNotFound, baseDN, rendered)
	case 1:
	default:
		return fmt.Errorf("%w (base %q, filter %s, matches %d)", ErrMultipleResults, baseDN, rendered, len(result.Entries))
	}

	entry := result.Entries[0]
	dn := entry.GetAttributeValue(c.cfg.DNAttribute)
	if dn == "" {
		dn = entry.DN
	}

	if err := s.conn.Bind(dn, password); err != nil {
		c.logger.Warn("authentication failed",
			slog.String("dn", dn),
			slog.String("uid", uid))
		return operationError("authenticate", dn, err)
	}

	c.logger.Debug("authentication succeeded", slog.String("dn", dn))
	return nil
}

// uidDN builds the DN of the entry keyed by uid under baseDN.
func uidDN(uid, baseDN string) string {
	return "uid=" + EscapeDNValue(uid) + "," + baseDN
}
