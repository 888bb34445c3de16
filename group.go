package simpleldap

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/sync/errgroup"

	"github.com/isometry/simpleldap/filter"
)

// MemberResult carries the outcome of a GetMembers fan-out: the materialized
// member entries plus a count of dangling member DNs that no longer resolve.
type MemberResult struct {
	Members []*Record
	Skipped int
}

// CreateGroup adds a group entry cn=<name>,<ou> of the configured group
// class.
func (c *Client) CreateGroup(ctx context.Context, name, ou, description string) error {
	dn := "cn=" + EscapeDNValue(name) + "," + ou

	attributes := map[string][]string{
		"objectClass": {"top", c.cfg.GroupClass},
		"cn":          {name},
	}
	if description != "" {
		attributes["description"] = []string{description}
	}

	return c.withSession(ctx, func(ctx context.Context, s *session) error {
		req := ldap.NewAddRequest(dn, nil)
		for attr, values := range attributes {
			req.Attribute(attr, values)
		}

		if err := s.add(ctx, req); err != nil {
			return operationError("create group", dn, err)
		}

		c.logger.Info("group created", slog.String("dn", dn))
		return nil
	})
}

// AddUsersToGroup appends userDNs to the group's member attribute in a
// single modify, which the directory applies atomically for the entry.
func (c *Client) AddUsersToGroup(ctx context.Context, groupDN string, userDNs []string) error {
	if len(userDNs) == 0 {
		return nil
	}

	return c.withSession(ctx, func(ctx context.Context, s *session) error {
		req := ldap.NewModifyRequest(groupDN, nil)
		req.Add(c.cfg.GroupMemberAttribute, userDNs)

		if err := s.modify(ctx, req); err != nil {
			return operationError("add members", groupDN, err)
		}

		c.logger.Info("members added",
			slog.String("group", groupDN),
			slog.Int("count", len(userDNs)))
		return nil
	})
}

// RemoveUsersFromGroup deletes userDNs from the group's member attribute as
// one modify: all values are removed or none. A value the directory rejects,
// for instance one that is not a member, fails the whole batch with the
// directory's verdict.
func (c *Client) RemoveUsersFromGroup(ctx context.Context, groupDN string, userDNs []string) error {
	if len(userDNs) == 0 {
		return nil
	}

	return c.withSession(ctx, func(ctx context.Context, s *session) error {
		req := ldap.NewModifyRequest(groupDN, nil)
		req.Delete(c.cfg.GroupMemberAttribute, userDNs)

		if err := s.modify(ctx, req); err != nil {
			return operationError("remove members", groupDN, err)
		}

		c.logger.Info("members removed",
			slog.String("group", groupDN),
			slog.Int("count", len(userDNs)))
		return nil
	})
}

// GetMembers reads the group's member DNs and materializes each member with
// a base-scope lookup, fanning out up to cfg.FanOutLimit lookups at a time.
// Dangling member DNs are skipped and counted rather than failing the call;
// pool exhaustion or a transport failure during fan-out aborts it.
func (c *Client) GetMembers(ctx context.Context, groupDN string, attributes []string) (*MemberResult, error) {
	group, err := c.Search(ctx, groupDN, ScopeBase, filter.Present("objectClass"), []string{c.cfg.GroupMemberAttribute})
	if err != nil {
		return nil, err
	}

	memberDNs := group.Values(c.cfg.GroupMemberAttribute)
	if len(memberDNs) == 0 {
		return &MemberResult{}, nil
	}

	members := make([]*Record, len(memberDNs))
	var skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FanOutLimit)

	for i, dn := range memberDNs {
		g.Go(func() error {
			record, err := c.Search(gctx, dn, ScopeBase, filter.Present("objectClass"), attributes)
			if err != nil {
				if IsNotFound(err) {
					skipped.Add(1)
					c.logger.Warn("dangling group member skipped",
						slog.String("group", groupDN),
						slog.String("member", dn))
					return nil
				}
				return fmt.Errorf("resolve member %q: %w", dn, err)
			}

			members[i] = record
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &MemberResult{
		Members: make([]*Record, 0, len(memberDNs)),
		Skipped: int(skipped.Load()),
	}
	for _, record := range members {
		if record != nil {
			result.Members = append(result.Members, record)
		}
	}

	return result, nil
}

// GetAssociatedGroups streams the groups below baseDN whose member attribute
// contains entryDN. The returned Cursor follows the streaming search
// contract, Cleanup obligation included.
func (c *Client) GetAssociatedGroups(ctx context.Context, baseDN, entryDN string) (*Cursor, error) {
	f := filter.And(
		filter.Eq("objectClass", c.cfg.GroupClass),
		filter.Eq(c.cfg.GroupMemberAttribute, entryDN),
	)

	return c.StreamingSearch(ctx, baseDN, ScopeSubtree, f, nil)
}
