package simpleldap

import (
	"context"
	"errors"
	"time"

	"github.com/go-ldap/ldap/v3"
)

var errClosing = errors.New("connection is closing")

// Session is the directory transport capability consumed by the pool. It is
// the subset of *ldap.Conn this package drives; tests substitute an in-memory
// implementation.
type Session interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Del(req *ldap.DelRequest) error
	Modify(req *ldap.ModifyRequest) error
	ModifyDN(req *ldap.ModifyDNRequest) error
	SetTimeout(time.Duration)
	IsClosing() bool
	Close() error
}

var _ Session = (*ldap.Conn)(nil)

// session is one pooled connection plus its bookkeeping. Exclusively owned
// by the pool's idle set or by a single Lease, never both.
type session struct {
	conn          Session
	boundAs       string
	opTimeout     time.Duration
	lastValidated time.Time
}

// prepare gates a request on ctx and narrows the transport timeout to the
// context deadline when that is sooner than the configured operation timeout.
// The transport itself has no per-request context support.
func (s *session) prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := s.opTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	s.conn.SetTimeout(timeout)

	return nil
}

func (s *session) search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}
	return s.conn.Search(req)
}

func (s *session) add(ctx context.Context, req *ldap.AddRequest) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	return s.conn.Add(req)
}

func (s *session) del(ctx context.Context, req *ldap.DelRequest) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	return s.conn.Del(req)
}

func (s *session) modify(ctx context.Context, req *ldap.ModifyRequest) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	return s.conn.Modify(req)
}

func (s *session) modifyDN(ctx context.Context, req *ldap.ModifyDNRequest) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	return s.conn.ModifyDN(req)
}

// dialSession establishes a raw transport to the configured endpoint. The
// caller binds it.
func dialSession(_ context.Context, cfg *Config) (Session, error) {
	var opts []ldap.DialOpt
	if cfg.TLSConfig != nil {
		opts = append(opts, ldap.DialWithTLSConfig(cfg.TLSConfig))
	}

	conn, err := ldap.DialURL(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	conn.SetTimeout(cfg.OperationTimeout)
	return conn, nil
}

// dialBound dials a fresh session and binds it as the service identity.
func dialBound(ctx context.Context, cfg *Config) (*session, error) {
	conn, err := cfg.DialFunc(ctx, cfg)
	if err != nil {
		return nil, operationError("connect", "", err)
	}

	if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
		conn.Close()
		return nil, operationError("bind", cfg.BindDN, err)
	}

	return &session{
		conn:          conn,
		boundAs:       cfg.BindDN,
		opTimeout:     cfg.OperationTimeout,
		lastValidated: time.Now(),
	}, nil
}

// validate performs a cheap liveness probe against the root DSE.
func (s *session) validate(ctx context.Context) error {
	if s.conn.IsClosing() {
		return operationError("validate", "", ldap.NewError(ldap.ErrorNetwork, errClosing))
	}

	req := ldap.NewSearchRequest(
		"", // root DSE
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"supportedLDAPVersion"},
		nil,
	)

	if _, err := s.search(ctx, req); err != nil {
		return operationError("validate", "", err)
	}

	s.lastValidated = time.Now()
	return nil
}

func (s *session) close() {
	s.conn.Close()
}
