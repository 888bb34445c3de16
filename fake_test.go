package simpleldap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// fakeSession implements Session in memory. Behavior is injected per test
// through the function fields; unset fields succeed with empty results.
type fakeSession struct {
	mu sync.Mutex

	bindFunc     func(username, password string) error
	searchFunc   func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	addFunc      func(req *ldap.AddRequest) error
	delFunc      func(req *ldap.DelRequest) error
	modifyFunc   func(req *ldap.ModifyRequest) error
	modifyDNFunc func(req *ldap.ModifyDNRequest) error

	binds      [][2]string
	adds       []*ldap.AddRequest
	dels       []*ldap.DelRequest
	modifies   []*ldap.ModifyRequest
	modifyDNs  []*ldap.ModifyDNRequest
	searches   []*ldap.SearchRequest
	timeouts   []time.Duration
	closed     bool
	closeCount int
}

func (f *fakeSession) Bind(username, password string) error {
	f.mu.Lock()
	f.binds = append(f.binds, [2]string{username, password})
	f.mu.Unlock()

	if f.bindFunc != nil {
		return f.bindFunc(username, password)
	}
	return nil
}

func (f *fakeSession) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.mu.Lock()
	f.searches = append(f.searches, req)
	f.mu.Unlock()

	if f.searchFunc != nil {
		return f.searchFunc(req)
	}
	return &ldap.SearchResult{}, nil
}

func (f *fakeSession) Add(req *ldap.AddRequest) error {
	f.mu.Lock()
	f.adds = append(f.adds, req)
	f.mu.Unlock()

	if f.addFunc != nil {
		return f.addFunc(req)
	}
	return nil
}

func (f *fakeSession) Del(req *ldap.DelRequest) error {
	f.mu.Lock()
	f.dels = append(f.dels, req)
	f.mu.Unlock()

	if f.delFunc != nil {
		return f.delFunc(req)
	}
	return nil
}

func (f *fakeSession) Modify(req *ldap.ModifyRequest) error {
	f.mu.Lock()
	f.modifies = append(f.modifies, req)
	f.mu.Unlock()

	if f.modifyFunc != nil {
		return f.modifyFunc(req)
	}
	return nil
}

func (f *fakeSession) ModifyDN(req *ldap.ModifyDNRequest) error {
	f.mu.Lock()
	f.modifyDNs = append(f.modifyDNs, req)
	f.mu.Unlock()

	if f.modifyDNFunc != nil {
		return f.modifyDNFunc(req)
	}
	return nil
}

func (f *fakeSession) SetTimeout(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, d)
}

func (f *fakeSession) IsClosing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCount++
	return nil
}

var _ Session = (*fakeSession)(nil)

// fakeDialer tracks how many sessions a test dialed and lets the test shape
// each one.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	setup    func(*fakeSession)
	dialErr  error
}

func (d *fakeDialer) dial(_ context.Context, _ *Config) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dialErr != nil {
		return nil, d.dialErr
	}

	s := &fakeSession{}
	if d.setup != nil {
		d.setup(s)
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// testConfig returns a Config wired to the dialer with test-friendly
// timeouts. Validation of idle sessions is effectively disabled unless the
// test lowers ValidateAfter.
func testConfig(d *fakeDialer) Config {
	return Config{
		URL:            "ldap://directory.test:389",
		BindDN:         "cn=service,dc=example,dc=org",
		BindPassword:   "hunter2",
		AcquireTimeout: 2 * time.Second,
		ValidateAfter:  time.Hour,
		DialFunc:       d.dial,
	}
}

// testEntries builds n entries uid=user<i>,ou=people,dc=example,dc=org.
func testEntries(n int) []*ldap.Entry {
	entries := make([]*ldap.Entry, n)
	for i := range entries {
		uid := fmt.Sprintf("user%d", i)
		entries[i] = &ldap.Entry{
			DN: fmt.Sprintf("uid=%s,ou=people,dc=example,dc=org", uid),
			Attributes: []*ldap.EntryAttribute{
				{Name: "uid", Values: []string{uid}},
			},
		}
	}
	return entries
}

// pagedDirectory serves a fixed result set through the paging control the
// way a real directory does: an opaque cookie per open exchange, cleared by
// a zero-size request.
type pagedDirectory struct {
	mu        sync.Mutex
	entries   []*ldap.Entry
	offset    int
	pages     int
	abandoned bool
	pageErr   func(page int) error
}

func (p *pagedDirectory) search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	control, ok := ldap.FindControl(req.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	if !ok {
		return &ldap.SearchResult{Entries: p.entries}, nil
	}

	if control.PagingSize == 0 {
		p.abandoned = true
		return &ldap.SearchResult{}, nil
	}

	p.pages++
	if p.pageErr != nil {
		if err := p.pageErr(p.pages); err != nil {
			return nil, err
		}
	}

	end := min(p.offset+int(control.PagingSize), len(p.entries))
	result := &ldap.SearchResult{Entries: p.entries[p.offset:end]}
	p.offset = end

	response := ldap.NewControlPaging(control.PagingSize)
	if end < len(p.entries) {
		response.SetCookie([]byte("page-cookie"))
	}
	result.Controls = []ldap.Control{response}

	return result, nil
}
