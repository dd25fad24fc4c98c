//go:build linux

package enforcement

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/google/nftables"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNFTConn struct {
	tables   []string
	deleted  []string
	chains   []*nftables.Chain
	sets     []*nftables.Set
	rules    []*nftables.Rule
	added    map[string][][]byte
	removed  map[string][][]byte
	flushes  int
	flushErr error
}

func newFakeNFTConn() *fakeNFTConn {
	return &fakeNFTConn{
		added:   make(map[string][][]byte),
		removed: make(map[string][][]byte),
	}
}

func (f *fakeNFTConn) AddTable(t *nftables.Table) *nftables.Table {
	f.tables = append(f.tables, t.Name)
	return t
}

func (f *fakeNFTConn) DelTable(t *nftables.Table) {
	f.deleted = append(f.deleted, t.Name)
}

func (f *fakeNFTConn) AddChain(c *nftables.Chain) *nftables.Chain {
	f.chains = append(f.chains, c)
	return c
}

func (f *fakeNFTConn) AddSet(s *nftables.Set, vals []nftables.SetElement) error {
	s.ID = uint32(len(f.sets) + 1)
	f.sets = append(f.sets, s)
	return nil
}

func (f *fakeNFTConn) AddRule(r *nftables.Rule) *nftables.Rule {
	f.rules = append(f.rules, r)
	return r
}

func (f *fakeNFTConn) SetAddElements(s *nftables.Set, vals []nftables.SetElement) error {
	for _, v := range vals {
		f.added[s.Name] = append(f.added[s.Name], v.Key)
	}
	return nil
}

func (f *fakeNFTConn) SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error {
	for _, v := range vals {
		f.removed[s.Name] = append(f.removed[s.Name], v.Key)
	}
	return nil
}

func (f *fakeNFTConn) Flush() error {
	f.flushes++
	return f.flushErr
}

func TestNFTablesGateway_InstallsTable(t *testing.T) {
	conn := newFakeNFTConn()
	_, err := NewNFTablesGatewayWithConn(conn, "", "", quietLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"ddos_guard", "ddos_guard"}, conn.tables)
	assert.Equal(t, []string{"ddos_guard"}, conn.deleted)
	require.Len(t, conn.chains, 1)
	assert.Equal(t, "input", conn.chains[0].Name)
	require.Len(t, conn.sets, 2)
	assert.Equal(t, setBlockedV4, conn.sets[0].Name)
	assert.Equal(t, setBlockedV6, conn.sets[1].Name)
	assert.Len(t, conn.rules, 2)
	assert.Equal(t, 1, conn.flushes)
}

func TestNFTablesGateway_BlockUnblockByFamily(t *testing.T) {
	conn := newFakeNFTConn()
	gw, err := NewNFTablesGatewayWithConn(conn, "guard", "in", quietLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.True(t, gw.Block(ctx, "10.0.0.1").OK())
	require.True(t, gw.Block(ctx, "2001:db8::1").OK())
	require.True(t, gw.Unblock(ctx, "10.0.0.1").OK())

	assert.Equal(t, [][]byte{[]byte(net.ParseIP("10.0.0.1").To4())}, conn.added[setBlockedV4])
	assert.Equal(t, [][]byte{[]byte(net.ParseIP("2001:db8::1").To16())}, conn.added[setBlockedV6])
	assert.Equal(t, [][]byte{[]byte(net.ParseIP("10.0.0.1").To4())}, conn.removed[setBlockedV4])
	assert.Equal(t, 4, conn.flushes)
}

func TestNFTablesGateway_FlushFailureIsReported(t *testing.T) {
	conn := newFakeNFTConn()
	gw, err := NewNFTablesGatewayWithConn(conn, "", "", quietLogger())
	require.NoError(t, err)

	conn.flushErr = errors.New("operation not permitted")
	res := gw.Block(context.Background(), "10.0.0.1")

	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Error(), ErrEnforcement)
	assert.ErrorIs(t, gw.Block(context.Background(), "bogus").Err, ErrInvalidSource)
}
