//go:build linux

package enforcement

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"ddos-guard/internal/model"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	setBlockedV4 = "blocked_v4"
	setBlockedV6 = "blocked_v6"
)

// NFTablesConn is the subset of *nftables.Conn used by the gateway.
type NFTablesConn interface {
	AddTable(t *nftables.Table) *nftables.Table
	DelTable(t *nftables.Table)
	AddChain(c *nftables.Chain) *nftables.Chain
	AddSet(s *nftables.Set, vals []nftables.SetElement) error
	AddRule(r *nftables.Rule) *nftables.Rule
	SetAddElements(s *nftables.Set, vals []nftables.SetElement) error
	SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error
	Flush() error
}

// NFTablesGateway drops traffic from blocked sources through two named
// sets in a dedicated inet table:
//
//	table inet ddos_guard {
//		set blocked_v4 { type ipv4_addr }
//		set blocked_v6 { type ipv6_addr }
//		chain input { type filter hook input priority filter; policy accept;
//			ip saddr @blocked_v4 counter drop
//			ip6 saddr @blocked_v6 counter drop }
//	}
type NFTablesGateway struct {
	conn   NFTablesConn
	table  *nftables.Table
	chain  *nftables.Chain
	setV4  *nftables.Set
	setV6  *nftables.Set
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewNFTablesGateway opens a netlink connection and installs the table.
func NewNFTablesGateway(tableName, chainName string, logger *logrus.Logger) (*NFTablesGateway, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables connection: %w", err)
	}
	return NewNFTablesGatewayWithConn(conn, tableName, chainName, logger)
}

// NewNFTablesGatewayWithConn installs the table through an injected connection.
// Any table left over from a previous run is replaced: blocks do not survive
// a restart.
func NewNFTablesGatewayWithConn(conn NFTablesConn, tableName, chainName string, logger *logrus.Logger) (*NFTablesGateway, error) {
	if tableName == "" {
		tableName = "ddos_guard"
	}
	if chainName == "" {
		chainName = "input"
	}

	g := &NFTablesGateway{
		conn:   conn,
		logger: logger,
	}
	g.table = &nftables.Table{Family: nftables.TableFamilyINet, Name: tableName}

	conn.AddTable(g.table)
	conn.DelTable(g.table)
	conn.AddTable(g.table)

	policy := nftables.ChainPolicyAccept
	g.chain = conn.AddChain(&nftables.Chain{
		Name:     chainName,
		Table:    g.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})

	g.setV4 = &nftables.Set{Table: g.table, Name: setBlockedV4, KeyType: nftables.TypeIPAddr}
	g.setV6 = &nftables.Set{Table: g.table, Name: setBlockedV6, KeyType: nftables.TypeIP6Addr}
	if err := conn.AddSet(g.setV4, nil); err != nil {
		return nil, fmt.Errorf("failed to add set %s: %w", setBlockedV4, err)
	}
	if err := conn.AddSet(g.setV6, nil); err != nil {
		return nil, fmt.Errorf("failed to add set %s: %w", setBlockedV6, err)
	}

	conn.AddRule(&nftables.Rule{Table: g.table, Chain: g.chain, Exprs: dropFromSet(unix.NFPROTO_IPV4, 12, 4, g.setV4)})
	conn.AddRule(&nftables.Rule{Table: g.table, Chain: g.chain, Exprs: dropFromSet(unix.NFPROTO_IPV6, 8, 16, g.setV6)})

	if err := conn.Flush(); err != nil {
		return nil, fmt.Errorf("failed to install nftables table %s: %w", tableName, err)
	}

	logger.Infof("nftables table inet %s installed (chain %s)", tableName, chainName)
	return g, nil
}

// dropFromSet matches the network-header source address against set.
func dropFromSet(nfproto byte, offset, length uint32, set *nftables.Set) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{nfproto}},
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: offset, Len: length},
		&expr.Lookup{SourceRegister: 1, SetName: set.Name, SetID: set.ID},
		&expr.Counter{},
		&expr.Verdict{Kind: expr.VerdictDrop},
	}
}

func (g *NFTablesGateway) Name() string {
	return "nftables"
}

func (g *NFTablesGateway) Block(ctx context.Context, source model.SourceIdentifier) Result {
	return g.apply(ActionBlock, source)
}

func (g *NFTablesGateway) Unblock(ctx context.Context, source model.SourceIdentifier) Result {
	return g.apply(ActionUnblock, source)
}

func (g *NFTablesGateway) apply(action Action, source model.SourceIdentifier) Result {
	start := time.Now()

	set, key := g.setFor(source.IP())
	if set == nil {
		return newResult(action, source, g.Name(), start, ErrInvalidSource)
	}
	elements := []nftables.SetElement{{Key: key}}

	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	if action == ActionBlock {
		err = g.conn.SetAddElements(set, elements)
	} else {
		err = g.conn.SetDeleteElements(set, elements)
	}
	if err == nil {
		err = g.conn.Flush()
	}
	return newResult(action, source, g.Name(), start, err)
}

func (g *NFTablesGateway) setFor(ip net.IP) (*nftables.Set, []byte) {
	if ip == nil {
		return nil, nil
	}
	if v4 := ip.To4(); v4 != nil {
		return g.setV4, v4
	}
	return g.setV6, ip.To16()
}
