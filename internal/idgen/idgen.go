// Package idgen generates human-readable merchant identifiers shared with the
// payment gateway.
package idgen

import (
	"github.com/bwmarrin/snowflake"
	"github.com/go-faster/errors"
)

const (
	OrderPrefix  = "ORDID"
	RefundPrefix = "RFDID"
)

// Generator issues unique prefixed ids. Uniqueness across processes requires
// a distinct node id per process.
type Generator struct {
	node *snowflake.Node
}

// New creates a Generator for node (0..1023).
func New(node int64) (*Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, errors.Wrapf(err, "snowflake node %d", node)
	}
	return &Generator{node: n}, nil
}

// OrderID returns a new merchant order id.
func (g *Generator) OrderID() string {
	return OrderPrefix + g.node.Generate().String()
}

// RefundID returns a new merchant refund id.
func (g *Generator) RefundID() string {
	return RefundPrefix + g.node.Generate().String()
}
