// Package compile turns a declarative schema.Config into a sealed
// registry.Registry. Compilation never aborts on a bad entry: the offending
// port type or node type is skipped and reported as a diagnostic.
package compile

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/nodeschema/registry"
	"github.com/petal-labs/nodeschema/schema"
)

// Options controls compilation.
type Options struct {
	// DisableTypeSafety widens every port type to accept every registered
	// type and relaxes connection checks.
	DisableTypeSafety bool

	// SkipStandardPorts leaves out the built-in port types.
	SkipStandardPorts bool

	// CostLimit bounds inline port expression evaluation (0 = default).
	CostLimit uint64

	Logger *slog.Logger
	Now    func() time.Time
}

// Compiled is one compiled configuration. It is immutable once returned.
type Compiled struct {
	ID          string              `json:"id"`
	Hash        string              `json:"hash"`
	Registry    *registry.Registry  `json:"-"`
	Diagnostics []schema.Diagnostic `json:"diagnostics,omitempty"`
	TypeSafety  bool                `json:"typeSafety"`
	CompiledAt  time.Time           `json:"compiledAt"`
}

type compiler struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	reg    *registry.Registry
	diags  []schema.Diagnostic
}

// Compile builds a sealed registry from cfg. Port types are registered
// first (declared, then standard), relaxation runs once the port type set
// is complete, and node types are compiled last against that set.
func Compile(cfg *schema.Config, opts Options) (*Compiled, error) {
	if cfg == nil {
		return nil, errors.New("compile: nil config")
	}
	hash, err := cfg.Hash()
	if err != nil {
		return nil, err
	}

	c := &compiler{
		opts:   opts,
		logger: opts.Logger,
		now:    opts.Now,
		reg:    registry.New(),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}

	for i, decl := range cfg.PortTypes {
		c.addPortType(decl, fmt.Sprintf("portTypes[%d]", i))
	}
	if !opts.SkipStandardPorts {
		if err := registry.RegisterStandard(c.reg, c.now); err != nil {
			return nil, fmt.Errorf("registering standard port types: %w", err)
		}
	}
	if err := c.widen(); err != nil {
		return nil, err
	}
	for i, decl := range cfg.NodeTypes {
		c.addNodeType(decl, fmt.Sprintf("nodeTypes[%d]", i))
	}
	c.reg.Seal()

	ports, nodes := c.reg.Len()
	c.logger.Debug("configuration compiled",
		"config_hash", hash,
		"port_types", ports,
		"node_types", nodes,
		"diagnostics", len(c.diags),
	)
	return &Compiled{
		ID:          uuid.New().String(),
		Hash:        hash,
		Registry:    c.reg,
		Diagnostics: c.diags,
		TypeSafety:  !opts.DisableTypeSafety,
		CompiledAt:  c.now().UTC(),
	}, nil
}

// widen applies the accept-all rewrites. Universal port types always accept
// every registered id; with type safety disabled every port type does.
func (c *compiler) widen() error {
	all := c.reg.PortTypeIDs()
	for _, pt := range c.reg.PortTypes() {
		if !pt.Universal && !c.opts.DisableTypeSafety {
			continue
		}
		if err := c.reg.SetAcceptTypes(pt.Type, all); err != nil {
			return err
		}
	}
	if c.opts.DisableTypeSafety {
		return c.reg.Relax()
	}
	return nil
}

func (c *compiler) report(code, severity, path, format string, args ...any) {
	c.diags = append(c.diags, schema.Diagnostic{
		Code:     code,
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
		Path:     path,
	})
}
