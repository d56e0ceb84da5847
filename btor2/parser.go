// Package btor2 parses the BTOR2 word-level transition-system format into
// a bmc2.ModelIR.
package btor2

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/benbjohnson/immutable"

	"github.com/cprice-io/bmc2"
)

// ErrorReason classifies why a BTOR2 line failed to parse, per spec's
// exhaustive reason list.
type ErrorReason int

const (
	UnknownOp ErrorReason = iota
	UndefinedRef
	SortMismatch
	WidthMismatch
	DuplicateInit
	DanglingState
)

func (r ErrorReason) String() string {
	switch r {
	case UnknownOp:
		return "UnknownOp"
	case UndefinedRef:
		return "UndefinedRef"
	case SortMismatch:
		return "SortMismatch"
	case WidthMismatch:
		return "WidthMismatch"
	case DuplicateInit:
		return "DuplicateInit"
	case DanglingState:
		return "DanglingState"
	default:
		return fmt.Sprintf("ErrorReason<%d>", int(r))
	}
}

// ParseError is returned for any malformed or ill-typed BTOR2 line. Parsing
// stops at the first error encountered; nothing past it is reported.
type ParseError struct {
	Line   int
	Reason ErrorReason
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("btor2: line %d: %s: %s", e.Line, e.Reason, e.Msg)
}

// Warning records a recognized-but-unsupported line (fair/justice) that was
// retained but not incorporated into the model.
type Warning struct {
	Line int
	Op   string
}

func (w Warning) String() string {
	return fmt.Sprintf("btor2: line %d: %q retained but unreferenced", w.Line, w.Op)
}

// ParseResult is the successful outcome of Parse.
type ParseResult struct {
	Model    *bmc2.ModelIR
	Warnings []Warning
}

var binaryOpByName = map[string]bmc2.BinaryOp{
	"and": bmc2.AND, "or": bmc2.OR, "xor": bmc2.XOR,
	"nand": bmc2.NAND, "nor": bmc2.NOR, "xnor": bmc2.XNOR,
	"implies": bmc2.IMPLIES, "iff": bmc2.IFF,
	"add": bmc2.ADD, "sub": bmc2.SUB, "mul": bmc2.MUL,
	"udiv": bmc2.UDIV, "sdiv": bmc2.SDIV,
	"urem": bmc2.UREM, "srem": bmc2.SREM, "smod": bmc2.SMOD,
	"sll": bmc2.SHL, "srl": bmc2.LSHR, "sra": bmc2.ASHR,
	"rol": bmc2.ROL, "ror": bmc2.ROR,
	"eq": bmc2.EQ, "neq": bmc2.NE,
	"ult": bmc2.ULT, "ulte": bmc2.ULE, "ugt": bmc2.UGT, "ugte": bmc2.UGE,
	"slt": bmc2.SLT, "slte": bmc2.SLE, "sgt": bmc2.SGT, "sgte": bmc2.SGE,
}

var unaryOpByName = map[string]bmc2.UnaryOp{
	"not": bmc2.NOT, "neg": bmc2.NEG,
	"redand": bmc2.REDAND, "redor": bmc2.REDOR, "redxor": bmc2.REDXOR,
	"inc": bmc2.INC, "dec": bmc2.DEC,
}

// Parse reads a BTOR2 text stream from r and returns its ModelIR.
func Parse(r io.Reader) (*ParseResult, error) {
	p := newParser()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if err := p.parseLine(lineNo, line); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := p.finish(); err != nil {
		return nil, err
	}

	return &ParseResult{
		Model: &bmc2.ModelIR{
			States:  p.states,
			Inputs:  p.inputs,
			Outputs: p.outputs,
		},
		Warnings: p.warnings,
	}, nil
}

// parser holds the running state of a single-pass BTOR2 parse. nodes and
// sorts are persistent maps the same way the teacher's ExecutionState.heap
// is a persistent map: each line produces a new version, never mutating a
// version another part of the parse still references.
type parser struct {
	nodes *immutable.Map[int, bmc2.Expr]
	sorts *immutable.Map[int, bmc2.Sort]

	states        []bmc2.StateVar
	stateNids     []int // parallel to states, preserves declaration order for deterministic error reporting
	stateIdxByNid map[int]int
	nextSetByNid  map[int]bool

	inputs  []bmc2.InputVar
	outputs []bmc2.OutputVar

	warnings []Warning
}

func newParser() *parser {
	return &parser{
		nodes:         immutable.NewMap[int, bmc2.Expr](nil),
		sorts:         immutable.NewMap[int, bmc2.Sort](nil),
		stateIdxByNid: make(map[int]int),
		nextSetByNid:  make(map[int]bool),
	}
}

func (p *parser) errorf(line int, reason ErrorReason, format string, args ...interface{}) error {
	return &ParseError{Line: line, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// getNode resolves a token as a node reference, applying BTOR2's negative-nid
// convention: a negative reference means the bitwise complement of the
// referenced node, not a distinct node of its own.
func (p *parser) getNode(line int, tok string) (bmc2.Expr, error) {
	nid, err := strconv.Atoi(tok)
	if err != nil {
		return nil, p.errorf(line, UndefinedRef, "invalid node reference %q", tok)
	}
	abs, neg := nid, false
	if nid < 0 {
		abs, neg = -nid, true
	}
	expr, ok := p.nodes.Get(abs)
	if !ok {
		return nil, p.errorf(line, UndefinedRef, "undefined reference: %d", nid)
	}
	if !neg {
		return expr, nil
	}
	return bmc2.NewUnaryExpr(bmc2.NOT, expr), nil
}

func (p *parser) getSort(line int, tok string) (bmc2.Sort, error) {
	nid, err := strconv.Atoi(tok)
	if err != nil {
		return nil, p.errorf(line, UndefinedRef, "invalid sort reference %q", tok)
	}
	sort, ok := p.sorts.Get(nid)
	if !ok {
		return nil, p.errorf(line, UndefinedRef, "undefined sort reference: %d", nid)
	}
	return sort, nil
}

func (p *parser) parseLine(line int, text string) error {
	tokens := strings.Fields(text)
	if len(tokens) < 2 {
		return p.errorf(line, UnknownOp, "malformed line: %q", text)
	}

	nid, err := strconv.Atoi(tokens[0])
	if err != nil || nid <= 0 {
		return p.errorf(line, UnknownOp, "invalid nid: %q", tokens[0])
	}
	op := tokens[1]
	args := tokens[2:]

	switch op {
	case "sort":
		return p.parseSort(line, nid, args)
	case "input":
		return p.parseInputOrState(line, nid, args, bmc2.RoleInput)
	case "state":
		return p.parseInputOrState(line, nid, args, bmc2.RoleState)
	case "const":
		return p.parseConst(line, nid, args, 2)
	case "constd":
		return p.parseConst(line, nid, args, 10)
	case "consth":
		return p.parseConst(line, nid, args, 16)
	case "zero", "one", "ones":
		return p.parseLiteralConst(line, nid, args, op)
	case "not", "neg", "redand", "redor", "redxor", "inc", "dec":
		return p.parseUnary(line, nid, args, op)
	case "slice":
		return p.parseSlice(line, nid, args)
	case "uext":
		return p.parseExt(line, nid, args, false)
	case "sext":
		return p.parseExt(line, nid, args, true)
	case "concat":
		return p.parseConcat(line, nid, args)
	case "ite":
		return p.parseIte(line, nid, args)
	case "read":
		return p.parseRead(line, nid, args)
	case "write":
		return p.parseWrite(line, nid, args)
	case "init":
		return p.parseInit(line, args)
	case "next":
		return p.parseNext(line, args)
	case "output":
		return p.parseSink(line, args, bmc2.OutputPlain)
	case "bad":
		return p.parseSink(line, args, bmc2.OutputBad)
	case "constraint":
		return p.parseSink(line, args, bmc2.OutputConstraint)
	case "fair", "justice":
		p.warnings = append(p.warnings, Warning{Line: line, Op: op})
		return nil
	default:
		if bop, ok := binaryOpByName[op]; ok {
			return p.parseBinary(line, nid, args, bop)
		}
		return p.errorf(line, UnknownOp, "unknown op %q", op)
	}
}

func (p *parser) parseSort(line, nid int, args []string) error {
	if len(args) < 2 {
		return p.errorf(line, UnknownOp, "malformed sort line")
	}
	switch args[0] {
	case "bitvec":
		w, err := strconv.Atoi(args[1])
		if err != nil || w <= 0 {
			return p.errorf(line, WidthMismatch, "invalid bitvec width %q", args[1])
		}
		p.sorts = p.sorts.Set(nid, bmc2.BitVecSort{Width: uint(w)})
		return nil
	case "array":
		if len(args) < 3 {
			return p.errorf(line, UnknownOp, "malformed array sort line")
		}
		idx, err := p.getSort(line, args[1])
		if err != nil {
			return err
		}
		elem, err := p.getSort(line, args[2])
		if err != nil {
			return err
		}
		p.sorts = p.sorts.Set(nid, bmc2.ArraySort{Index: idx, Elem: elem})
		return nil
	default:
		return p.errorf(line, UnknownOp, "unknown sort kind %q", args[0])
	}
}

func symbolOrDefault(args []string, pos int, def string) string {
	if len(args) > pos && args[pos] != "" {
		return args[pos]
	}
	return def
}

func (p *parser) parseInputOrState(line, nid int, args []string, role bmc2.VarRole) error {
	if len(args) < 1 {
		return p.errorf(line, UnknownOp, "malformed %s line", role)
	}
	sort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	name := symbolOrDefault(args, 1, fmt.Sprintf("%s_%d", role, nid))

	// Array-sorted state/input lines are represented as an Array leaf (so
	// downstream read/write lines can type-assert *bmc2.Array), not a Var:
	// only Array carries the update-chain machinery those ops rely on.
	var leaf bmc2.Expr
	if arrSort, ok := sort.(bmc2.ArraySort); ok {
		leaf = bmc2.NewArray(uint64(nid), arrSort.Index, arrSort.Elem)
	} else {
		leaf = bmc2.NewVar(name, sort, role)
	}
	p.nodes = p.nodes.Set(nid, leaf)

	if role == bmc2.RoleInput {
		p.inputs = append(p.inputs, bmc2.InputVar{Name: name, Sort: sort})
	} else {
		p.stateIdxByNid[nid] = len(p.states)
		p.states = append(p.states, bmc2.StateVar{Name: name, Sort: sort})
		p.stateNids = append(p.stateNids, nid)
	}
	return nil
}

func (p *parser) parseConst(line, nid int, args []string, base int) error {
	if len(args) < 2 {
		return p.errorf(line, UnknownOp, "malformed const line")
	}
	sort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	width := bmc2.BitVecWidth(sort)

	lit := args[1]
	if base == 2 && uint(len(lit)) != width {
		return p.errorf(line, WidthMismatch, "binary literal %q does not match width %d", lit, width)
	}
	value, err := strconv.ParseUint(lit, base, 64)
	if err != nil {
		return p.errorf(line, WidthMismatch, "invalid literal %q: %v", lit, err)
	}
	if width < 64 && value > (uint64(1)<<width)-1 {
		return p.errorf(line, WidthMismatch, "literal %q overflows width %d", lit, width)
	}
	p.nodes = p.nodes.Set(nid, bmc2.NewConstantExpr(value, width))
	return nil
}

func (p *parser) parseLiteralConst(line, nid int, args []string, op string) error {
	if len(args) < 1 {
		return p.errorf(line, UnknownOp, "malformed %s line", op)
	}
	sort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	width := bmc2.BitVecWidth(sort)

	var c *bmc2.ConstantExpr
	switch op {
	case "zero":
		c = bmc2.NewConstantExpr(0, width)
	case "one":
		c = bmc2.NewConstantExpr(1, width)
	case "ones":
		c = bmc2.NewConstantExpr(^uint64(0), width)
	}
	p.nodes = p.nodes.Set(nid, c)
	return nil
}

func (p *parser) parseUnary(line, nid int, args []string, op string) error {
	if len(args) < 2 {
		return p.errorf(line, UnknownOp, "malformed %s line", op)
	}
	resultSort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	x, err := p.getNode(line, args[1])
	if err != nil {
		return err
	}
	expr := bmc2.NewUnaryExpr(unaryOpByName[op], x)
	if !expr.Sort().Equal(resultSort) {
		return p.errorf(line, SortMismatch, "%s: declared sort %s does not match computed sort %s", op, resultSort, expr.Sort())
	}
	p.nodes = p.nodes.Set(nid, expr)
	return nil
}

func (p *parser) parseBinary(line, nid int, args []string, op bmc2.BinaryOp) error {
	if len(args) < 3 {
		return p.errorf(line, UnknownOp, "malformed binary op line")
	}
	resultSort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	lhs, err := p.getNode(line, args[1])
	if err != nil {
		return err
	}
	rhs, err := p.getNode(line, args[2])
	if err != nil {
		return err
	}
	if !lhs.Sort().Equal(rhs.Sort()) {
		return p.errorf(line, SortMismatch, "operand sort mismatch: %s != %s", lhs.Sort(), rhs.Sort())
	}
	expr := bmc2.NewBinaryExpr(op, lhs, rhs)
	if !expr.Sort().Equal(resultSort) {
		return p.errorf(line, SortMismatch, "declared sort %s does not match computed sort %s", resultSort, expr.Sort())
	}
	p.nodes = p.nodes.Set(nid, expr)
	return nil
}

func (p *parser) parseSlice(line, nid int, args []string) error {
	if len(args) < 4 {
		return p.errorf(line, UnknownOp, "malformed slice line")
	}
	resultSort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	x, err := p.getNode(line, args[1])
	if err != nil {
		return err
	}
	hi, err := strconv.Atoi(args[2])
	if err != nil {
		return p.errorf(line, WidthMismatch, "invalid slice hi %q", args[2])
	}
	lo, err := strconv.Atoi(args[3])
	if err != nil {
		return p.errorf(line, WidthMismatch, "invalid slice lo %q", args[3])
	}
	if hi < lo || lo < 0 {
		return p.errorf(line, WidthMismatch, "invalid slice range [%d,%d]", hi, lo)
	}
	expr := bmc2.NewExtractExpr(x, uint(lo), uint(hi-lo+1))
	if !expr.Sort().Equal(resultSort) {
		return p.errorf(line, SortMismatch, "declared sort %s does not match computed sort %s", resultSort, expr.Sort())
	}
	p.nodes = p.nodes.Set(nid, expr)
	return nil
}

func (p *parser) parseExt(line, nid int, args []string, signed bool) error {
	if len(args) < 3 {
		return p.errorf(line, UnknownOp, "malformed ext line")
	}
	resultSort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	x, err := p.getNode(line, args[1])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[2])
	if err != nil || n < 0 {
		return p.errorf(line, WidthMismatch, "invalid extension amount %q", args[2])
	}
	expr := bmc2.NewCastExpr(x, bmc2.ExprWidth(x)+uint(n), signed)
	if !expr.Sort().Equal(resultSort) {
		return p.errorf(line, SortMismatch, "declared sort %s does not match computed sort %s", resultSort, expr.Sort())
	}
	p.nodes = p.nodes.Set(nid, expr)
	return nil
}

func (p *parser) parseConcat(line, nid int, args []string) error {
	if len(args) < 3 {
		return p.errorf(line, UnknownOp, "malformed concat line")
	}
	resultSort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	msb, err := p.getNode(line, args[1])
	if err != nil {
		return err
	}
	lsb, err := p.getNode(line, args[2])
	if err != nil {
		return err
	}
	expr := bmc2.NewConcatExpr(msb, lsb)
	if !expr.Sort().Equal(resultSort) {
		return p.errorf(line, SortMismatch, "declared sort %s does not match computed sort %s", resultSort, expr.Sort())
	}
	p.nodes = p.nodes.Set(nid, expr)
	return nil
}

func (p *parser) parseIte(line, nid int, args []string) error {
	if len(args) < 4 {
		return p.errorf(line, UnknownOp, "malformed ite line")
	}
	resultSort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	cond, err := p.getNode(line, args[1])
	if err != nil {
		return err
	}
	then, err := p.getNode(line, args[2])
	if err != nil {
		return err
	}
	els, err := p.getNode(line, args[3])
	if err != nil {
		return err
	}
	if !cond.Sort().Equal(bmc2.Bool) {
		return p.errorf(line, SortMismatch, "ite condition must be bool, got %s", cond.Sort())
	}
	if !then.Sort().Equal(els.Sort()) {
		return p.errorf(line, SortMismatch, "ite branch sort mismatch: %s != %s", then.Sort(), els.Sort())
	}
	expr := bmc2.NewIteExpr(cond, then, els)
	if !expr.Sort().Equal(resultSort) {
		return p.errorf(line, SortMismatch, "declared sort %s does not match computed sort %s", resultSort, expr.Sort())
	}
	p.nodes = p.nodes.Set(nid, expr)
	return nil
}

func (p *parser) parseRead(line, nid int, args []string) error {
	if len(args) < 3 {
		return p.errorf(line, UnknownOp, "malformed read line")
	}
	resultSort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	arrExpr, err := p.getNode(line, args[1])
	if err != nil {
		return err
	}
	arr, ok := arrExpr.(*bmc2.Array)
	if !ok {
		return p.errorf(line, SortMismatch, "read: %s is not array-sorted", args[1])
	}
	index, err := p.getNode(line, args[2])
	if err != nil {
		return err
	}
	if !index.Sort().Equal(arr.IndexSort) {
		return p.errorf(line, SortMismatch, "read: index sort %s != array index sort %s", index.Sort(), arr.IndexSort)
	}
	expr := arr.Select(index)
	if !expr.Sort().Equal(resultSort) {
		return p.errorf(line, SortMismatch, "declared sort %s does not match computed sort %s", resultSort, expr.Sort())
	}
	p.nodes = p.nodes.Set(nid, expr)
	return nil
}

func (p *parser) parseWrite(line, nid int, args []string) error {
	if len(args) < 4 {
		return p.errorf(line, UnknownOp, "malformed write line")
	}
	resultSort, err := p.getSort(line, args[0])
	if err != nil {
		return err
	}
	arrExpr, err := p.getNode(line, args[1])
	if err != nil {
		return err
	}
	arr, ok := arrExpr.(*bmc2.Array)
	if !ok {
		return p.errorf(line, SortMismatch, "write: %s is not array-sorted", args[1])
	}
	index, err := p.getNode(line, args[2])
	if err != nil {
		return err
	}
	value, err := p.getNode(line, args[3])
	if err != nil {
		return err
	}
	if !index.Sort().Equal(arr.IndexSort) {
		return p.errorf(line, SortMismatch, "write: index sort %s != array index sort %s", index.Sort(), arr.IndexSort)
	}
	if !value.Sort().Equal(arr.ElemSort) {
		return p.errorf(line, SortMismatch, "write: value sort %s != array element sort %s", value.Sort(), arr.ElemSort)
	}
	result := arr.Store(index, value)
	if !result.Sort().Equal(resultSort) {
		return p.errorf(line, SortMismatch, "declared sort %s does not match computed sort %s", resultSort, result.Sort())
	}
	p.nodes = p.nodes.Set(nid, result)
	return nil
}

func (p *parser) parseInit(line int, args []string) error {
	if len(args) < 3 {
		return p.errorf(line, UnknownOp, "malformed init line")
	}
	stateNid, err := strconv.Atoi(args[1])
	if err != nil {
		return p.errorf(line, UndefinedRef, "invalid state reference %q", args[1])
	}
	idx, ok := p.stateIdxByNid[stateNid]
	if !ok {
		return p.errorf(line, UndefinedRef, "init: %d is not a state", stateNid)
	}
	val, err := p.getNode(line, args[2])
	if err != nil {
		return err
	}
	if !val.Sort().Equal(p.states[idx].Sort) {
		return p.errorf(line, SortMismatch, "init: value sort %s != state sort %s", val.Sort(), p.states[idx].Sort)
	}
	if p.states[idx].Init != nil {
		return p.errorf(line, DuplicateInit, "state %q already has an init expression", p.states[idx].Name)
	}
	p.states[idx].Init = val
	return nil
}

func (p *parser) parseNext(line int, args []string) error {
	if len(args) < 3 {
		return p.errorf(line, UnknownOp, "malformed next line")
	}
	stateNid, err := strconv.Atoi(args[1])
	if err != nil {
		return p.errorf(line, UndefinedRef, "invalid state reference %q", args[1])
	}
	idx, ok := p.stateIdxByNid[stateNid]
	if !ok {
		return p.errorf(line, UndefinedRef, "next: %d is not a state", stateNid)
	}
	val, err := p.getNode(line, args[2])
	if err != nil {
		return err
	}
	if !val.Sort().Equal(p.states[idx].Sort) {
		return p.errorf(line, SortMismatch, "next: value sort %s != state sort %s", val.Sort(), p.states[idx].Sort)
	}
	// A state may have at most one next line; a second one is the same class
	// of duplicate-definition error as a duplicate init.
	if p.nextSetByNid[stateNid] {
		return p.errorf(line, DuplicateInit, "state %q already has a next expression", p.states[idx].Name)
	}
	p.nextSetByNid[stateNid] = true
	p.states[idx].Next = val
	return nil
}

func (p *parser) parseSink(line int, args []string, kind bmc2.OutputKind) error {
	if len(args) < 1 {
		return p.errorf(line, UnknownOp, "malformed %s line", kind)
	}
	expr, err := p.getNode(line, args[0])
	if err != nil {
		return err
	}
	name := symbolOrDefault(args, 1, fmt.Sprintf("%s_%s", kind, args[0]))
	p.outputs = append(p.outputs, bmc2.OutputVar{Name: name, Kind: kind, Expr: expr})
	return nil
}

// finish validates invariants that can only be checked once every line has
// been seen: every state must have a next expression. Scans states in
// declaration order (not p.stateIdxByNid, a plain map) so the state named
// in the error is deterministic across runs of the same input.
func (p *parser) finish() error {
	for idx, nid := range p.stateNids {
		if !p.nextSetByNid[nid] {
			return &ParseError{Reason: DanglingState, Msg: fmt.Sprintf("state %q has no next expression", p.states[idx].Name)}
		}
	}
	return nil
}
