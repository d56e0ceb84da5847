package z3

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/cprice-io/bmc2"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure Solver implements the widened incremental interface.
var _ bmc2.IncrementalSolver = (*Solver)(nil)

// Solver represents an incremental solver backed by a persistent Z3 solver
// instance. Unlike a one-shot Solve call, the same Z3_solver lives across
// every bound step of a run: the engine pushes a scope before asserting a
// step's property query and pops it back off before moving on, while the
// accumulated transition/stimulus constraints stay asserted underneath.
type Solver struct {
	ctx    *Context
	solver C.Z3_solver
	model  C.Z3_model // cached model from the most recent Sat CheckSat; nil otherwise

	nextArrayID uint64
	stats       Stats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	ctx := NewContext()
	solver := C.Z3_mk_solver(ctx.raw)
	C.Z3_solver_inc_ref(ctx.raw, solver)
	return &Solver{ctx: ctx, solver: solver}
}

// Close releases the cached model, the Z3 solver, and the underlying context.
func (s *Solver) Close() error {
	s.releaseModel()
	C.Z3_solver_dec_ref(s.ctx.raw, s.solver)
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// DeclareConst declares a fresh constant of the given sort under name.
func (s *Solver) DeclareConst(name string, sort bmc2.Sort) (*bmc2.Var, error) {
	if _, err := s.ctx.makeConstAST(name, sort); err != nil {
		return nil, err
	}
	return bmc2.NewVar(name, sort, bmc2.RoleAux), nil
}

// DeclareArray declares a fresh named symbolic array of the given sort and
// mints a handle for it. The array's ID is only meaningful to later
// ArrayValue calls against this same Solver.
func (s *Solver) DeclareArray(name string, sort bmc2.ArraySort) (*bmc2.Array, error) {
	if _, err := s.ctx.makeConstAST(name, sort); err != nil {
		return nil, err
	}
	s.nextArrayID++
	id := s.nextArrayID
	s.ctx.arrayNames[id] = name
	return bmc2.NewArray(id, sort.Index, sort.Elem), nil
}

// Assert adds a boolean-sorted formula to the current assertion set.
func (s *Solver) Assert(expr bmc2.Expr) error {
	ast, err := s.ctx.toAST(expr)
	if err != nil {
		return err
	}
	C.Z3_solver_assert(s.ctx.raw, s.solver, ast)
	return s.ctx.err("Z3_solver_assert")
}

// Push saves the current assertion set as a restore point.
func (s *Solver) Push() error {
	C.Z3_solver_push(s.ctx.raw, s.solver)
	return s.ctx.err("Z3_solver_push")
}

// Pop restores the assertion set to the most recent Push. The cached model,
// if any, no longer corresponds to the popped assertion set and is dropped.
func (s *Solver) Pop() error {
	s.releaseModel()
	C.Z3_solver_pop(s.ctx.raw, s.solver, 1)
	return s.ctx.err("Z3_solver_pop")
}

// CheckSat determines satisfiability of the current assertion set, honoring
// ctx cancellation by interrupting the in-flight Z3 call.
func (s *Solver) CheckSat(ctx context.Context) (bmc2.SatResult, error) {
	t := time.Now()
	defer func() {
		s.stats.CheckSatN++
		s.stats.CheckSatTime += time.Since(t)
	}()

	s.releaseModel()

	type checkResult struct {
		ret C.Z3_lbool
	}
	done := make(chan checkResult, 1)
	go func() {
		done <- checkResult{ret: C.Z3_solver_check(s.ctx.raw, s.solver)}
	}()

	select {
	case <-ctx.Done():
		C.Z3_interrupt(s.ctx.raw)
		<-done // wait for the interrupted call to actually return before touching the context again
		return bmc2.Unknown, ctx.Err()
	case r := <-done:
		if err := s.ctx.err("Z3_solver_check"); err != nil {
			return bmc2.Unknown, err
		}
		switch r.ret {
		case C.Z3_L_TRUE:
			model := C.Z3_solver_get_model(s.ctx.raw, s.solver)
			if err := s.ctx.err("Z3_solver_get_model"); err != nil {
				return bmc2.Unknown, err
			}
			C.Z3_model_inc_ref(s.ctx.raw, model)
			s.model = model
			return bmc2.Sat, nil
		case C.Z3_L_FALSE:
			return bmc2.Unsat, nil
		default:
			reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, s.solver))
			switch {
			case strings.Contains(reason, "timeout"):
				return bmc2.Unknown, bmc2.ErrSolverTimeout
			case strings.Contains(reason, "canceled"):
				return bmc2.Unknown, bmc2.ErrSolverCanceled
			case strings.Contains(reason, "(resource limits reached)"):
				return bmc2.Unknown, bmc2.ErrSolverResourceLimit
			default:
				return bmc2.Unknown, bmc2.ErrSolverUnknown
			}
		}
	}
}

func (s *Solver) releaseModel() {
	if s.model != nil {
		C.Z3_model_dec_ref(s.ctx.raw, s.model)
		s.model = nil
	}
}

// GetValue returns the concrete value bound to v in the most recent
// satisfying model.
func (s *Solver) GetValue(v *bmc2.Var) (bmc2.ConstValue, error) {
	ast, err := s.ctx.makeConstAST(v.Name, v.Sort())
	if err != nil {
		return bmc2.ConstValue{}, err
	}
	return s.evalToConst(ast, v.Sort())
}

// Eval evaluates a derived (non-leaf) expression under the most recent
// satisfying model.
func (s *Solver) Eval(expr bmc2.Expr) (bmc2.ConstValue, error) {
	ast, err := s.ctx.toAST(expr)
	if err != nil {
		return bmc2.ConstValue{}, err
	}
	return s.evalToConst(ast, expr.Sort())
}

func (s *Solver) evalToConst(ast C.Z3_ast, sort bmc2.Sort) (bmc2.ConstValue, error) {
	if s.model == nil {
		return bmc2.ConstValue{}, fmt.Errorf("z3: GetValue/Eval called without a satisfying model")
	}

	var result C.Z3_ast
	ok := C.Z3_model_eval(s.ctx.raw, s.model, ast, C.bool(true), &result)
	if err := s.ctx.err("Z3_model_eval"); err != nil {
		return bmc2.ConstValue{}, err
	} else if !bool(ok) {
		return bmc2.ConstValue{}, fmt.Errorf("z3: model evaluation failed")
	}

	bits, err := s.ctx.decodeNumeral(result, sort)
	if err != nil {
		return bmc2.ConstValue{}, err
	}
	return bmc2.ConstValue{Sort: sort, Bits: bits}, nil
}

// ArrayValue returns the concrete model for an array-sorted symbolic value,
// extracted from Z3's function interpretation of the array's model value:
// an explicit set of (index, value) entries plus the default value every
// other index maps to.
func (s *Solver) ArrayValue(arr *bmc2.Array) (bmc2.ArrayModel, error) {
	if s.model == nil {
		return bmc2.ArrayModel{}, fmt.Errorf("z3: ArrayValue called without a satisfying model")
	}

	ast, err := s.ctx.makeArrayWithUpdate(arr, arr.Updates)
	if err != nil {
		return bmc2.ArrayModel{}, err
	}

	var value C.Z3_ast
	ok := C.Z3_model_eval(s.ctx.raw, s.model, ast, C.bool(true), &value)
	if err := s.ctx.err("Z3_model_eval"); err != nil {
		return bmc2.ArrayModel{}, err
	} else if !bool(ok) {
		return bmc2.ArrayModel{}, fmt.Errorf("z3: model evaluation of array failed")
	}

	if !bool(C.Z3_is_as_array(s.ctx.raw, value)) {
		// The model assigns the array a uniform default with no recorded
		// writes; sample at index zero to recover it.
		zero, err := s.ctx.makeZero(arr.IndexSort)
		if err != nil {
			return bmc2.ArrayModel{}, err
		}
		sel := C.Z3_mk_select(s.ctx.raw, value, zero)
		if err := s.ctx.err("Z3_mk_select"); err != nil {
			return bmc2.ArrayModel{}, err
		}
		var evaluated C.Z3_ast
		C.Z3_model_eval(s.ctx.raw, s.model, sel, C.bool(true), &evaluated)
		if err := s.ctx.err("Z3_model_eval"); err != nil {
			return bmc2.ArrayModel{}, err
		}
		defBits, err := s.ctx.decodeNumeral(evaluated, arr.ElemSort)
		if err != nil {
			return bmc2.ArrayModel{}, err
		}
		return bmc2.ArrayModel{Default: bmc2.ConstValue{Sort: arr.ElemSort, Bits: defBits}}, nil
	}

	decl := C.Z3_get_as_array_func_decl(s.ctx.raw, value)
	if err := s.ctx.err("Z3_get_as_array_func_decl"); err != nil {
		return bmc2.ArrayModel{}, err
	}
	fi := C.Z3_model_get_func_interp(s.ctx.raw, s.model, decl)
	if err := s.ctx.err("Z3_model_get_func_interp"); err != nil {
		return bmc2.ArrayModel{}, err
	}
	C.Z3_func_interp_inc_ref(s.ctx.raw, fi)
	defer C.Z3_func_interp_dec_ref(s.ctx.raw, fi)

	n := C.Z3_func_interp_get_num_entries(s.ctx.raw, fi)
	entries := make([]bmc2.ArrayEntry, 0, int(n))
	for i := C.unsigned(0); i < C.unsigned(n); i++ {
		entry := C.Z3_func_interp_get_entry(s.ctx.raw, fi, i)
		C.Z3_func_entry_inc_ref(s.ctx.raw, entry)

		idxBits, err := s.ctx.decodeNumeral(C.Z3_func_entry_get_arg(s.ctx.raw, entry, 0), arr.IndexSort)
		if err != nil {
			C.Z3_func_entry_dec_ref(s.ctx.raw, entry)
			return bmc2.ArrayModel{}, err
		}
		valBits, err := s.ctx.decodeNumeral(C.Z3_func_entry_get_value(s.ctx.raw, entry), arr.ElemSort)
		if err != nil {
			C.Z3_func_entry_dec_ref(s.ctx.raw, entry)
			return bmc2.ArrayModel{}, err
		}
		entries = append(entries, bmc2.ArrayEntry{
			Index: bmc2.ConstValue{Sort: arr.IndexSort, Bits: idxBits},
			Value: bmc2.ConstValue{Sort: arr.ElemSort, Bits: valBits},
		})
		C.Z3_func_entry_dec_ref(s.ctx.raw, entry)
	}

	defBits, err := s.ctx.decodeNumeral(C.Z3_func_interp_get_else(s.ctx.raw, fi), arr.ElemSort)
	if err != nil {
		return bmc2.ArrayModel{}, err
	}
	return bmc2.ArrayModel{Entries: entries, Default: bmc2.ConstValue{Sort: arr.ElemSort, Bits: defBits}}, nil
}

// Context represents a Z3 context object used for constructing expressions.
type Context struct {
	raw        C.Z3_context
	arrayNames map[uint64]string // bmc2.Array.ID -> the name it was declared under
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw, arrayNames: make(map[uint64]string)}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return ctx.err("Z3_del_context")
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// toZ3Sort translates a bmc2 sort into its Z3 counterpart: a one-bit
// BitVecSort becomes Z3's native bool sort (so boolean connectives apply
// directly), every other width becomes a bit-vector sort, and ArraySort
// recurses on its index/element sorts.
func (ctx *Context) toZ3Sort(sort bmc2.Sort) (C.Z3_sort, error) {
	switch s := sort.(type) {
	case bmc2.BitVecSort:
		if s.Width == bmc2.WidthBool {
			return ctx.makeBoolSort()
		}
		return ctx.makeBVSort(s.Width)
	case bmc2.ArraySort:
		domain, err := ctx.toZ3Sort(s.Index)
		if err != nil {
			return nil, err
		}
		rng, err := ctx.toZ3Sort(s.Elem)
		if err != nil {
			return nil, err
		}
		sort := C.Z3_mk_array_sort(ctx.raw, domain, rng)
		return sort, ctx.err("Z3_mk_array_sort")
	default:
		return nil, fmt.Errorf("z3.Context.toZ3Sort: invalid sort: %T", sort)
	}
}

// makeConstAST returns the (hash-consed) Z3 constant for name/sort. Calling
// this twice with the same name and sort returns the same underlying Z3
// term, so the engine's step-qualified names ("out@3") are all that's
// needed to keep a leaf's declaration and its later lookups in sync.
func (ctx *Context) makeConstAST(name string, sort bmc2.Sort) (C.Z3_ast, error) {
	z3Sort, err := ctx.toZ3Sort(sort)
	if err != nil {
		return nil, err
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	symbol := C.Z3_mk_string_symbol(ctx.raw, cname)
	return C.Z3_mk_const(ctx.raw, symbol, z3Sort), ctx.err("Z3_mk_const")
}

// toAST returns a new instance of Z3_ast from a bmc2 expression.
func (ctx *Context) toAST(expr bmc2.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *bmc2.ConstantExpr:
		return ctx.toConstantAST(expr)
	case *bmc2.Var:
		return ctx.makeConstAST(expr.Name, expr.Sort())
	case *bmc2.Array:
		return ctx.makeArrayWithUpdate(expr, expr.Updates)
	case *bmc2.SelectExpr:
		return ctx.toSelectAST(expr)
	case *bmc2.ConcatExpr:
		return ctx.toConcatAST(expr)
	case *bmc2.ExtractExpr:
		return ctx.toExtractAST(expr)
	case *bmc2.CastExpr:
		return ctx.toCastAST(expr)
	case *bmc2.UnaryExpr:
		return ctx.toUnaryAST(expr)
	case *bmc2.IteExpr:
		return ctx.toIteAST(expr)
	case *bmc2.BinaryExpr:
		return ctx.toBinaryAST(expr)
	default:
		return nil, fmt.Errorf("z3.Context.toAST: invalid expression type: %T", expr)
	}
}

func (ctx *Context) toConstantAST(expr *bmc2.ConstantExpr) (C.Z3_ast, error) {
	if expr.Width == bmc2.WidthBool {
		if expr.IsTrue() {
			return ctx.makeTrue()
		}
		return ctx.makeFalse()
	} else if expr.Width <= 32 {
		return ctx.makeUint(expr.Width, uint32(expr.Value))
	}
	return ctx.makeUint64(expr.Width, expr.Value)
}

func (ctx *Context) toSelectAST(expr *bmc2.SelectExpr) (C.Z3_ast, error) {
	array, err := ctx.makeArrayWithUpdate(expr.Array, expr.Array.Updates)
	if err != nil {
		return nil, err
	}
	index, err := ctx.toAST(expr.Index)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_select(ctx.raw, array, index), ctx.err("Z3_mk_select")
}

func (ctx *Context) toConcatAST(expr *bmc2.ConcatExpr) (C.Z3_ast, error) {
	msb, err := ctx.toAST(expr.MSB)
	if err != nil {
		return nil, err
	}
	lsb, err := ctx.toAST(expr.LSB)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_concat(ctx.raw, msb, lsb), ctx.err("Z3_mk_concat")
}

func (ctx *Context) toExtractAST(expr *bmc2.ExtractExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.X)
	if err != nil {
		return nil, err
	}

	// If extracting a single bit, use an EQ expression to convert to bool sort.
	if expr.Width == bmc2.WidthBool {
		extractExpr := C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset), C.uint(expr.Offset), src)
		if err := ctx.err("Z3_mk_extract[bool]"); err != nil {
			return nil, err
		}
		one, err := ctx.makeUint64(1, 1)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_eq(ctx.raw, extractExpr, one), ctx.err("Z3_mk_eq")
	}

	return C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset+expr.Width-1), C.uint(expr.Offset), src), ctx.err("Z3_mk_extract")
}

func (ctx *Context) toCastAST(expr *bmc2.CastExpr) (C.Z3_ast, error) {
	if expr.Signed {
		return ctx.toSignedCastAST(expr)
	}
	return ctx.toUnsignedCastAST(expr)
}

func (ctx *Context) toSignedCastAST(expr *bmc2.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	if bmc2.ExprWidth(expr.Src) == bmc2.WidthBool {
		whenTrue, err := ctx.makeUint64(expr.Width, uint64(int64(-1)))
		if err != nil {
			return nil, err
		}
		whenFalse, err := ctx.makeUint64(expr.Width, 0)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(ctx.raw, src, whenTrue, whenFalse), ctx.err("Z3_mk_ite")
	}

	return C.Z3_mk_sign_ext(ctx.raw, C.uint(expr.Width-ctx.bvSize(src)), src), ctx.err("Z3_mk_sign_ext")
}

func (ctx *Context) toUnsignedCastAST(expr *bmc2.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	if bmc2.ExprWidth(expr.Src) == bmc2.WidthBool {
		whenTrue, err := ctx.makeUint64(expr.Width, 1)
		if err != nil {
			return nil, err
		}
		whenFalse, err := ctx.makeUint64(expr.Width, 0)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(ctx.raw, src, whenTrue, whenFalse), ctx.err("Z3_mk_ite")
	}

	return C.Z3_mk_zero_ext(ctx.raw, C.uint(expr.Width-ctx.bvSize(src)), src), ctx.err("Z3_mk_zero_ext")
}

func (ctx *Context) toUnaryAST(expr *bmc2.UnaryExpr) (C.Z3_ast, error) {
	switch expr.Op {
	case bmc2.NOT:
		return ctx.toNotAST(expr)
	case bmc2.NEG:
		return ctx.toNegAST(expr)
	case bmc2.REDAND:
		return ctx.toRedAndAST(expr)
	case bmc2.REDOR:
		return ctx.toRedOrAST(expr)
	case bmc2.REDXOR:
		return ctx.toRedXorAST(expr)
	case bmc2.INC:
		return ctx.toIncAST(expr)
	case bmc2.DEC:
		return ctx.toDecAST(expr)
	default:
		return nil, fmt.Errorf("z3.Context.toUnaryAST: unexpected operation: %s", expr.Op)
	}
}

func (ctx *Context) toNotAST(expr *bmc2.UnaryExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.X)
	if err != nil {
		return nil, err
	}
	if bmc2.ExprWidth(expr.X) == bmc2.WidthBool {
		return C.Z3_mk_not(ctx.raw, src), ctx.err("Z3_mk_not")
	}
	return C.Z3_mk_bvnot(ctx.raw, src), ctx.err("Z3_mk_bvnot")
}

func (ctx *Context) toNegAST(expr *bmc2.UnaryExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.X)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_bvneg(ctx.raw, src), ctx.err("Z3_mk_bvneg")
}

func (ctx *Context) toRedAndAST(expr *bmc2.UnaryExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.X)
	if err != nil {
		return nil, err
	}
	reduced := C.Z3_mk_bvredand(ctx.raw, src)
	if err := ctx.err("Z3_mk_bvredand"); err != nil {
		return nil, err
	}
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, reduced, one), ctx.err("Z3_mk_eq")
}

func (ctx *Context) toRedOrAST(expr *bmc2.UnaryExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.X)
	if err != nil {
		return nil, err
	}
	reduced := C.Z3_mk_bvredor(ctx.raw, src)
	if err := ctx.err("Z3_mk_bvredor"); err != nil {
		return nil, err
	}
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, reduced, one), ctx.err("Z3_mk_eq")
}

// toRedXorAST computes the parity of every bit by folding bvxor over each
// one-bit extract; Z3 has no native reduction-xor primitive.
func (ctx *Context) toRedXorAST(expr *bmc2.UnaryExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.X)
	if err != nil {
		return nil, err
	}
	w := bmc2.ExprWidth(expr.X)

	acc := C.Z3_mk_extract(ctx.raw, 0, 0, src)
	if err := ctx.err("Z3_mk_extract[redxor]"); err != nil {
		return nil, err
	}
	for i := C.uint(1); i < C.uint(w); i++ {
		bit := C.Z3_mk_extract(ctx.raw, i, i, src)
		if err := ctx.err("Z3_mk_extract[redxor]"); err != nil {
			return nil, err
		}
		acc = C.Z3_mk_bvxor(ctx.raw, acc, bit)
		if err := ctx.err("Z3_mk_bvxor[redxor]"); err != nil {
			return nil, err
		}
	}
	one, err := ctx.makeUint64(1, 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_eq(ctx.raw, acc, one), ctx.err("Z3_mk_eq")
}

func (ctx *Context) toIncAST(expr *bmc2.UnaryExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.X)
	if err != nil {
		return nil, err
	}
	one, err := ctx.makeUint64(bmc2.ExprWidth(expr.X), 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_bvadd(ctx.raw, src, one), ctx.err("Z3_mk_bvadd")
}

func (ctx *Context) toDecAST(expr *bmc2.UnaryExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.X)
	if err != nil {
		return nil, err
	}
	one, err := ctx.makeUint64(bmc2.ExprWidth(expr.X), 1)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_bvsub(ctx.raw, src, one), ctx.err("Z3_mk_bvsub")
}

func (ctx *Context) toIteAST(expr *bmc2.IteExpr) (C.Z3_ast, error) {
	cond, err := ctx.toAST(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := ctx.toAST(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := ctx.toAST(expr.Else)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, cond, then, els), ctx.err("Z3_mk_ite")
}

func (ctx *Context) toBinaryAST(expr *bmc2.BinaryExpr) (C.Z3_ast, error) {
	if _, isArray := expr.LHS.Sort().(bmc2.ArraySort); isArray {
		return ctx.toArrayCompareAST(expr)
	}

	switch expr.Op {
	case bmc2.ADD:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvadd", C.Z3_mk_bvadd)
	case bmc2.SUB:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvsub", C.Z3_mk_bvsub)
	case bmc2.MUL:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvmul", C.Z3_mk_bvmul)
	case bmc2.UDIV:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvudiv", C.Z3_mk_bvudiv)
	case bmc2.SDIV:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvsdiv", C.Z3_mk_bvsdiv)
	case bmc2.UREM:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvurem", C.Z3_mk_bvurem)
	case bmc2.SREM:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvsrem", C.Z3_mk_bvsrem)
	case bmc2.SMOD:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvsmod", C.Z3_mk_bvsmod)
	case bmc2.AND:
		return ctx.toBinaryAndAST(expr)
	case bmc2.OR:
		return ctx.toBinaryOrAST(expr)
	case bmc2.XOR:
		return ctx.toBinaryXorAST(expr)
	case bmc2.SHL:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvshl", C.Z3_mk_bvshl)
	case bmc2.LSHR:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvlshr", C.Z3_mk_bvlshr)
	case bmc2.ASHR:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvashr", C.Z3_mk_bvashr)
	case bmc2.ROL:
		return ctx.toBinaryBVAST(expr, "Z3_mk_ext_rotate_left", C.Z3_mk_ext_rotate_left)
	case bmc2.ROR:
		return ctx.toBinaryBVAST(expr, "Z3_mk_ext_rotate_right", C.Z3_mk_ext_rotate_right)
	case bmc2.EQ:
		return ctx.toBinaryEqAST(expr)
	case bmc2.NE:
		return ctx.toBinaryNeAST(expr)
	case bmc2.ULT:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvult", C.Z3_mk_bvult)
	case bmc2.ULE:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvule", C.Z3_mk_bvule)
	case bmc2.SLT:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvslt", C.Z3_mk_bvslt)
	case bmc2.SLE:
		return ctx.toBinaryBVAST(expr, "Z3_mk_bvsle", C.Z3_mk_bvsle)
	default:
		return nil, fmt.Errorf("z3.Context.toBinaryAST: unexpected operation: %s", expr.Op)
	}
}

func (ctx *Context) toArrayCompareAST(expr *bmc2.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	switch expr.Op {
	case bmc2.EQ:
		return C.Z3_mk_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_eq")
	case bmc2.NE:
		eq := C.Z3_mk_eq(ctx.raw, lhs, rhs)
		if err := ctx.err("Z3_mk_eq"); err != nil {
			return nil, err
		}
		return C.Z3_mk_not(ctx.raw, eq), ctx.err("Z3_mk_not")
	default:
		return nil, fmt.Errorf("z3.Context.toArrayCompareAST: invalid array operation: %s", expr.Op)
	}
}

// toBinaryBVAST is the common shape shared by every bit-vector binary op
// that maps directly onto a two-argument Z3 constructor.
func (ctx *Context) toBinaryBVAST(expr *bmc2.BinaryExpr, opName string, mk func(C.Z3_context, C.Z3_ast, C.Z3_ast) C.Z3_ast) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	return mk(ctx.raw, lhs, rhs), ctx.err(opName)
}

func (ctx *Context) toBinaryAndAST(expr *bmc2.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	if bmc2.ExprWidth(expr.LHS) == bmc2.WidthBool {
		args := [2]C.Z3_ast{lhs, rhs}
		return C.Z3_mk_and(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_and")
	}
	return C.Z3_mk_bvand(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvand")
}

func (ctx *Context) toBinaryOrAST(expr *bmc2.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	if bmc2.ExprWidth(expr.LHS) == bmc2.WidthBool {
		args := [2]C.Z3_ast{lhs, rhs}
		return C.Z3_mk_or(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_or")
	}
	return C.Z3_mk_bvor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvor")
}

func (ctx *Context) toBinaryXorAST(expr *bmc2.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	if bmc2.ExprWidth(expr.LHS) == bmc2.WidthBool {
		return C.Z3_mk_xor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_xor")
	}
	return C.Z3_mk_bvxor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_bvxor")
}

func (ctx *Context) toBinaryEqAST(expr *bmc2.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	if bmc2.ExprWidth(expr.LHS) == bmc2.WidthBool {
		return C.Z3_mk_iff(ctx.raw, lhs, rhs), ctx.err("Z3_mk_iff")
	}
	return C.Z3_mk_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_eq")
}

func (ctx *Context) toBinaryNeAST(expr *bmc2.BinaryExpr) (C.Z3_ast, error) {
	eq, err := ctx.toBinaryEqAST(expr)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_not(ctx.raw, eq), ctx.err("Z3_mk_not")
}

func (ctx *Context) makeTrue() (C.Z3_ast, error) {
	return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
}

func (ctx *Context) makeFalse() (C.Z3_ast, error) {
	return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
}

func (ctx *Context) makeBoolSort() (C.Z3_sort, error) {
	return C.Z3_mk_bool_sort(ctx.raw), ctx.err("Z3_mk_bool_sort")
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeUint(width uint, value uint32) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int(ctx.raw, C.uint(value), t), ctx.err("Z3_mk_unsigned_int")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.ulonglong(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// makeZero returns the zero value of sort, used to sample a uniform array's
// default when Z3 hasn't given it an as-array interpretation.
func (ctx *Context) makeZero(sort bmc2.Sort) (C.Z3_ast, error) {
	w := bmc2.BitVecWidth(sort)
	if w == bmc2.WidthBool {
		return ctx.makeFalse()
	}
	return ctx.makeUint64(w, 0)
}

func (ctx *Context) bvSize(expr C.Z3_ast) uint {
	t := C.Z3_get_sort(ctx.raw, expr)
	if err := ctx.err("Z3_get_sort"); err != nil {
		panic(err)
	}
	return ctx.bvSortSize(t)
}

// bvSortSize returns the size of t in bits. Panics if t is not a bit-vector sort.
func (ctx *Context) bvSortSize(t C.Z3_sort) uint {
	sz := uint(C.Z3_get_bv_sort_size(ctx.raw, t))
	if err := ctx.err("Z3_get_bv_sort_size"); err != nil {
		panic(err)
	}
	return sz
}

// makeArrayConst returns the root constant array with no updates, keyed by
// the name it was originally declared under.
func (ctx *Context) makeArrayConst(array *bmc2.Array) (C.Z3_ast, error) {
	name, ok := ctx.arrayNames[array.ID]
	if !ok {
		return nil, fmt.Errorf("z3.Context.makeArrayConst: array #%d was never declared", array.ID)
	}
	return ctx.makeConstAST(name, bmc2.ArraySort{Index: array.IndexSort, Elem: array.ElemSort})
}

// makeArrayWithUpdate returns an array with updates recursively applied.
func (ctx *Context) makeArrayWithUpdate(root *bmc2.Array, upd *bmc2.ArrayUpdate) (C.Z3_ast, error) {
	if upd == nil {
		return ctx.makeArrayConst(root)
	}

	array, err := ctx.makeArrayWithUpdate(root, upd.Next)
	if err != nil {
		return nil, err
	}
	index, err := ctx.toAST(upd.Index)
	if err != nil {
		return nil, err
	}
	value, err := ctx.toAST(upd.Value)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_store(ctx.raw, array, index, value), ctx.err("Z3_mk_store")
}

// decodeNumeral extracts the concrete value of a model-evaluated AST as a
// uint64, masked to sort's width. Bool-sorted values go through
// Z3_get_bool_value instead of the numeral API, which doesn't accept them.
func (ctx *Context) decodeNumeral(ast C.Z3_ast, sort bmc2.Sort) (uint64, error) {
	w := bmc2.BitVecWidth(sort)
	if w == bmc2.WidthBool {
		switch C.Z3_get_bool_value(ctx.raw, ast) {
		case C.Z3_L_TRUE:
			return 1, nil
		case C.Z3_L_FALSE:
			return 0, nil
		default:
			return 0, fmt.Errorf("z3: model value for a bool-sorted term is undetermined")
		}
	}

	var v C.uint64_t
	if !bool(C.Z3_get_numeral_uint64(ctx.raw, ast, &v)) {
		return 0, fmt.Errorf("z3: failed to extract numeral value")
	}
	if err := ctx.err("Z3_get_numeral_uint64"); err != nil {
		return 0, err
	}
	if w >= 64 {
		return uint64(v), nil
	}
	return uint64(v) & ((uint64(1) << w) - 1), nil
}

func (ctx *Context) astToString(ast C.Z3_ast) string {
	return C.GoString(C.Z3_ast_to_string(ctx.raw, ast))
}

func (ctx *Context) modelToString(model C.Z3_model) string {
	return C.GoString(C.Z3_model_to_string(ctx.raw, model))
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

// Stats tracks solver usage for diagnostics.
type Stats struct {
	CheckSatN    int
	CheckSatTime time.Duration
}
