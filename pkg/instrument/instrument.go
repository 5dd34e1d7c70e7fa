package instrument

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/format"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"io"

	"golang.org/x/tools/go/ast/astutil"
)

// Config holds configuration for the instrumentation
type Config struct {
	// ImportRewrites maps import paths to replacement paths
	ImportRewrites map[string]string

	// BaseRuntimeAddress is the base package path for runtime functions
	BaseRuntimeAddress string

	// RuntimeAlias is the import alias for the runtime package
	// If empty, a mangled name will be generated from BaseRuntimeAddress
	RuntimeAlias string

	// SpawnFunc is the name of the goroutine spawn function
	SpawnFunc string

	// ChanSendFunc is the name of the controlled channel send function
	ChanSendFunc string

	// ChanRecvFunc is the name of the controlled channel receive function
	ChanRecvFunc string

	// DelayFunc is the name of the controlled timer function
	DelayFunc string

	// YieldFunc is the name of the controlled yield function
	YieldFunc string

	// MutexLockFunc is the name of the controlled mutex lock function
	MutexLockFunc string

	// MutexUnlockFunc is the name of the controlled mutex unlock function
	MutexUnlockFunc string

	// InitFunc is the runtime setup function called on entry to main
	InitFunc string

	// FinalizeFunc is the runtime teardown function deferred in main
	FinalizeFunc string

	// Importer is used for resolving imports during type checking
	// If nil, importer.Default() is used
	Importer types.Importer
}

// DefaultConfig returns a Config with default settings
func DefaultConfig() *Config {
	baseAddr := "github.com/amirkhaki/mycroft/pkg/runtime"
	return &Config{
		BaseRuntimeAddress: baseAddr,
		RuntimeAlias:       "", // Will be auto-generated
		SpawnFunc:          "Spawn",
		ChanSendFunc:       "ChanSend",
		ChanRecvFunc:       "ChanRecv",
		DelayFunc:          "Delay",
		YieldFunc:          "Yield",
		MutexLockFunc:      "MutexLock",
		MutexUnlockFunc:    "MutexUnlock",
		InitFunc:           "Initialize",
		FinalizeFunc:       "Finalize",
		ImportRewrites:     map[string]string{},
	}
}

// Instrumenter rewrites the concurrency points of Go source code to the
// controlled runtime: go statements, channel sends and receives,
// time.Sleep, runtime.Gosched, and sync.Mutex lock/unlock calls.
type Instrumenter struct {
	config          *Config
	typeInfo        *types.Info
	instrumented    bool // tracks if any instrumentation was added to current file
	anyInstrumented bool // tracks if any file had instrumentation
}

// NewInstrumenter creates a new Instrumenter with the given config
func NewInstrumenter(config *Config) *Instrumenter {
	if config == nil {
		config = DefaultConfig()
	}

	// Generate runtime alias if not provided
	if config.RuntimeAlias == "" {
		config.RuntimeAlias = generateRuntimeAlias(config.BaseRuntimeAddress)
	}

	return &Instrumenter{
		config: config,
	}
}

// generateRuntimeAlias creates a deterministic mangled alias from the import path
// This ensures no conflicts with user imports
func generateRuntimeAlias(importPath string) string {
	// Use SHA256 hash for deterministic mangling
	hash := sha256.Sum256([]byte(importPath))
	// Take first 8 bytes and hex encode for a 16-char suffix
	hashStr := hex.EncodeToString(hash[:8])
	// Create alias: __mycroft_<hash>
	return "__mycroft_" + hashStr
}

// WasInstrumented returns true if any instrumentation was added during the last operation
func (instr *Instrumenter) WasInstrumented() bool {
	return instr.anyInstrumented
}

// InstrumentFile instruments a single Go source file
func (instr *Instrumenter) InstrumentFile(fset *token.FileSet, filename string, src interface{}) (*ast.File, error) {
	// Parse the file
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	return instr.InstrumentAST(fset, f)
}

// InstrumentFiles instruments multiple Go source files together (for proper type checking)
func (instr *Instrumenter) InstrumentFiles(fset *token.FileSet, filenames []string) ([]*ast.File, error) {
	// Parse all files
	files := make([]*ast.File, len(filenames))
	for i, filename := range filenames {
		f, err := parser.ParseFile(fset, filename, nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
		files[i] = f
	}

	return instr.InstrumentASTs(fset, files)
}

// InstrumentASTs instruments multiple already-parsed ASTs together
func (instr *Instrumenter) InstrumentASTs(fset *token.FileSet, files []*ast.File) ([]*ast.File, error) {
	// Reset the any-instrumented flag for this batch
	instr.anyInstrumented = false

	instr.typeCheck(fset, files)

	// Instrument each file
	for _, f := range files {
		instr.instrumentSingleAST(fset, f)
	}

	return files, nil
}

// InstrumentAST instruments an already-parsed AST
func (instr *Instrumenter) InstrumentAST(fset *token.FileSet, f *ast.File) (*ast.File, error) {
	instr.anyInstrumented = false
	instr.typeCheck(fset, []*ast.File{f})
	instr.instrumentSingleAST(fset, f)
	return f, nil
}

func (instr *Instrumenter) typeCheck(fset *token.FileSet, files []*ast.File) {
	imp := instr.config.Importer
	if imp == nil {
		imp = importer.Default()
	}
	conf := types.Config{Importer: imp, Error: func(error) {}}
	instr.typeInfo = &types.Info{
		Types: make(map[ast.Expr]types.TypeAndValue),
		Defs:  make(map[*ast.Ident]types.Object),
		Uses:  make(map[*ast.Ident]types.Object),
	}
	_, typeErr := conf.Check("", fset, files, instr.typeInfo)
	// If type checking completely failed (no useful type info), disable it
	if typeErr != nil && len(instr.typeInfo.Defs) == 0 && len(instr.typeInfo.Uses) == 0 {
		instr.typeInfo = nil
	}
	// Otherwise, we can use partial type info even if there were errors
}

// instrumentSingleAST performs the actual instrumentation on a single file
// (assumes typeInfo is already populated)
func (instr *Instrumenter) instrumentSingleAST(fset *token.FileSet, f *ast.File) {

	// Apply import rewrites
	for k, v := range instr.config.ImportRewrites {
		astutil.RewriteImport(fset, f, k, v)
	}

	// Reset instrumentation flag
	instr.instrumented = false

	// First pass: rewrite expression-level points (receives, sleeps,
	// yields, mutex calls). Select statements are left alone because a
	// receive inside a comm clause must stay a channel operation.
	skipSelect := func(c *astutil.Cursor) bool {
		_, isSelect := c.Node().(*ast.SelectStmt)
		return !isSelect
	}
	astutil.Apply(f, skipSelect, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.UnaryExpr:
			instr.instrumentRecv(c, n)
		case *ast.CallExpr:
			instr.instrumentCall(c, n)
		}
		return true
	})

	// Second pass: rewrite statement-level points. A send used as a select
	// case must stay a channel operation too.
	astutil.Apply(f, skipSelect, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.SendStmt:
			instr.instrumentSend(c, n)
		case *ast.GoStmt:
			instr.instrumentGoStmt(c, n)
		}
		return true
	})

	// Third pass: wrap the main function if this is the main package
	instr.instrumentMainFunction(f)

	// Only add imports if instrumentation was actually added
	if instr.instrumented {
		instr.anyInstrumented = true
		astutil.AddNamedImport(fset, f, instr.config.RuntimeAlias, instr.config.BaseRuntimeAddress)
		// Rewriting runtime.Gosched or time.Sleep may have orphaned
		// the original import.
		for _, path := range []string{"runtime", "time"} {
			if !astutil.UsesImport(f, path) {
				astutil.DeleteImport(fset, f, path)
			}
		}
	}
}

// WriteInstrumented writes the instrumented AST to the given writer
func WriteInstrumented(w io.Writer, fset *token.FileSet, f *ast.File) error {
	return format.Node(w, fset, f)
}

func (instr *Instrumenter) runtimeCall(fn string, args ...ast.Expr) *ast.CallExpr {
	instr.instrumented = true
	return &ast.CallExpr{
		Fun: &ast.SelectorExpr{
			X:   &ast.Ident{Name: instr.config.RuntimeAlias},
			Sel: &ast.Ident{Name: fn},
		},
		Args: args,
	}
}

// spawnName derives a readable operation name from the spawned call
func spawnName(call *ast.CallExpr) string {
	switch fun := call.Fun.(type) {
	case *ast.Ident:
		return fun.Name
	case *ast.SelectorExpr:
		return fun.Sel.Name
	default:
		return "goroutine"
	}
}

func stringLit(s string) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.STRING, Value: fmt.Sprintf("%q", s)}
}

func (instr *Instrumenter) instrumentGoStmt(c *astutil.Cursor, stmt *ast.GoStmt) {
	// Transform: go f(expr1, expr2, ...)
	// Into: {
	//   p0 := expr1
	//   p1 := expr2
	//   ...
	//   runtime.Spawn("f", func() {
	//     f(p0, p1, ...)
	//   })
	// }
	// Arguments are hoisted so they are evaluated in the spawning
	// operation, matching the evaluation order of the go statement.

	instr.instrumented = true

	callExpr := stmt.Call

	var blockStmts []ast.Stmt
	var paramIdents []ast.Expr

	for i, arg := range callExpr.Args {
		paramName := &ast.Ident{Name: fmt.Sprintf("__mycroft_p%d", i)}
		assignStmt := &ast.AssignStmt{
			Lhs: []ast.Expr{paramName},
			Tok: token.DEFINE,
			Rhs: []ast.Expr{arg},
		}
		blockStmts = append(blockStmts, assignStmt)
		paramIdents = append(paramIdents, paramName)
	}

	wrappedCall := &ast.CallExpr{
		Fun:  callExpr.Fun,
		Args: paramIdents,
	}

	funcLit := &ast.FuncLit{
		Type: &ast.FuncType{Params: &ast.FieldList{}},
		Body: &ast.BlockStmt{
			List: []ast.Stmt{
				&ast.ExprStmt{X: wrappedCall},
			},
		},
	}

	spawnCall := &ast.ExprStmt{
		X: instr.runtimeCall(instr.config.SpawnFunc, stringLit(spawnName(callExpr)), funcLit),
	}
	blockStmts = append(blockStmts, spawnCall)

	blockStmt := &ast.BlockStmt{List: blockStmts}
	c.Replace(blockStmt)
}

// instrumentSend rewrites ch <- v into runtime.ChanSend(ch, v)
func (instr *Instrumenter) instrumentSend(c *astutil.Cursor, stmt *ast.SendStmt) {
	call := instr.runtimeCall(instr.config.ChanSendFunc, stmt.Chan, stmt.Value)
	c.Replace(&ast.ExprStmt{X: call})
}

// instrumentRecv rewrites <-ch into runtime.ChanRecv(ch). The two-value
// form x, ok := <-ch is left alone because the controlled receive has no
// closed-channel result.
func (instr *Instrumenter) instrumentRecv(c *astutil.Cursor, expr *ast.UnaryExpr) {
	if expr.Op != token.ARROW {
		return
	}
	if assign, ok := c.Parent().(*ast.AssignStmt); ok {
		if len(assign.Lhs) == 2 && len(assign.Rhs) == 1 {
			return
		}
	}
	c.Replace(instr.runtimeCall(instr.config.ChanRecvFunc, expr.X))
}

// instrumentCall rewrites time.Sleep, runtime.Gosched, and sync.Mutex
// Lock/Unlock calls to their controlled counterparts.
func (instr *Instrumenter) instrumentCall(c *astutil.Cursor, call *ast.CallExpr) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return
	}

	if instr.isPackageFunc(sel, "time", "Sleep") && len(call.Args) == 1 {
		c.Replace(instr.runtimeCall(instr.config.DelayFunc, call.Args[0]))
		return
	}
	if instr.isPackageFunc(sel, "runtime", "Gosched") && len(call.Args) == 0 {
		c.Replace(instr.runtimeCall(instr.config.YieldFunc))
		return
	}

	if sel.Sel.Name != "Lock" && sel.Sel.Name != "Unlock" {
		return
	}
	recv, ok := instr.mutexReceiver(sel.X)
	if !ok {
		return
	}
	fn := instr.config.MutexLockFunc
	if sel.Sel.Name == "Unlock" {
		fn = instr.config.MutexUnlockFunc
	}
	c.Replace(instr.runtimeCall(fn, recv))
}

// isPackageFunc reports whether sel is a reference to pkgPath.funcName.
// Without type information it falls back to matching the package name.
func (instr *Instrumenter) isPackageFunc(sel *ast.SelectorExpr, pkgPath, funcName string) bool {
	if sel.Sel.Name != funcName {
		return false
	}
	ident, ok := sel.X.(*ast.Ident)
	if !ok {
		return false
	}
	if instr.typeInfo != nil {
		if obj := instr.typeInfo.Uses[ident]; obj != nil {
			pkgName, isPkg := obj.(*types.PkgName)
			return isPkg && pkgName.Imported().Path() == pkgPath
		}
	}
	return ident.Name == pkgPath
}

// mutexReceiver returns the *sync.Mutex expression for a Lock/Unlock
// receiver, taking the address of value receivers. Calls on values whose
// type cannot be confirmed as sync.Mutex are left alone.
func (instr *Instrumenter) mutexReceiver(x ast.Expr) (ast.Expr, bool) {
	if instr.typeInfo == nil {
		return nil, false
	}
	tv, ok := instr.typeInfo.Types[x]
	if !ok || tv.Type == nil {
		return nil, false
	}
	typ := tv.Type
	isPointer := false
	if ptr, ok := typ.(*types.Pointer); ok {
		typ = ptr.Elem()
		isPointer = true
	}
	named, ok := typ.(*types.Named)
	if !ok {
		return nil, false
	}
	obj := named.Obj()
	if obj.Pkg() == nil || obj.Pkg().Path() != "sync" || obj.Name() != "Mutex" {
		return nil, false
	}
	if isPointer {
		return x, true
	}
	return &ast.UnaryExpr{Op: token.AND, X: x}, true
}

// instrumentMainFunction wraps main() of the main package with the
// runtime lifecycle: Initialize on entry and a deferred Finalize.
func (instr *Instrumenter) instrumentMainFunction(f *ast.File) {
	if f.Name.Name != "main" {
		return
	}

	for _, decl := range f.Decls {
		funcDecl, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}

		if funcDecl.Name.Name == "main" && funcDecl.Recv == nil {
			if funcDecl.Body == nil {
				break
			}
			initCall := &ast.ExprStmt{X: instr.runtimeCall(instr.config.InitFunc)}
			finalizeCall := &ast.DeferStmt{Call: instr.runtimeCall(instr.config.FinalizeFunc)}
			funcDecl.Body.List = append([]ast.Stmt{initCall, finalizeCall}, funcDecl.Body.List...)
			instr.instrumented = true
			break
		}
	}
}
