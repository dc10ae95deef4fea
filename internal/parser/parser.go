package parser

import (
	"fmt"
	"strconv"

	"cminus/internal/ast"
	"cminus/internal/lexer"
)

// ---------------------------------------------------------------------------
// Precedence levels for Pratt expression parsing
// ---------------------------------------------------------------------------

const (
	precNone       = iota
	precComparison // < > <= >= == !=
	precAdditive   // + -
	precMultiply   // * /
	precUnary      // -
)

// ---------------------------------------------------------------------------
// ParseError
// ---------------------------------------------------------------------------

// ParseError represents a single error found during parsing.
type ParseError struct {
	Message string
	Line    int
	Column  int
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Column, e.Message)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser holds the state for a single parse pass over a token stream.
type Parser struct {
	tokens []lexer.Token
	pos    int
	errors []ParseError
}

// Parse is the main entry point. It takes a token slice (as produced by
// lexer.Lex) and returns an AST program plus any parse errors collected.
func Parse(tokens []lexer.Token) (*ast.Program, []ParseError) {
	p := &Parser{tokens: tokens, pos: 0}
	prog := p.parseProgram()
	return prog, p.errors
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

// peek returns the current token without consuming it.
func (p *Parser) peek() lexer.Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return lexer.Token{Type: lexer.EOF}
}

// peekAt returns the token at a given offset from the current position.
func (p *Parser) peekAt(offset int) lexer.Token {
	idx := p.pos + offset
	if idx >= 0 && idx < len(p.tokens) {
		return p.tokens[idx]
	}
	return lexer.Token{Type: lexer.EOF}
}

// advance consumes and returns the current token.
func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if tok.Type != lexer.EOF {
		p.pos++
	}
	return tok
}

// previous returns the most recently consumed token.
func (p *Parser) previous() lexer.Token {
	if p.pos > 0 {
		return p.tokens[p.pos-1]
	}
	return lexer.Token{Type: lexer.EOF}
}

// check returns true if the current token has the given type.
func (p *Parser) check(typ string) bool {
	return p.peek().Type == typ
}

// match consumes the current token if it matches any of the given types.
func (p *Parser) match(types ...string) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

// expect consumes the current token if it matches typ; otherwise it records
// an error and returns the current token WITHOUT advancing.
func (p *Parser) expect(typ string, msg string) lexer.Token {
	if p.check(typ) {
		return p.advance()
	}
	tok := p.peek()
	p.addError(tok, fmt.Sprintf("%s (got %s %q)", msg, tok.Type, tok.Value))
	return tok
}

// addError appends a ParseError at the given token's location.
func (p *Parser) addError(tok lexer.Token, msg string) {
	p.errors = append(p.errors, ParseError{
		Message: msg,
		Line:    tok.Line,
		Column:  tok.Column,
	})
}

// synchronize advances past tokens until it reaches a likely statement
// boundary, allowing the parser to recover from an error and keep going.
func (p *Parser) synchronize() {
	p.advance()
	for !p.check(lexer.EOF) {
		if p.previous().Type == lexer.SEMICOLON {
			return
		}
		switch p.peek().Type {
		case lexer.INT, lexer.VOID, lexer.IF, lexer.WHILE,
			lexer.RETURN, lexer.LBRACE, lexer.RBRACE:
			return
		}
		p.advance()
	}
}

// position converts a token into an ast.Position.
func (p *Parser) position(tok lexer.Token) ast.Position {
	return ast.Position{Line: tok.Line, Column: tok.Column}
}

// isTypeKeyword returns true for the two type specifiers.
func isTypeKeyword(typ string) bool {
	return typ == lexer.INT || typ == lexer.VOID
}

func typeOf(tok lexer.Token) ast.Type {
	if tok.Type == lexer.INT {
		return ast.Integer
	}
	return ast.Void
}

// =========================================================================
// Top-level parsing
// =========================================================================

func (p *Parser) parseProgram() *ast.Program {
	prog := &ast.Program{Pos: p.position(p.peek())}

	for !p.check(lexer.EOF) {
		if !isTypeKeyword(p.peek().Type) {
			tok := p.peek()
			p.addError(tok, fmt.Sprintf("expected declaration, got %s %q", tok.Type, tok.Value))
			p.synchronize()
			continue
		}
		if d := p.parseDeclaration(); d != nil {
			prog.Decls = append(prog.Decls, d)
		}
	}

	if len(prog.Decls) == 0 && len(p.errors) == 0 {
		p.addError(p.peek(), "program must contain at least one declaration")
	}
	return prog
}

// parseDeclaration: <type> <name> ( ';' | '[' NUM ']' ';' | '(' params ')' compound )
func (p *Parser) parseDeclaration() ast.Stmt {
	typTok := p.advance()
	nameTok := p.expect(lexer.IDENT, "expected identifier after type")
	if nameTok.Type != lexer.IDENT {
		p.synchronize()
		return nil
	}

	if p.check(lexer.LPAREN) {
		return p.parseFuncDecl(typTok, nameTok)
	}
	return p.finishVarDecl(typTok, nameTok)
}

// finishVarDecl parses the tail of a variable declaration after its name.
func (p *Parser) finishVarDecl(typTok, nameTok lexer.Token) *ast.VarDecl {
	decl := &ast.VarDecl{
		Name: nameTok.Value,
		Type: typeOf(typTok),
		Pos:  p.position(nameTok),
	}
	if p.match(lexer.LBRACKET) {
		sizeTok := p.expect(lexer.NUM, "expected array size")
		if sizeTok.Type == lexer.NUM {
			decl.Size = p.intValue(sizeTok)
		}
		decl.IsArray = true
		p.expect(lexer.RBRACKET, "expected ']' after array size")
	}
	if p.expect(lexer.SEMICOLON, "expected ';' after variable declaration").Type != lexer.SEMICOLON {
		p.synchronize()
	}
	return decl
}

// parseFuncDecl: <type> <name> ( <params> ) <compound>
func (p *Parser) parseFuncDecl(typTok, nameTok lexer.Token) *ast.FuncDecl {
	fn := &ast.FuncDecl{
		Name:       nameTok.Value,
		ReturnType: typeOf(typTok),
		Pos:        p.position(nameTok),
	}
	p.expect(lexer.LPAREN, "expected '(' after function name")
	fn.Params = p.parseParams()
	p.expect(lexer.RPAREN, "expected ')' after parameters")

	if !p.check(lexer.LBRACE) {
		p.addError(p.peek(), fmt.Sprintf("expected '{' to start body of %s", fn.Name))
		p.synchronize()
		fn.Body = &ast.CompoundStmt{Pos: p.position(p.peek())}
		return fn
	}
	fn.Body = p.parseCompound()
	return fn
}

// parseParams: 'void' | param { ',' param }
func (p *Parser) parseParams() []*ast.ParamDecl {
	if p.check(lexer.VOID) && p.peekAt(1).Type == lexer.RPAREN {
		p.advance()
		return nil
	}
	if p.check(lexer.RPAREN) {
		p.addError(p.peek(), "expected parameter list or 'void'")
		return nil
	}

	var params []*ast.ParamDecl
	for {
		typTok := p.peek()
		if !isTypeKeyword(typTok.Type) {
			p.addError(typTok, fmt.Sprintf("expected parameter type (got %s %q)", typTok.Type, typTok.Value))
			return params
		}
		p.advance()
		nameTok := p.expect(lexer.IDENT, "expected parameter name")
		param := &ast.ParamDecl{
			Name: nameTok.Value,
			Type: typeOf(typTok),
			Pos:  p.position(nameTok),
		}
		if p.match(lexer.LBRACKET) {
			p.expect(lexer.RBRACKET, "expected ']' in array parameter")
			param.IsArray = true
		}
		params = append(params, param)
		if !p.match(lexer.COMMA) {
			return params
		}
	}
}

// =========================================================================
// Statements
// =========================================================================

// parseCompound: '{' { local-decl } { statement } '}'
func (p *Parser) parseCompound() *ast.CompoundStmt {
	tok := p.expect(lexer.LBRACE, "expected '{'")
	block := &ast.CompoundStmt{Pos: p.position(tok)}

	for isTypeKeyword(p.peek().Type) {
		typTok := p.advance()
		nameTok := p.expect(lexer.IDENT, "expected identifier after type")
		if nameTok.Type != lexer.IDENT {
			p.synchronize()
			continue
		}
		block.Decls = append(block.Decls, p.finishVarDecl(typTok, nameTok))
	}

	for !p.check(lexer.RBRACE) && !p.check(lexer.EOF) {
		if isTypeKeyword(p.peek().Type) {
			p.addError(p.peek(), "declarations must precede statements in a block")
			p.synchronize()
			continue
		}
		start := p.pos
		if s := p.parseStatement(); s != nil {
			block.Stmts = append(block.Stmts, s)
		}
		if p.pos == start {
			p.synchronize()
		}
	}

	p.expect(lexer.RBRACE, "expected '}' to close block")
	return block
}

func (p *Parser) parseStatement() ast.Stmt {
	switch p.peek().Type {
	case lexer.LBRACE:
		return p.parseCompound()
	case lexer.IF:
		return p.parseIfStmt()
	case lexer.WHILE:
		return p.parseWhileStmt()
	case lexer.RETURN:
		return p.parseReturnStmt()
	default:
		return p.parseExprStmt()
	}
}

// parseIfStmt: if ( <expr> ) <stmt> [ else <stmt> ]
func (p *Parser) parseIfStmt() ast.Stmt {
	tok := p.advance() // consume 'if'
	p.expect(lexer.LPAREN, "expected '(' after 'if'")
	cond := p.parseExpression()
	p.expect(lexer.RPAREN, "expected ')' after if condition")

	stmt := &ast.IfStmt{Cond: cond, Pos: p.position(tok)}
	stmt.Then = p.parseStatement()
	if p.match(lexer.ELSE) {
		stmt.Else = p.parseStatement()
	}
	return stmt
}

// parseWhileStmt: while ( <expr> ) <stmt>
func (p *Parser) parseWhileStmt() ast.Stmt {
	tok := p.advance() // consume 'while'
	p.expect(lexer.LPAREN, "expected '(' after 'while'")
	cond := p.parseExpression()
	p.expect(lexer.RPAREN, "expected ')' after while condition")
	body := p.parseStatement()
	return &ast.WhileStmt{Cond: cond, Body: body, Pos: p.position(tok)}
}

// parseReturnStmt: return [ <expr> ] ;
func (p *Parser) parseReturnStmt() ast.Stmt {
	tok := p.advance() // consume 'return'
	stmt := &ast.ReturnStmt{Pos: p.position(tok)}
	if !p.check(lexer.SEMICOLON) {
		stmt.Value = p.parseExpression()
	}
	p.expect(lexer.SEMICOLON, "expected ';' after return")
	return stmt
}

// parseExprStmt: [ <expr> ] ;
func (p *Parser) parseExprStmt() ast.Stmt {
	tok := p.peek()
	if p.match(lexer.SEMICOLON) {
		return &ast.ExprStmt{Pos: p.position(tok)}
	}
	expr := p.parseExpression()
	p.expect(lexer.SEMICOLON, "expected ';' after expression statement")
	return &ast.ExprStmt{X: expr, Pos: expr.GetPos()}
}

// =========================================================================
// Pratt expression parser
// =========================================================================

// parseExpression parses an assignment or a simple expression. Assignment
// is right-associative and its target must be a variable.
func (p *Parser) parseExpression() ast.Expr {
	left := p.parsePrecedence(precComparison)

	if p.check(lexer.ASSIGN) {
		tok := p.advance()
		target, ok := left.(*ast.IdentExpr)
		if !ok {
			p.addError(tok, "invalid assignment target")
			return p.parseExpression()
		}
		value := p.parseExpression()
		return &ast.AssignExpr{Target: target, Value: value, Pos: p.position(tok)}
	}
	return left
}

// parsePrecedence parses an expression with at least the given minimum
// precedence. This is the core of the Pratt algorithm.
func (p *Parser) parsePrecedence(minPrec int) ast.Expr {
	left := p.parsePrefix()

	for {
		prec := infixPrecedence(p.peek().Type)
		if prec < minPrec || prec == precNone {
			break
		}
		left = p.parseInfix(left, prec)
	}

	return left
}

// ---- Prefix (atoms & unary minus) ----

func (p *Parser) parsePrefix() ast.Expr {
	tok := p.peek()

	switch tok.Type {
	case lexer.IDENT:
		p.advance()
		switch p.peek().Type {
		case lexer.LPAREN:
			return p.parseCallExpr(tok)
		case lexer.LBRACKET:
			p.advance() // consume [
			index := p.parseExpression()
			p.expect(lexer.RBRACKET, "expected ']' after index expression")
			return &ast.IdentExpr{Name: tok.Value, Index: index, Pos: p.position(tok)}
		}
		return &ast.IdentExpr{Name: tok.Value, Pos: p.position(tok)}

	case lexer.NUM:
		p.advance()
		return &ast.ConstExpr{Value: p.intValue(tok), Pos: p.position(tok)}

	case lexer.LPAREN:
		p.advance()
		expr := p.parseExpression()
		p.expect(lexer.RPAREN, "expected ')' after expression")
		return expr

	case lexer.MINUS:
		p.advance()
		operand := p.parsePrecedence(precUnary)
		return &ast.UnaryExpr{Op: tok.Value, Operand: operand, Pos: p.position(tok)}

	default:
		p.addError(tok, fmt.Sprintf("unexpected token %s in expression", tok.Type))
		if tok.Type != lexer.SEMICOLON && tok.Type != lexer.RBRACE {
			p.advance() // consume the bad token so we make progress
		}
		return &ast.IdentExpr{Name: "<error>", Pos: p.position(tok)}
	}
}

// parseCallExpr: <name> ( [args] )
func (p *Parser) parseCallExpr(name lexer.Token) ast.Expr {
	p.advance() // consume (
	var args []ast.Expr

	if !p.check(lexer.RPAREN) {
		args = append(args, p.parseExpression())
		for p.match(lexer.COMMA) {
			args = append(args, p.parseExpression())
		}
	}

	p.expect(lexer.RPAREN, "expected ')' after arguments")
	return &ast.CallExpr{Name: name.Value, Args: args, Pos: p.position(name)}
}

// ---- Infix precedence table ----

func infixPrecedence(typ string) int {
	switch typ {
	case lexer.EQ, lexer.NEQ, lexer.LT, lexer.GT, lexer.LTE, lexer.GTE:
		return precComparison
	case lexer.PLUS, lexer.MINUS:
		return precAdditive
	case lexer.STAR, lexer.SLASH:
		return precMultiply
	default:
		return precNone
	}
}

// parseInfix parses a left-associative binary operator.
func (p *Parser) parseInfix(left ast.Expr, prec int) ast.Expr {
	tok := p.advance()
	right := p.parsePrecedence(prec + 1)
	return &ast.BinaryExpr{
		Op:    tok.Value,
		Left:  left,
		Right: right,
		Pos:   p.position(tok),
	}
}

func (p *Parser) intValue(tok lexer.Token) int {
	v, err := strconv.Atoi(tok.Value)
	if err != nil {
		p.addError(tok, fmt.Sprintf("integer literal %s out of range", tok.Value))
		return 0
	}
	return v
}
