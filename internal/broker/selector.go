package broker

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aleybovich/carrot-broker/internal/wire"
)

// Selector is a compiled boolean expression over message properties, in the
// SQL-92 subset used by JMS message selectors. Unknown values propagate as
// SQL NULL and a message matches only when the expression is true.
type Selector struct {
	text string
	root node
}

// ParseSelector compiles a selector expression.
func ParseSelector(text string) (*Selector, error) {
	p := &selectorParser{lex: selectorLexer{src: text}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %s", p.tok)
	}
	return &Selector{text: text, root: root}, nil
}

func (s *Selector) String() string { return s.text }

// Matches evaluates the selector against a message. A nil selector matches
// everything.
func (s *Selector) Matches(msg *Message) bool {
	if s == nil {
		return true
	}
	v, _ := s.root.eval(messageEnv{msg}).(bool)
	return v
}

type env interface {
	lookup(name string) any
}

type messageEnv struct{ msg *Message }

func (e messageEnv) lookup(name string) any {
	p := &e.msg.Properties
	switch name {
	case "JMSDeliveryMode":
		if p.DeliveryMode == wire.Persistent {
			return "PERSISTENT"
		}
		return "NON_PERSISTENT"
	case "JMSPriority":
		return int64(p.Priority)
	case "JMSMessageID":
		return optString(p.MessageID)
	case "JMSTimestamp":
		if p.Timestamp.IsZero() {
			return nil
		}
		return p.Timestamp.UnixMilli()
	case "JMSCorrelationID":
		return optString(p.CorrelationID)
	case "JMSType":
		return optString(p.Type)
	}
	v, ok := p.Headers[name]
	if !ok {
		return nil
	}
	return normalizeValue(v)
}

func optString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalizeValue folds field-table values onto the selector's value domain:
// int64, float64, string, bool or nil.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case bool, string, int64, float64:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case wire.Decimal:
		return float64(x.Value) / math.Pow10(int(x.Scale))
	case time.Time:
		return x.UnixMilli()
	}
	return nil
}

// lexer

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokKeyword
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return strconv.Quote(t.text)
}

var selectorKeywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "BETWEEN": true, "LIKE": true, "ESCAPE": true,
	"IN": true, "IS": true, "NULL": true, "TRUE": true, "FALSE": true,
}

type selectorLexer struct {
	src string
	pos int
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '.'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *selectorLexer) next() (token, error) {
	for l.pos < len(l.src) && strings.IndexByte(" \t\r\n", l.src[l.pos]) >= 0 {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := l.src[l.pos]
	switch {
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		word := l.src[start:l.pos]
		if upper := strings.ToUpper(word); selectorKeywords[upper] {
			return token{kind: tokKeyword, text: upper, pos: start}, nil
		}
		return token{kind: tokIdent, text: word, pos: start}, nil

	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
			l.pos++
			if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
				l.pos++
			}
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil

	case c == '\'':
		var sb strings.Builder
		l.pos++
		for {
			if l.pos >= len(l.src) {
				return token{}, fmt.Errorf("unterminated string at offset %d", start)
			}
			if l.src[l.pos] == '\'' {
				// '' is an escaped quote
				if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
					sb.WriteByte('\'')
					l.pos += 2
					continue
				}
				l.pos++
				return token{kind: tokString, text: sb.String(), pos: start}, nil
			}
			sb.WriteByte(l.src[l.pos])
			l.pos++
		}
	}

	for _, op := range []string{"<>", "<=", ">=", "=", "<", ">", "+", "-", "*", "/", "(", ")", ","} {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	return token{}, fmt.Errorf("unexpected character %q at offset %d", c, start)
}

// parser

type selectorParser struct {
	lex selectorLexer
	tok token
}

func (p *selectorParser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *selectorParser) errorf(format string, a ...any) error {
	return fmt.Errorf("offset %d: %s", p.tok.pos, fmt.Sprintf(format, a...))
}

func (p *selectorParser) isKeyword(kw string) bool {
	return p.tok.kind == tokKeyword && p.tok.text == kw
}

func (p *selectorParser) isOp(op string) bool {
	return p.tok.kind == tokOp && p.tok.text == op
}

func (p *selectorParser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errorf("expected %s, got %s", kw, p.tok)
	}
	return p.advance()
}

func (p *selectorParser) expectOp(op string) error {
	if !p.isOp(op) {
		return p.errorf("expected %q, got %s", op, p.tok)
	}
	return p.advance()
}

func (p *selectorParser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *selectorParser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *selectorParser) parseNot() (node, error) {
	if p.isKeyword("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	return p.parseComparison()
}

func (p *selectorParser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.tok.kind == tokOp {
		switch op := p.tok.text; op {
		case "=", "<>", "<", "<=", ">", ">=":
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return compareNode{op: op, left: left, right: right}, nil
		}
		return left, nil
	}

	if p.isKeyword("IS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		negate := false
		if p.isKeyword("NOT") {
			negate = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return isNullNode{operand: left, negate: negate}, nil
	}

	negate := false
	if p.isKeyword("NOT") {
		negate = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	var n node
	switch {
	case p.isKeyword("LIKE"):
		n, err = p.parseLike(left)
	case p.isKeyword("IN"):
		n, err = p.parseIn(left)
	case p.isKeyword("BETWEEN"):
		n, err = p.parseBetween(left)
	default:
		if negate {
			return nil, p.errorf("expected LIKE, IN or BETWEEN after NOT, got %s", p.tok)
		}
		return left, nil
	}
	if err != nil {
		return nil, err
	}
	if negate {
		n = notNode{n}
	}
	return n, nil
}

func (p *selectorParser) parseLike(operand node) (node, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokString {
		return nil, p.errorf("LIKE needs a string pattern, got %s", p.tok)
	}
	pattern := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}

	var escape rune
	if p.isKeyword("ESCAPE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokString || len([]rune(p.tok.text)) != 1 {
			return nil, p.errorf("ESCAPE needs a single character string")
		}
		escape = []rune(p.tok.text)[0]
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	re, err := likeRegexp(pattern, escape)
	if err != nil {
		return nil, err
	}
	return likeNode{operand: operand, re: re}, nil
}

func likeRegexp(pattern string, escape rune) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("(?s)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			sb.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case escape != 0 && r == escape:
			escaped = true
		case r == '%':
			sb.WriteString(".*")
		case r == '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		return nil, fmt.Errorf("LIKE pattern %q ends with the escape character", pattern)
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

func (p *selectorParser) parseIn(operand node) (node, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var items []any
	for {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		items = append(items, lit)
		if !p.isOp(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return inNode{operand: operand, items: items}, nil
}

func (p *selectorParser) parseLiteral() (any, error) {
	neg := false
	if p.isOp("-") {
		neg = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	var v any
	switch {
	case p.tok.kind == tokString && !neg:
		v = p.tok.text
	case p.tok.kind == tokNumber:
		n, err := parseNumber(p.tok.text)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		v = n
		if neg {
			v = negate(n)
		}
	case (p.isKeyword("TRUE") || p.isKeyword("FALSE")) && !neg:
		v = p.tok.text == "TRUE"
	default:
		return nil, p.errorf("expected a literal, got %s", p.tok)
	}
	return v, p.advance()
}

func (p *selectorParser) parseBetween(operand node) (node, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	lo, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AND"); err != nil {
		return nil, err
	}
	hi, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return andNode{
		compareNode{op: ">=", left: operand, right: lo},
		compareNode{op: "<=", left: operand, right: hi},
	}, nil
}

func (p *selectorParser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = arithNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *selectorParser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = arithNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *selectorParser) parseUnary() (node, error) {
	if p.isOp("-") || p.isOp("+") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			return inner, nil
		}
		return negNode{inner}, nil
	}
	return p.parsePrimary()
}

func (p *selectorParser) parsePrimary() (node, error) {
	t := p.tok
	switch {
	case p.isOp("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		return inner, p.expectOp(")")
	case t.kind == tokIdent:
		return identNode(t.text), p.advance()
	case t.kind == tokString:
		return literalNode{t.text}, p.advance()
	case t.kind == tokNumber:
		n, err := parseNumber(t.text)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		return literalNode{n}, p.advance()
	case p.isKeyword("TRUE"), p.isKeyword("FALSE"):
		return literalNode{t.text == "TRUE"}, p.advance()
	case p.isKeyword("NULL"):
		return literalNode{nil}, p.advance()
	}
	return nil, p.errorf("unexpected %s", t)
}

func parseNumber(s string) (any, error) {
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q", s)
	}
	return f, nil
}

// evaluation

type node interface {
	eval(e env) any
}

type literalNode struct{ v any }

func (n literalNode) eval(env) any { return n.v }

type identNode string

func (n identNode) eval(e env) any { return e.lookup(string(n)) }

type notNode struct{ inner node }

func (n notNode) eval(e env) any {
	b, ok := n.inner.eval(e).(bool)
	if !ok {
		return nil
	}
	return !b
}

type andNode struct{ left, right node }

func (n andNode) eval(e env) any {
	l, lok := n.left.eval(e).(bool)
	if lok && !l {
		return false
	}
	r, rok := n.right.eval(e).(bool)
	if rok && !r {
		return false
	}
	if lok && rok {
		return true
	}
	return nil
}

type orNode struct{ left, right node }

func (n orNode) eval(e env) any {
	l, lok := n.left.eval(e).(bool)
	if lok && l {
		return true
	}
	r, rok := n.right.eval(e).(bool)
	if rok && r {
		return true
	}
	if lok && rok {
		return false
	}
	return nil
}

type isNullNode struct {
	operand node
	negate  bool
}

func (n isNullNode) eval(e env) any {
	return (n.operand.eval(e) == nil) != n.negate
}

type likeNode struct {
	operand node
	re      *regexp.Regexp
}

func (n likeNode) eval(e env) any {
	s, ok := n.operand.eval(e).(string)
	if !ok {
		return nil
	}
	return n.re.MatchString(s)
}

type inNode struct {
	operand node
	items   []any
}

func (n inNode) eval(e env) any {
	v := n.operand.eval(e)
	if v == nil {
		return nil
	}
	for _, item := range n.items {
		if eq, ok := valuesEqual(v, item); ok && eq {
			return true
		}
	}
	return false
}

type compareNode struct {
	op          string
	left, right node
}

func (n compareNode) eval(e env) any {
	l, r := n.left.eval(e), n.right.eval(e)
	if l == nil || r == nil {
		return nil
	}
	switch n.op {
	case "=", "<>":
		eq, ok := valuesEqual(l, r)
		if !ok {
			return nil
		}
		return eq == (n.op == "=")
	}
	c, ok := compareNumbers(l, r)
	if !ok {
		return nil
	}
	switch n.op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	default:
		return c >= 0
	}
}

type negNode struct{ inner node }

func (n negNode) eval(e env) any {
	v := n.inner.eval(e)
	if !isNumber(v) {
		return nil
	}
	return negate(v)
}

type arithNode struct {
	op          string
	left, right node
}

func (n arithNode) eval(e env) any {
	l, r := n.left.eval(e), n.right.eval(e)
	if !isNumber(l) || !isNumber(r) {
		return nil
	}
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch n.op {
		case "+":
			return li + ri
		case "-":
			return li - ri
		case "*":
			return li * ri
		case "/":
			if ri == 0 {
				return nil
			}
			if li%ri == 0 {
				return li / ri
			}
		}
	}
	lf, rf := toFloat(l), toFloat(r)
	switch n.op {
	case "+":
		return lf + rf
	case "-":
		return lf - rf
	case "*":
		return lf * rf
	default:
		if rf == 0 {
			return nil
		}
		return lf / rf
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func toFloat(v any) float64 {
	if i, ok := v.(int64); ok {
		return float64(i)
	}
	return v.(float64)
}

func negate(v any) any {
	if i, ok := v.(int64); ok {
		return -i
	}
	return -v.(float64)
}

func compareNumbers(l, r any) (int, bool) {
	if !isNumber(l) || !isNumber(r) {
		return 0, false
	}
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch {
		case li < ri:
			return -1, true
		case li > ri:
			return 1, true
		}
		return 0, true
	}
	lf, rf := toFloat(l), toFloat(r)
	switch {
	case lf < rf:
		return -1, true
	case lf > rf:
		return 1, true
	}
	return 0, true
}

// valuesEqual reports equality and whether the two values were comparable.
func valuesEqual(l, r any) (bool, bool) {
	if isNumber(l) && isNumber(r) {
		c, _ := compareNumbers(l, r)
		return c == 0, true
	}
	if reflect.TypeOf(l) != reflect.TypeOf(r) {
		return false, false
	}
	return l == r, true
}
