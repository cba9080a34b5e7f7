package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/template"
)

// maxAliasDepth bounds alias chains such as `const a = b; const b = a`.
const maxAliasDepth = 16

// factoryNames are the calls recognized as template factories.
var factoryNames = map[string]bool{
	"defineTemplate": true,
	"createTemplate": true,
}

// Metadata is what a static scan recovers from template source without
// executing any of it.
type Metadata struct {
	HasRenderExport  bool
	HasDefaultExport bool
	Config           template.Config
	// RawConfig is the folded literal config before decoding.
	RawConfig map[string]any
	Defaults  map[string]any
}

// ExtractMetadata scans source structurally and recovers the template's
// literal config. Nothing in the source is evaluated. Values that are not
// literals (function calls, arithmetic, imports) are skipped, so config that
// depends on them is simply absent from the result.
func ExtractMetadata(src Source) (*Metadata, error) {
	code, err := transpile(src)
	if err != nil {
		return nil, err
	}

	tree, err := js.Parse(parse.NewInputString(code), js.Options{})
	if err != nil {
		return nil, errors.NewCompileError(errors.ErrCodeTemplateSyntax, "failed to parse template", err).
			WithLocation(src.name(), 0, 0)
	}

	s := newScanner()
	s.collect(tree)

	meta := &Metadata{
		HasDefaultExport: s.defaultExport != nil,
		HasRenderExport:  s.namedRender,
	}
	if s.defaultExport == nil {
		return nil, errors.NewCompileError(errors.ErrCodeTemplateStructure,
			"template has no default export", nil).WithLocation(src.name(), 0, 0)
	}

	obj, ok := s.templateObject(s.defaultExport, 0)
	if !ok {
		return nil, errors.NewCompileError(errors.ErrCodeTemplateStructure,
			"default export is not a recognized template shape; expected defineTemplate({...}), createTemplate({...}) or an object literal", nil).
			WithLocation(src.name(), 0, 0)
	}

	var configExpr js.IExpr
	for _, prop := range obj.List {
		switch propertyKey(prop) {
		case "render":
			meta.HasRenderExport = true
		case "config":
			configExpr = prop.Value
		case "defaults":
			if v, ok := s.fold(prop.Value, 0); ok {
				if m, isMap := v.(map[string]any); isMap {
					meta.Defaults = m
				}
			}
		}
	}
	if configExpr == nil {
		configExpr = s.namedConfig
	}

	if configExpr != nil {
		if v, ok := s.fold(configExpr, 0); ok {
			if m, isMap := v.(map[string]any); isMap {
				meta.RawConfig = m
			}
		}
	}

	if meta.RawConfig != nil {
		cfg, err := decodeConfig(meta.RawConfig)
		if err != nil {
			return nil, errors.NewValidationError(errors.ErrCodeTemplateConfig, "template config has the wrong shape").
				WithCause(err).WithLocation(src.name(), 0, 0)
		}
		meta.Config = cfg
	}

	return meta, nil
}

// transpile strips TypeScript syntax so the AST parser only sees JavaScript.
func transpile(src Source) (string, error) {
	result := api.Transform(src.Code, api.TransformOptions{
		Loader:     src.loader(),
		Format:     api.FormatESModule,
		Target:     api.ESNext,
		Sourcefile: src.name(),
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", syntaxError(src, result.Errors)
	}
	return string(result.Code), nil
}

// syntaxError converts esbuild diagnostics into a compile error located at
// the first message.
func syntaxError(src Source, msgs []api.Message) error {
	first := msgs[0]
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}

	err := errors.NewCompileError(errors.ErrCodeTemplateSyntax,
		"template source has syntax errors", fmt.Errorf("%s", strings.Join(texts, "; ")))
	if loc := first.Location; loc != nil {
		file := loc.File
		if file == "" {
			file = src.name()
		}
		err.WithLocation(file, loc.Line, loc.Column+1).WithContext("line_text", loc.LineText)
	} else {
		err.WithLocation(src.name(), 0, 0)
	}
	return err
}

type scanner struct {
	aliases       map[string]js.IExpr
	defaultExport js.IExpr
	namedConfig   js.IExpr
	namedRender   bool
	// exportedAs maps a local binding exported under another name, e.g.
	// `export { tpl as default }`.
	exportedAs map[string]string
}

func newScanner() *scanner {
	return &scanner{
		aliases:    make(map[string]js.IExpr),
		exportedAs: make(map[string]string),
	}
}

func (s *scanner) collect(tree *js.AST) {
	for _, stmt := range tree.List {
		switch n := stmt.(type) {
		case *js.VarDecl:
			s.declare(n)
		case *js.ExportStmt:
			s.export(n)
		}
	}

	for local, exported := range s.exportedAs {
		switch exported {
		case "default":
			if s.defaultExport == nil {
				s.defaultExport = &js.Var{Data: []byte(local)}
			}
		case "config":
			if s.namedConfig == nil {
				s.namedConfig = s.aliases[local]
			}
		case "render":
			s.namedRender = true
		}
	}
}

func (s *scanner) declare(decl *js.VarDecl) []string {
	var names []string
	for _, el := range decl.List {
		v, ok := el.Binding.(*js.Var)
		if !ok || el.Default == nil {
			continue
		}
		name := string(v.Data)
		s.aliases[name] = el.Default
		names = append(names, name)
	}
	return names
}

func (s *scanner) export(stmt *js.ExportStmt) {
	if stmt.Default {
		s.defaultExport = stmt.Decl
		return
	}
	if stmt.Module != nil {
		return
	}

	switch decl := stmt.Decl.(type) {
	case *js.VarDecl:
		for _, name := range s.declare(decl) {
			switch name {
			case "config":
				s.namedConfig = s.aliases[name]
			case "render":
				s.namedRender = true
			}
		}
	case *js.FuncDecl:
		if decl.Name != nil && string(decl.Name.Data) == "render" {
			s.namedRender = true
		}
	}

	for _, alias := range stmt.List {
		if alias.Binding == nil {
			continue
		}
		local := alias.Binding
		if alias.Name != nil {
			local = alias.Name
		}
		s.exportedAs[string(local)] = string(alias.Binding)
	}
}

// templateObject resolves the default export to the object literal that
// describes the template.
func (s *scanner) templateObject(expr js.IExpr, depth int) (*js.ObjectExpr, bool) {
	if depth > maxAliasDepth || expr == nil {
		return nil, false
	}

	switch n := expr.(type) {
	case *js.ObjectExpr:
		return n, true
	case *js.GroupExpr:
		return s.templateObject(n.X, depth+1)
	case *js.Var:
		target, ok := s.aliases[string(n.Data)]
		if !ok {
			return nil, false
		}
		return s.templateObject(target, depth+1)
	case *js.CallExpr:
		callee, ok := n.X.(*js.Var)
		if !ok || !factoryNames[string(callee.Data)] || len(n.Args.List) == 0 {
			return nil, false
		}
		if n.Args.List[0].Rest {
			return nil, false
		}
		return s.templateObject(n.Args.List[0].Value, depth+1)
	}

	return nil, false
}

// fold evaluates literal expressions. ok is false when expr is not a literal.
func (s *scanner) fold(expr js.IExpr, depth int) (any, bool) {
	if depth > maxAliasDepth || expr == nil {
		return nil, false
	}

	switch n := expr.(type) {
	case *js.LiteralExpr:
		return foldLiteral(n)
	case *js.TemplateExpr:
		if n.Tag != nil || len(n.List) > 0 {
			return nil, false
		}
		return strings.TrimSuffix(strings.TrimPrefix(string(n.Tail), "`"), "`"), true
	case *js.GroupExpr:
		return s.fold(n.X, depth+1)
	case *js.UnaryExpr:
		v, ok := s.fold(n.X, depth+1)
		num, isNum := v.(float64)
		if !ok || !isNum {
			return nil, false
		}
		switch n.Op {
		case js.NegToken:
			return -num, true
		case js.PosToken:
			return num, true
		}
		return nil, false
	case *js.Var:
		target, ok := s.aliases[string(n.Data)]
		if !ok {
			return nil, false
		}
		return s.fold(target, depth+1)
	case *js.ArrayExpr:
		out := make([]any, 0, len(n.List))
		for _, el := range n.List {
			if el.Spread || el.Value == nil {
				continue
			}
			if v, ok := s.fold(el.Value, depth+1); ok {
				out = append(out, v)
			}
		}
		return out, true
	case *js.ObjectExpr:
		out := make(map[string]any, len(n.List))
		for _, prop := range n.List {
			key := propertyKey(prop)
			if key == "" || prop.Spread {
				continue
			}
			if v, ok := s.fold(prop.Value, depth+1); ok {
				out[key] = v
			}
		}
		return out, true
	}

	return nil, false
}

func foldLiteral(n *js.LiteralExpr) (any, bool) {
	switch n.TokenType {
	case js.TrueToken:
		return true, true
	case js.FalseToken:
		return false, true
	case js.NullToken:
		return nil, true
	case js.StringToken:
		return unquote(string(n.Data)), true
	case js.DecimalToken, js.IntegerToken, js.HexadecimalToken, js.OctalToken, js.BinaryToken:
		return parseNumber(string(n.Data))
	}
	return nil, false
}

func parseNumber(raw string) (any, bool) {
	clean := strings.ReplaceAll(raw, "_", "")
	if len(clean) > 1 && clean[0] == '0' && strings.ContainsAny(clean[1:2], "xXoObB") {
		i, err := strconv.ParseInt(clean, 0, 64)
		if err != nil {
			return nil, false
		}
		return float64(i), true
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

// unquote decodes a JavaScript string literal of either quote kind. An
// unknown escape yields the escaped character itself, as in JavaScript.
func unquote(raw string) string {
	if len(raw) < 2 {
		return raw
	}
	inner := raw[1 : len(raw)-1]
	if !strings.ContainsRune(inner, '\\') {
		return inner
	}

	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c != '\\' || i+1 == len(inner) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := inner[i]; e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\r':
			// Line continuation, possibly CRLF.
			if i+1 < len(inner) && inner[i+1] == '\n' {
				i++
			}
		case '\n':
		case 'x':
			if r, ok := parseHexRune(inner, i+1, 2); ok {
				b.WriteRune(r)
				i += 2
			} else {
				b.WriteByte(e)
			}
		case 'u':
			r, n := unicodeEscape(inner, i+1)
			if n == 0 {
				b.WriteByte(e)
				continue
			}
			b.WriteRune(r)
			i += n
		default:
			b.WriteByte(e)
		}
	}
	return b.String()
}

// unicodeEscape decodes the body of a \u escape starting at s[at], either
// {hex} or four hex digits, joining a UTF-16 surrogate pair when one follows.
// It returns the rune and how many bytes it consumed, or 0 if malformed.
func unicodeEscape(s string, at int) (rune, int) {
	if at < len(s) && s[at] == '{' {
		end := strings.IndexByte(s[at:], '}')
		if end < 2 {
			return 0, 0
		}
		r, ok := parseHexRune(s, at+1, end-1)
		if !ok || r > unicode.MaxRune {
			return 0, 0
		}
		return r, end + 1
	}

	r, ok := parseHexRune(s, at, 4)
	if !ok {
		return 0, 0
	}
	if utf16.IsSurrogate(r) && at+10 <= len(s) && s[at+4:at+6] == `\u` {
		if lo, ok := parseHexRune(s, at+6, 4); ok {
			if pair := utf16.DecodeRune(r, lo); pair != unicode.ReplacementChar {
				return pair, 10
			}
		}
	}
	return r, 4
}

func parseHexRune(s string, at, n int) (rune, bool) {
	if at+n > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[at:at+n], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}

// propertyKey returns the static key of an object property, or "" for
// computed keys and spreads. Methods (`render() {}`) carry their key on the
// method declaration.
func propertyKey(prop js.Property) string {
	if prop.Spread {
		return ""
	}

	var name *js.PropertyName
	if prop.Name != nil {
		name = prop.Name
	} else if method, ok := prop.Value.(*js.MethodDecl); ok {
		name = &method.Name.PropertyName
	}
	if name == nil || name.IsComputed() {
		return ""
	}

	if name.Literal.TokenType == js.StringToken {
		return unquote(string(name.Literal.Data))
	}
	return string(name.Literal.Data)
}
