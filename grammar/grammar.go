package grammar

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// File is a .kbc source file: one or more modules of stackless bytecode
type File struct {
	Pos     lexer.Position
	Modules []*Module `@@*`
}

type Module struct {
	Pos       lexer.Position
	EndPos    lexer.Position
	Name      string      `"module" @Ident "{"`
	Functions []*Function `@@* "}"`
}

// Attribute is `#[name]` or `#[name(arg)]`
type Attribute struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Name   string `"#" "[" @Ident`
	Arg    string `[ "(" @Ident ")" ] "]"`
}

// Function has a body unless it is declared with a trailing `;`
type Function struct {
	Pos        lexer.Position
	EndPos     lexer.Position
	Attributes []*Attribute `@@*`
	Name       string       `"fun" @Ident "("`
	Params     []*Param     `[ @@ { "," @@ } ] ")"`
	Returns    []*Type      `[ ":" @@ { "," @@ } ]`
	Body       *Body        `( @@ | ";" )`
}

type Param struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Name   string `@Ident ":"`
	Type   *Type  `@@`
}

// Type is a primitive type name, optionally behind `&` or `&mut`
type Type struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Ref    bool   `[ @"&"`
	Mut    bool   `  [ @"mut" ] ]`
	Name   string `@Ident`
}

type Body struct {
	Locals     []*Local     `"{" @@*`
	Statements []*Statement `@@* "}"`
}

type Local struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Name   string `"local" @Ident ":"`
	Type   *Type  `@@ ";"`
}

type Statement struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Label  *LabelStmt  `(  @@`
	Goto   *GotoStmt   ` | @@`
	If     *IfStmt     ` | @@`
	Switch *SwitchStmt ` | @@`
	Return *ReturnStmt ` | @@`
	Abort  *AbortStmt  ` | @@`
	Nop    bool        ` | @"nop"`
	Assign *AssignStmt ` | @@`
	Call   *CallExpr   ` | @@ ) ";"`
}

type LabelStmt struct {
	Name string `"label" @Ident`
}

type GotoStmt struct {
	Target string `"goto" @Ident`
}

type IfStmt struct {
	Cond string `"if" "(" @Ident ")"`
	Then string `"goto" @Ident`
	Else string `"else" "goto" @Ident`
}

type SwitchStmt struct {
	Cond    string   `"switch" "(" @Ident ")"`
	Targets []string `"[" @Ident { "," @Ident } "]"`
}

type ReturnStmt struct {
	Values []string `"return" [ @Ident { "," @Ident } ]`
}

type AbortStmt struct {
	Code string `"abort" @Ident`
}

// AssignStmt is `dests := value`
type AssignStmt struct {
	Dests []string `@Ident { "," @Ident } ":="`
	Value *Value   `@@`
}

type Value struct {
	Call    *CallExpr `  @@`
	Bool    *string   `| @("true" | "false")`
	Integer *string   `| @Integer`
	Address *string   `| @Address`
	Temp    *string   `| @Ident`
}

// CallExpr calls a builtin operation or a function, which is qualified
// when it lives in another module
type CallExpr struct {
	Pos     lexer.Position
	EndPos  lexer.Position
	Module  string   `[ @Ident "::" ]`
	Name    string   `@Ident "("`
	Args    []string `[ @Ident { "," @Ident } ] ")"`
	OnAbort *OnAbort `[ @@ ]`
}

type OnAbort struct {
	Target string `"on_abort" "goto" @Ident`
	Code   string `"with" @Ident`
}
