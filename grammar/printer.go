package grammar

import (
	"fmt"
	"strings"
)

func indent(level int) string {
	return strings.Repeat("    ", level)
}

func (f *File) String() string {
	var b strings.Builder
	for i, m := range f.Modules {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.String())
	}
	return b.String()
}

func (m *Module) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("module %s {\n", m.Name))
	for i, f := range m.Functions {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(f.StringWithIndent(1))
	}
	b.WriteString("}\n")
	return b.String()
}

func (a *Attribute) String() string {
	if a.Arg != "" {
		return fmt.Sprintf("#[%s(%s)]", a.Name, a.Arg)
	}
	return fmt.Sprintf("#[%s]", a.Name)
}

func (f *Function) StringWithIndent(level int) string {
	var b strings.Builder
	for _, attr := range f.Attributes {
		b.WriteString(indent(level) + attr.String() + "\n")
	}

	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("%s: %s", p.Name, p.Type)
	}
	b.WriteString(fmt.Sprintf("%sfun %s(%s)", indent(level), f.Name, strings.Join(params, ", ")))
	if len(f.Returns) > 0 {
		rets := make([]string, len(f.Returns))
		for i, r := range f.Returns {
			rets[i] = r.String()
		}
		b.WriteString(" : " + strings.Join(rets, ", "))
	}

	if f.Body == nil {
		b.WriteString(";\n")
		return b.String()
	}
	b.WriteString(" {\n")
	for _, l := range f.Body.Locals {
		b.WriteString(fmt.Sprintf("%slocal %s: %s;\n", indent(level+1), l.Name, l.Type))
	}
	for _, s := range f.Body.Statements {
		b.WriteString(indent(level+1) + s.String() + ";\n")
	}
	b.WriteString(indent(level) + "}\n")
	return b.String()
}

func (t *Type) String() string {
	switch {
	case t.Ref && t.Mut:
		return "&mut " + t.Name
	case t.Ref:
		return "&" + t.Name
	default:
		return t.Name
	}
}

func (s *Statement) String() string {
	switch {
	case s.Label != nil:
		return "label " + s.Label.Name
	case s.Goto != nil:
		return "goto " + s.Goto.Target
	case s.If != nil:
		return fmt.Sprintf("if (%s) goto %s else goto %s", s.If.Cond, s.If.Then, s.If.Else)
	case s.Switch != nil:
		return fmt.Sprintf("switch (%s) [%s]", s.Switch.Cond, strings.Join(s.Switch.Targets, ", "))
	case s.Return != nil:
		if len(s.Return.Values) == 0 {
			return "return"
		}
		return "return " + strings.Join(s.Return.Values, ", ")
	case s.Abort != nil:
		return "abort " + s.Abort.Code
	case s.Nop:
		return "nop"
	case s.Assign != nil:
		return fmt.Sprintf("%s := %s", strings.Join(s.Assign.Dests, ", "), s.Assign.Value)
	case s.Call != nil:
		return s.Call.String()
	}
	return ""
}

func (v *Value) String() string {
	switch {
	case v.Call != nil:
		return v.Call.String()
	case v.Bool != nil:
		return *v.Bool
	case v.Integer != nil:
		return *v.Integer
	case v.Address != nil:
		return *v.Address
	case v.Temp != nil:
		return *v.Temp
	}
	return ""
}

func (c *CallExpr) String() string {
	var b strings.Builder
	if c.Module != "" {
		b.WriteString(c.Module + "::")
	}
	b.WriteString(fmt.Sprintf("%s(%s)", c.Name, strings.Join(c.Args, ", ")))
	if c.OnAbort != nil {
		b.WriteString(fmt.Sprintf(" on_abort goto %s with %s", c.OnAbort.Target, c.OnAbort.Code))
	}
	return b.String()
}
