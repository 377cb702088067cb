package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/jweave/internal/bytecode"
	"github.com/standardbeagle/jweave/internal/classfile"
)

func runInspect(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("inspect takes exactly one class file")
	}
	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	node, err := classfile.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.Args().First(), err)
	}
	dumpClass(node, c.Bool("code"))
	return nil
}

func dumpClass(node *bytecode.ClassNode, withCode bool) {
	fmt.Printf("class %s (version %d.%d, access 0x%04x)\n",
		node.Name, node.MajorVersion, node.MinorVersion, node.Access)
	fmt.Printf("  extends %s\n", node.SuperName)
	for _, iface := range node.Interfaces {
		fmt.Printf("  implements %s\n", iface)
	}
	if node.SourceFile != "" {
		fmt.Printf("  source %s\n", node.SourceFile)
	}
	for _, a := range node.Annotations {
		fmt.Printf("  @%s\n", annotationName(a.Desc))
	}

	if len(node.Fields) > 0 {
		fmt.Println("\nfields:")
		for _, f := range node.Fields {
			fmt.Printf("  %s : %s (access 0x%04x)%s\n",
				f.Name, f.Desc, f.Access, annotationSuffix(f.Annotations))
		}
	}

	fmt.Println("\nmethods:")
	for _, m := range node.Methods {
		fmt.Printf("  %s%s (access 0x%04x, stack %d, locals %d)%s\n",
			m.Name, m.Desc, m.Access, m.MaxStack, m.MaxLocals,
			annotationSuffix(m.Annotations))
		if !withCode || m.Insns == nil {
			continue
		}
		labels := labelNumbers(m)
		for in := m.Insns.First(); in != nil; in = m.Insns.Next(in) {
			dumpInsn(in, labels)
		}
		for _, tc := range m.TryCatch {
			kind := tc.Type
			if kind == "" {
				kind = "finally"
			}
			fmt.Printf("    try L%d..L%d handler L%d (%s)\n",
				labels[tc.Start], labels[tc.End], labels[tc.Handler], kind)
		}
	}
}

// labelNumbers assigns display indices to label pseudo-instructions.
func labelNumbers(m *bytecode.MethodNode) map[*bytecode.Insn]int {
	labels := make(map[*bytecode.Insn]int)
	for in := m.Insns.First(); in != nil; in = m.Insns.Next(in) {
		if in.Kind == bytecode.KindLabel {
			labels[in] = len(labels)
		}
	}
	return labels
}

func dumpInsn(in *bytecode.Insn, labels map[*bytecode.Insn]int) {
	switch in.Kind {
	case bytecode.KindLabel:
		fmt.Printf("   L%d:\n", labels[in])
	case bytecode.KindLine:
		fmt.Printf("    .line %d\n", in.Line)
	case bytecode.KindJump:
		fmt.Printf("    %s L%d\n", bytecode.OpcodeName(in.Opcode), labels[in.Target])
	case bytecode.KindSwitch:
		fmt.Printf("    %s default=L%d (%d case(s))\n",
			bytecode.OpcodeName(in.Opcode), labels[in.Default], len(in.Targets))
	default:
		fmt.Printf("    %s\n", in)
	}
}

func annotationName(desc string) string {
	return strings.TrimSuffix(strings.TrimPrefix(desc, "L"), ";")
}

func annotationSuffix(anns []*bytecode.Annotation) string {
	if len(anns) == 0 {
		return ""
	}
	names := make([]string, len(anns))
	for i, a := range anns {
		names[i] = "@" + annotationName(a.Desc)
	}
	return "  " + strings.Join(names, " ")
}
