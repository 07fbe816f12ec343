package fdt

import (
	"bytes"
	"fmt"
	"strings"
)

// Dts renders the tree in device-tree source form. The output is diagnostic:
// it is well-formed DTS and reproduces property and child order, but carries
// no byte-exact contract.
func Dts(root *Node) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("/dts-v1/;\n\n")
	if err := writeDtsNode(&buf, root, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeDtsNode(buf *bytes.Buffer, n *Node, depth int) error {
	indent := strings.Repeat("\t", depth)
	name := n.Name
	if name == "" {
		name = "/"
	}
	fmt.Fprintf(buf, "%s%s {\n", indent, name)
	for _, p := range n.Properties {
		line, err := dtsProperty(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(buf, "%s\t%s\n", indent, line)
	}
	for _, child := range n.Children {
		if err := writeDtsNode(buf, child, depth+1); err != nil {
			return err
		}
	}
	fmt.Fprintf(buf, "%s};\n", indent)
	return nil
}

func dtsProperty(p Property) (string, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	switch p.Kind() {
	case "strings":
		quoted := make([]string, len(p.Strings))
		for i, s := range p.Strings {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		return fmt.Sprintf("%s = %s;", p.Name, strings.Join(quoted, ", ")), nil
	case "words":
		parts := make([]string, len(p.Words))
		for i, w := range p.Words {
			parts[i] = fmt.Sprintf("0x%x", w)
		}
		return fmt.Sprintf("%s = <%s>;", p.Name, strings.Join(parts, " ")), nil
	case "bytes":
		parts := make([]string, len(p.Bytes))
		for i, b := range p.Bytes {
			parts[i] = fmt.Sprintf("%02x", b)
		}
		return fmt.Sprintf("%s = [%s];", p.Name, strings.Join(parts, " ")), nil
	case "flag":
		return p.Name + ";", nil
	default:
		return "", fmt.Errorf("property %q has unsupported kind %q", p.Name, p.Kind())
	}
}
