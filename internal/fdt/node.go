// Package fdt builds hardware-description trees and serializes them as
// device-tree source (DTS) and flattened device-tree blobs (DTB).
package fdt

import "fmt"

// Property is a single named device-tree property. Exactly one of the typed
// value fields should be populated for a given property; the populated field
// decides how the value is encoded in both the text and binary output forms.
type Property struct {
	Name    string
	Strings []string
	Words   []uint32
	Bytes   []byte
	Flag    bool
}

// Kind returns the name of the populated field or an empty string if none are set.
func (p Property) Kind() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.Words) > 0:
		return "words"
	case len(p.Bytes) > 0:
		return "bytes"
	case p.Flag:
		return "flag"
	default:
		return ""
	}
}

func (p Property) definedCount() int {
	count := 0
	if len(p.Strings) > 0 {
		count++
	}
	if len(p.Words) > 0 {
		count++
	}
	if len(p.Bytes) > 0 {
		count++
	}
	if p.Flag {
		count++
	}
	return count
}

// check rejects properties with zero or multiple value kinds populated.
func (p Property) check() error {
	switch n := p.definedCount(); {
	case n == 0:
		return fmt.Errorf("property %q has no value", p.Name)
	case n > 1:
		return fmt.Errorf("property %q has multiple value kinds", p.Name)
	}
	return nil
}

// WordsProperty returns a property encoded as big-endian 32-bit cells.
func WordsProperty(name string, words ...uint32) Property {
	return Property{Name: name, Words: words}
}

// StringsProperty returns a property encoded as NUL-terminated strings.
func StringsProperty(name string, values ...string) Property {
	return Property{Name: name, Strings: values}
}

// BytesProperty returns a raw byte-string property.
func BytesProperty(name string, data []byte) Property {
	return Property{Name: name, Bytes: data}
}

// FlagProperty returns a property with no payload, used as a boolean marker.
func FlagProperty(name string) Property {
	return Property{Name: name, Flag: true}
}

// Node is one element of the device tree. Properties and children are kept in
// insertion order; both serializers reproduce that order verbatim, which the
// binary consumer relies on (interrupt contexts resolve positionally).
type Node struct {
	Name       string
	Properties []Property
	Children   []*Node

	// Phandle is nonzero when this node is referenceable by other nodes.
	// It mirrors the node's "phandle" property; see SetPhandle.
	Phandle uint32
}

// NewNode creates an empty node. The root node has an empty name.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// NewNodeAddr creates a node named with a unit-address suffix, "name@addr"
// with the address in hex.
func NewNodeAddr(name string, addr uint64) *Node {
	return &Node{Name: fmt.Sprintf("%s@%x", name, addr)}
}

// Append adds properties to the node, preserving order.
func (n *Node) Append(props ...Property) {
	n.Properties = append(n.Properties, props...)
}

// AddChild appends a child node. The child is owned exclusively by n.
func (n *Node) AddChild(child *Node) {
	n.Children = append(n.Children, child)
}

// Compatible appends a "compatible" strings property.
func (n *Node) Compatible(values ...string) {
	n.Append(StringsProperty("compatible", values...))
}

// SetPhandle marks n as referenceable under handle h and appends the
// matching "phandle" property.
func (n *Node) SetPhandle(h uint32) {
	n.Phandle = h
	n.Append(WordsProperty("phandle", h))
}
