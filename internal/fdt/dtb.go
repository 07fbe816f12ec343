package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	dtbHeaderSize  = 0x28
	dtbVersion     = 17
	dtbLastCompVer = 16
	dtbMagic       = 0xd00dfeed

	dtbBeginNodeToken = 0x1
	dtbEndNodeToken   = 0x2
	dtbPropToken      = 0x3
	dtbEndToken       = 0x9
)

// Dtb serializes the tree into a flattened device-tree blob. The layout is
// the standard DTB format (version 17): fixed header, empty memory
// reservation block, tokenized structure block and a deduplicated string
// table, all fields big-endian and all tokens 4-byte aligned.
func Dtb(root *Node) ([]byte, error) {
	e := &dtbEncoder{stringsOff: make(map[string]uint32)}
	if err := e.emitNode(root); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

type dtbEncoder struct {
	structBuf  bytes.Buffer
	strings    bytes.Buffer
	stringsOff map[string]uint32
}

func (e *dtbEncoder) emitNode(n *Node) error {
	e.beginNode(n.Name)
	for _, p := range n.Properties {
		if err := e.emitProperty(p); err != nil {
			return err
		}
	}
	for _, child := range n.Children {
		if err := e.emitNode(child); err != nil {
			return err
		}
	}
	e.endNode()
	return nil
}

func (e *dtbEncoder) emitProperty(p Property) error {
	if err := p.check(); err != nil {
		return err
	}
	var data []byte
	switch p.Kind() {
	case "strings":
		var buf bytes.Buffer
		for _, v := range p.Strings {
			buf.WriteString(v)
			buf.WriteByte(0)
		}
		data = buf.Bytes()
	case "words":
		data = make([]byte, 0, len(p.Words)*4)
		for _, v := range p.Words {
			var tmp [4]byte
			binary.BigEndian.PutUint32(tmp[:], v)
			data = append(data, tmp[:]...)
		}
	case "bytes":
		data = append(data, p.Bytes...)
	case "flag":
		data = nil
	default:
		return fmt.Errorf("property %q has unsupported kind %q", p.Name, p.Kind())
	}
	e.property(p.Name, data)
	return nil
}

func (e *dtbEncoder) beginNode(name string) {
	e.writeToken(dtbBeginNodeToken)
	e.structBuf.WriteString(name)
	e.structBuf.WriteByte(0)
	e.padStruct()
}

func (e *dtbEncoder) endNode() {
	e.writeToken(dtbEndNodeToken)
}

func (e *dtbEncoder) property(name string, value []byte) {
	e.writeToken(dtbPropToken)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(value)))
	e.structBuf.Write(tmp[:])
	binary.BigEndian.PutUint32(tmp[:], e.stringOffset(name))
	e.structBuf.Write(tmp[:])
	e.structBuf.Write(value)
	e.padStruct()
}

func (e *dtbEncoder) finish() []byte {
	e.writeToken(dtbEndToken)
	e.padStruct()

	structBytes := e.structBuf.Bytes()
	stringsBytes := e.strings.Bytes()

	// A single zero entry terminates the reservation block; this generator
	// never reserves memory.
	memReserve := make([]byte, 16)

	offMemReserve := dtbHeaderSize
	offStruct := offMemReserve + len(memReserve)
	offStrings := offStruct + len(structBytes)
	totalSize := offStrings + len(stringsBytes)

	blob := make([]byte, totalSize)
	header := blob[:dtbHeaderSize]
	binary.BigEndian.PutUint32(header[0:4], dtbMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(totalSize))
	binary.BigEndian.PutUint32(header[8:12], uint32(offStruct))
	binary.BigEndian.PutUint32(header[12:16], uint32(offStrings))
	binary.BigEndian.PutUint32(header[16:20], uint32(offMemReserve))
	binary.BigEndian.PutUint32(header[20:24], dtbVersion)
	binary.BigEndian.PutUint32(header[24:28], dtbLastCompVer)
	binary.BigEndian.PutUint32(header[28:32], 0) // boot_cpuid_phys
	binary.BigEndian.PutUint32(header[32:36], uint32(len(stringsBytes)))
	binary.BigEndian.PutUint32(header[36:40], uint32(len(structBytes)))

	copy(blob[offMemReserve:], memReserve)
	copy(blob[offStruct:], structBytes)
	copy(blob[offStrings:], stringsBytes)

	return blob
}

// stringOffset interns name in the string table and returns its byte offset.
// Names are stored once in first-use order.
func (e *dtbEncoder) stringOffset(name string) uint32 {
	if off, ok := e.stringsOff[name]; ok {
		return off
	}
	off := uint32(e.strings.Len())
	e.strings.WriteString(name)
	e.strings.WriteByte(0)
	e.stringsOff[name] = off
	return off
}

func (e *dtbEncoder) writeToken(token uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], token)
	e.structBuf.Write(tmp[:])
}

func (e *dtbEncoder) padStruct() {
	for e.structBuf.Len()%4 != 0 {
		e.structBuf.WriteByte(0)
	}
}
