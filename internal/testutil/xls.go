package testutil

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// XLSSheet is one worksheet for MinimalXLS. An empty cell is left out of
// the file entirely; a row with no cells gets no ROW record.
type XLSSheet struct {
	Name string
	Rows [][]string
}

const (
	xlsSectorSize   = 512
	xlsStreamCutoff = 4096
	xlsEndOfChain   = 0xFFFFFFFE
	xlsFreeSector   = 0xFFFFFFFF
	xlsFATSector    = 0xFFFFFFFD
)

// MinimalXLS returns a BIFF8 workbook in a single-FAT compound file with
// every cell stored as a shared string. Workbooks are limited to what fits
// in one SST record and one FAT sector, which is plenty for fixtures.
func MinimalXLS(sheets ...XLSSheet) []byte {
	return compoundFile(biffWorkbook(sheets))
}

func biffWorkbook(sheets []XLSSheet) []byte {
	var strs []string
	index := map[string]uint32{}
	refs := 0
	for _, sh := range sheets {
		for _, row := range sh.Rows {
			for _, cell := range row {
				if cell == "" {
					continue
				}
				refs++
				if _, ok := index[cell]; !ok {
					index[cell] = uint32(len(strs))
					strs = append(strs, cell)
				}
			}
		}
	}

	var sst bytes.Buffer
	binary.Write(&sst, binary.LittleEndian, uint32(refs))
	binary.Write(&sst, binary.LittleEndian, uint32(len(strs)))
	for _, s := range strs {
		units := utf16.Encode([]rune(s))
		binary.Write(&sst, binary.LittleEndian, uint16(len(units)))
		sst.WriteByte(0x01)
		binary.Write(&sst, binary.LittleEndian, units)
	}

	// Sheet substreams start after the globals, whose length only depends
	// on the sheet names and the string table.
	globalsLen := 4 + 16 + 4 + sst.Len() + 4
	for _, sh := range sheets {
		globalsLen += 4 + 8 + 2*len(utf16.Encode([]rune(sh.Name)))
	}

	substreams := make([][]byte, len(sheets))
	for i, sh := range sheets {
		substreams[i] = biffSheet(sh, index)
	}

	var out bytes.Buffer
	biffRecord(&out, 0x0809, biffBOF(0x0005))

	pos := globalsLen
	for i, sh := range sheets {
		name := utf16.Encode([]rune(sh.Name))
		var bs bytes.Buffer
		binary.Write(&bs, binary.LittleEndian, uint32(pos))
		bs.Write([]byte{0, 0, byte(len(name)), 0x01})
		binary.Write(&bs, binary.LittleEndian, name)
		biffRecord(&out, 0x0085, bs.Bytes())
		pos += len(substreams[i])
	}

	biffRecord(&out, 0x00FC, sst.Bytes())
	biffRecord(&out, 0x000A, nil)

	for _, sub := range substreams {
		out.Write(sub)
	}

	// Streams below the cutoff live in the short-sector stream, which this
	// builder does not write.
	if out.Len() < xlsStreamCutoff {
		out.Write(make([]byte, xlsStreamCutoff-out.Len()))
	}
	return out.Bytes()
}

func biffSheet(sh XLSSheet, index map[string]uint32) []byte {
	var out bytes.Buffer
	biffRecord(&out, 0x0809, biffBOF(0x0010))

	for r, row := range sh.Rows {
		first, last := -1, -1
		for c, cell := range row {
			if cell == "" {
				continue
			}
			if first < 0 {
				first = c
			}
			last = c
		}
		if first < 0 {
			continue
		}

		var ri bytes.Buffer
		binary.Write(&ri, binary.LittleEndian, []uint16{uint16(r), uint16(first), uint16(last + 1), 0x00FF, 0, 0})
		binary.Write(&ri, binary.LittleEndian, uint32(0x0100))
		biffRecord(&out, 0x0208, ri.Bytes())

		for c, cell := range row {
			if cell == "" {
				continue
			}
			var label bytes.Buffer
			binary.Write(&label, binary.LittleEndian, []uint16{uint16(r), uint16(c), 0})
			binary.Write(&label, binary.LittleEndian, index[cell])
			biffRecord(&out, 0x00FD, label.Bytes())
		}
	}

	biffRecord(&out, 0x000A, nil)
	return out.Bytes()
}

func biffBOF(streamType uint16) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, []uint16{0x0600, streamType, 0x0DBB, 0x07CC})
	binary.Write(&b, binary.LittleEndian, []uint32{0, 0x06})
	return b.Bytes()
}

func biffRecord(w *bytes.Buffer, id uint16, body []byte) {
	binary.Write(w, binary.LittleEndian, id)
	binary.Write(w, binary.LittleEndian, uint16(len(body)))
	w.Write(body)
}

// compoundFile wraps stream as the "Workbook" stream of an OLE2 file laid
// out as: header, FAT sector, stream sectors, directory sector.
func compoundFile(stream []byte) []byte {
	n := (len(stream) + xlsSectorSize - 1) / xlsSectorSize
	dirSector := uint32(n + 1)

	var out bytes.Buffer

	header := make([]byte, xlsSectorSize)
	copy(header, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	le := binary.LittleEndian
	le.PutUint16(header[24:], 0x003E)
	le.PutUint16(header[26:], 0x0003)
	le.PutUint16(header[28:], 0xFFFE)
	le.PutUint16(header[30:], 9)
	le.PutUint16(header[32:], 6)
	le.PutUint32(header[44:], 1)
	le.PutUint32(header[48:], dirSector)
	le.PutUint32(header[56:], xlsStreamCutoff)
	le.PutUint32(header[60:], xlsEndOfChain)
	le.PutUint32(header[64:], 0)
	le.PutUint32(header[68:], xlsEndOfChain)
	le.PutUint32(header[72:], 0)
	le.PutUint32(header[76:], 0)
	for off := 80; off < xlsSectorSize; off += 4 {
		le.PutUint32(header[off:], xlsFreeSector)
	}
	out.Write(header)

	fat := make([]byte, xlsSectorSize)
	for i := 0; i < xlsSectorSize/4; i++ {
		var next uint32
		switch {
		case i == 0:
			next = xlsFATSector
		case i < n:
			next = uint32(i + 1)
		case i == n, i == n+1:
			next = xlsEndOfChain
		default:
			next = xlsFreeSector
		}
		le.PutUint32(fat[4*i:], next)
	}
	out.Write(fat)

	padded := make([]byte, n*xlsSectorSize)
	copy(padded, stream)
	out.Write(padded)

	dir := make([]byte, xlsSectorSize)
	dirEntry(dir[0:128], "Root Entry", 5, 1, xlsEndOfChain, 0)
	dirEntry(dir[128:256], "Workbook", 2, xlsFreeSector, 1, uint32(len(stream)))
	out.Write(dir)

	return out.Bytes()
}

func dirEntry(b []byte, name string, typ byte, child, start, size uint32) {
	le := binary.LittleEndian
	units := utf16.Encode([]rune(name))
	for i, u := range units {
		le.PutUint16(b[2*i:], u)
	}
	le.PutUint16(b[64:], uint16(2*(len(units)+1)))
	b[66] = typ
	b[67] = 1
	le.PutUint32(b[68:], xlsFreeSector)
	le.PutUint32(b[72:], xlsFreeSector)
	le.PutUint32(b[76:], child)
	le.PutUint32(b[116:], start)
	le.PutUint32(b[120:], size)
}
