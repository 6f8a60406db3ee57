package embedding

import (
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strconv"
)

// Embedding files use NumPy's .npy format, version 1.0: a magic string,
// a python-dict header describing dtype and shape, then raw little-endian
// float32 data in C order. Keeping the format lets existing tooling
// inspect the files directly.

var npyMagic = []byte("\x93NUMPY")

const npyDescr = "<f4"

func writeNPY(w io.Writer, rows, cols int, data []float32) error {
	if len(data) != rows*cols {
		return fmt.Errorf("npy: %d values for shape (%d, %d)", len(data), rows, cols)
	}

	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d), }", npyDescr, rows, cols)
	// Total header (magic + version + length + dict + newline) pads to 64.
	padded := len(npyMagic) + 2 + 2 + len(header) + 1
	if rem := padded % 64; rem != 0 {
		header += spaces(64 - rem)
	}
	header += "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

var npyHeaderRe = regexp.MustCompile(`'descr':\s*'([^']+)',\s*'fortran_order':\s*(\w+),\s*'shape':\s*\((\d+),\s*(\d+)\s*\)`)

func readNPY(r io.Reader) (rows, cols int, data []float32, err error) {
	magic := make([]byte, len(npyMagic)+2)
	if _, err = io.ReadFull(r, magic); err != nil {
		return 0, 0, nil, fmt.Errorf("npy: read magic: %w", err)
	}
	if string(magic[:len(npyMagic)]) != string(npyMagic) {
		return 0, 0, nil, fmt.Errorf("npy: bad magic")
	}
	if magic[len(npyMagic)] != 1 {
		return 0, 0, nil, fmt.Errorf("npy: unsupported version %d.%d", magic[len(npyMagic)], magic[len(npyMagic)+1])
	}

	var headerLen uint16
	if err = binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return 0, 0, nil, fmt.Errorf("npy: read header length: %w", err)
	}
	header := make([]byte, headerLen)
	if _, err = io.ReadFull(r, header); err != nil {
		return 0, 0, nil, fmt.Errorf("npy: read header: %w", err)
	}

	m := npyHeaderRe.FindSubmatch(header)
	if m == nil {
		return 0, 0, nil, fmt.Errorf("npy: unparseable header %q", header)
	}
	if string(m[1]) != npyDescr {
		return 0, 0, nil, fmt.Errorf("npy: unsupported dtype %s", m[1])
	}
	if string(m[2]) != "False" {
		return 0, 0, nil, fmt.Errorf("npy: fortran order not supported")
	}
	rows, _ = strconv.Atoi(string(m[3]))
	cols, _ = strconv.Atoi(string(m[4]))

	data = make([]float32, rows*cols)
	if err = binary.Read(r, binary.LittleEndian, data); err != nil {
		return 0, 0, nil, fmt.Errorf("npy: read data: %w", err)
	}
	return rows, cols, data, nil
}
