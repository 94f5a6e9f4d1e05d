package provision

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	"google.golang.org/protobuf/encoding/protowire"
)

// Validator checks that the file at path is a usable model container.
// Implementations return an error wrapping ErrValidation for malformed files.
type Validator func(path string) error

// Top-level ModelProto fields that must be present.
const (
	onnxIRVersionField protowire.Number = 1
	onnxGraphField     protowire.Number = 7
)

// ValidateONNX checks that path holds a structurally well-formed ONNX
// ModelProto: every top-level protobuf field decodes within the file bounds,
// and both ir_version and a non-empty graph are present. The graph itself is
// not interpreted.
func ValidateONNX(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrValidation, path)
	}

	cr := &countingReader{r: bufio.NewReaderSize(f, 64<<10)}
	var sawIR, sawGraph bool
	for {
		tag, err := binary.ReadUvarint(cr)
		if errors.Is(err, io.EOF) && cr.n == info.Size() {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: bad field tag at offset %d: %v", ErrValidation, cr.n, err)
		}

		num, typ := protowire.DecodeTag(tag)
		if !num.IsValid() {
			return fmt.Errorf("%w: invalid field number %d at offset %d", ErrValidation, num, cr.n)
		}

		switch typ {
		case protowire.VarintType:
			if _, err := binary.ReadUvarint(cr); err != nil {
				return fmt.Errorf("%w: truncated varint field %d", ErrValidation, num)
			}
			if num == onnxIRVersionField {
				sawIR = true
			}
		case protowire.Fixed32Type:
			if err := cr.skip(4); err != nil {
				return fmt.Errorf("%w: truncated fixed32 field %d", ErrValidation, num)
			}
		case protowire.Fixed64Type:
			if err := cr.skip(8); err != nil {
				return fmt.Errorf("%w: truncated fixed64 field %d", ErrValidation, num)
			}
		case protowire.BytesType:
			n, err := binary.ReadUvarint(cr)
			if err != nil {
				return fmt.Errorf("%w: truncated length of field %d", ErrValidation, num)
			}
			if n > uint64(info.Size()-cr.n) {
				return fmt.Errorf("%w: field %d overruns file (%d bytes)", ErrValidation, num, n)
			}
			if err := cr.skip(int64(n)); err != nil {
				return fmt.Errorf("%w: truncated field %d", ErrValidation, num)
			}
			if num == onnxGraphField && n > 0 {
				sawGraph = true
			}
		default:
			return fmt.Errorf("%w: unexpected wire type %d for field %d", ErrValidation, typ, num)
		}

		if num == onnxIRVersionField && typ != protowire.VarintType ||
			num == onnxGraphField && typ != protowire.BytesType {
			return fmt.Errorf("%w: field %d has wrong wire type %d", ErrValidation, num, typ)
		}
	}

	if !sawIR {
		return fmt.Errorf("%w: missing ir_version", ErrValidation)
	}
	if !sawGraph {
		return fmt.Errorf("%w: missing graph", ErrValidation)
	}
	return nil
}

// verifyDigest checks the file content against d.
func verifyDigest(path string, d digest.Digest) error {
	if !d.Algorithm().Available() {
		return fmt.Errorf("%w: digest algorithm %q unavailable", ErrValidation, d.Algorithm())
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	defer f.Close()

	v := d.Verifier()
	if _, err := io.Copy(v, f); err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrValidation, path, err)
	}
	if !v.Verified() {
		return fmt.Errorf("%w: digest mismatch, want %s", ErrValidation, d)
	}
	return nil
}

// countingReader tracks how many bytes were consumed from r.
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func (c *countingReader) skip(n int64) error {
	for n > 0 {
		chunk := n
		if chunk > 1<<30 {
			chunk = 1 << 30
		}
		d, err := c.r.Discard(int(chunk))
		c.n += int64(d)
		n -= int64(d)
		if err != nil {
			return err
		}
	}
	return nil
}
