// Package codec runs JavaScript payload codecs for the node. A codec script
// defines Encode(fPort, obj) returning a byte array, Decode(fPort, bytes)
// returning an object, or both.
package codec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
)

var (
	ErrInvalidCodec = errors.New("codec: invalid codec")
	ErrNoEncode     = errors.New("codec: Encode function not defined")
	ErrNoDecode     = errors.New("codec: Decode function not defined")
)

// Codec is a compiled codec script.
type Codec struct {
	Name   string
	Script string

	program   *goja.Program
	hasEncode bool
	hasDecode bool
}

// New compiles script. It fails when the script does not parse or defines
// neither Encode nor Decode.
func New(name, script string) (*Codec, error) {
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("%w: empty script", ErrInvalidCodec)
	}
	program, err := goja.Compile(name, script, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCodec, err)
	}

	vm := goja.New()
	if _, err := vm.RunProgram(program); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCodec, err)
	}
	_, enc := goja.AssertFunction(vm.Get("Encode"))
	_, dec := goja.AssertFunction(vm.Get("Decode"))
	if !enc && !dec {
		return nil, fmt.Errorf("%w: script defines neither Encode nor Decode", ErrInvalidCodec)
	}
	return &Codec{Name: name, Script: script, program: program, hasEncode: enc, hasDecode: dec}, nil
}

// Load reads and compiles the codec at path, named after the file.
func Load(path string) (*Codec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read codec: %w", err)
	}
	return New(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), string(data))
}

func (c *Codec) CanEncode() bool { return c.hasEncode }

func (c *Codec) CanDecode() bool { return c.hasDecode }
