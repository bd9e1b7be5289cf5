// Package schema validates inbound JSON payloads against the schemas embedded
// in this package.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/leadsong/backend/internal/apperr"
)

// Schema names, one per file under schemas/.
const (
	PaymentEvent    = "payment_event"
	RedeemRequest   = "redeem_request"
	PayeeAccount    = "payee_account"
	RegisterRequest = "register_request"
)

//go:embed schemas/*.json
var files embed.FS

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	entries, err := fs.ReadDir(files, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := files.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		if err := compiler.AddResource(schemaURL(name), strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("add schema %q: %w", name, err)
		}
		names = append(names, name)
	}
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		s, err := compiler.Compile(schemaURL(name))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// MustNew is New for process start-up, where the embedded schemas are fixed.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

func schemaURL(name string) string {
	return "https://schemas.leadsong.app/" + name + ".json"
}

// Validate checks raw against the named schema. Malformed JSON and schema
// violations both wrap apperr.ErrBadInput.
func (v *Validator) Validate(name string, raw []byte) error {
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", apperr.ErrBadInput, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrBadInput, err)
	}
	return nil
}
