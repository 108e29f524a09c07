package signal

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://lessoncall.invalid/schemas/"

var (
	ErrUnknownEvent   = errors.New("unknown signaling event")
	ErrInvalidPayload = errors.New("invalid signaling payload")
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		out := make(map[string]*jsonschema.Schema, len(InboundEvents))
		for _, name := range InboundEvents {
			raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
			if err != nil {
				schemasErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			url := schemaBaseURL + name + ".json"
			if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
				schemasErr = fmt.Errorf("add schema resource %s: %w", name, err)
				return
			}
			schema, err := compiler.Compile(url)
			if err != nil {
				schemasErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[name] = schema
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Decode validates data against the schema registered for name and returns
// the matching Event. A missing or null payload is treated as an empty object.
func Decode(name string, data json.RawMessage) (Event, error) {
	all, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	schema, ok := all[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}

	switch name {
	case EventIncomingCall:
		var ev IncomingCall
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
		}
		return ev, nil
	case EventCallAccepted:
		var ev CallAccepted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
		}
		return ev, nil
	case EventCallEnded:
		return CallEnded{}, nil
	case EventConnect:
		return Connect{}, nil
	case EventDisconnect:
		return Disconnect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}
