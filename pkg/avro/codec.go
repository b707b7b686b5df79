// Package avro encodes and decodes Confluent wire-format Avro payloads with
// schemas fetched from a schema registry.
package avro

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/hamba/avro/v2"
	"github.com/riferrei/srclient"
	"golang.org/x/sync/singleflight"
)

// Constants for Confluent wire format
const (
	magicByte        = 0
	wireHeaderSize   = 5 // Magic byte (1) + Schema ID (4)
	maxSchemaID      = 0xFFFFFFFF
	valueSuffix      = "-value"
	singleflightByID = "id:"
)

var ErrWireFormat = errors.New("invalid wire format")

// Registry is the subset of the schema registry client the codec uses.
// *srclient.SchemaRegistryClient satisfies it.
type Registry interface {
	GetSchema(schemaID int) (*srclient.Schema, error)
	GetLatestSchema(subject string) (*srclient.Schema, error)
	CreateSchema(subject string, schema string, schemaType srclient.SchemaType, references ...srclient.Reference) (*srclient.Schema, error)
}

type schemaEntry struct {
	id     int
	schema avro.Schema
}

// Codec caches parsed schemas by subject and by ID. Safe for concurrent use.
type Codec struct {
	registry  Registry
	bySubject sync.Map // subject -> schemaEntry
	byID      sync.Map // id -> avro.Schema
	group     singleflight.Group
}

func NewCodec(r Registry) *Codec {
	return &Codec{registry: r}
}

// NewRegistryCodec connects to the schema registry at url.
func NewRegistryCodec(url string) *Codec {
	return NewCodec(srclient.CreateSchemaRegistryClient(url))
}

// Subject is the value subject of a topic.
func Subject(topic string) string {
	return topic + valueSuffix
}

func (c *Codec) schemaForSubject(subject string) (schemaEntry, error) {
	if v, ok := c.bySubject.Load(subject); ok {
		return v.(schemaEntry), nil
	}
	val, err, _ := c.group.Do(subject, func() (any, error) {
		meta, err := c.registry.GetLatestSchema(subject)
		if err != nil {
			return nil, fmt.Errorf("fetch schema %s: %w", subject, err)
		}
		parsed, err := avro.Parse(meta.Schema())
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", subject, err)
		}
		se := schemaEntry{id: meta.ID(), schema: parsed}
		c.bySubject.Store(subject, se)
		c.byID.Store(se.id, parsed)
		return se, nil
	})
	if err != nil {
		return schemaEntry{}, err
	}
	return val.(schemaEntry), nil
}

func (c *Codec) schemaForID(id int) (avro.Schema, error) {
	if v, ok := c.byID.Load(id); ok {
		return v.(avro.Schema), nil
	}
	val, err, _ := c.group.Do(fmt.Sprintf("%s%d", singleflightByID, id), func() (any, error) {
		meta, err := c.registry.GetSchema(id)
		if err != nil {
			return nil, fmt.Errorf("fetch schema ID %d: %w", id, err)
		}
		parsed, err := avro.Parse(meta.Schema())
		if err != nil {
			return nil, fmt.Errorf("parse schema ID %d: %w", id, err)
		}
		c.byID.Store(id, parsed)
		return parsed, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(avro.Schema), nil
}

// Unmarshal decodes a wire-format payload into a key/value object. Its
// signature matches record.Unmarshaler.
func (c *Codec) Unmarshal(payload []byte) (map[string]any, error) {
	id, body, err := splitWire(payload)
	if err != nil {
		return nil, err
	}
	s, err := c.schemaForID(id)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := avro.Unmarshal(s, body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal for ID %d: %w", id, err)
	}
	return out, nil
}

// Marshal encodes native with the latest schema of the topic's value subject.
func (c *Codec) Marshal(topic string, native map[string]any) ([]byte, error) {
	subject := Subject(topic)
	se, err := c.schemaForSubject(subject)
	if err != nil {
		return nil, err
	}
	body, err := avro.Marshal(se.schema, native)
	if err != nil {
		return nil, fmt.Errorf("marshal for %s: %w", subject, err)
	}
	return joinWire(se.id, body)
}

// Register creates the topic's value schema unless an equivalent one is
// already registered. A differing registered schema is kept and logged.
func (c *Codec) Register(topic, schemaJSON string) (int, error) {
	subject := Subject(topic)

	existing, err := c.registry.GetLatestSchema(subject)
	if err != nil {
		created, createErr := c.registry.CreateSchema(subject, schemaJSON, srclient.Avro)
		if createErr != nil {
			return 0, fmt.Errorf("create schema %s: %w", subject, createErr)
		}
		return created.ID(), nil
	}

	same, err := equivalentSchemas(existing.Schema(), schemaJSON)
	if err != nil {
		return 0, err
	}
	if !same {
		log.Printf("[Avro] Schema for %s differs from the registered one, keeping ID %d", subject, existing.ID())
	}
	return existing.ID(), nil
}

func splitWire(payload []byte) (int, []byte, error) {
	if len(payload) < wireHeaderSize || payload[0] != magicByte {
		return 0, nil, fmt.Errorf("%w: missing magic byte or too short", ErrWireFormat)
	}
	return int(binary.BigEndian.Uint32(payload[1:wireHeaderSize])), payload[wireHeaderSize:], nil
}

func joinWire(id int, body []byte) ([]byte, error) {
	if id < 0 || id > maxSchemaID {
		return nil, fmt.Errorf("schema ID %d out of uint32 range", id)
	}
	out := make([]byte, wireHeaderSize+len(body))
	out[0] = magicByte
	binary.BigEndian.PutUint32(out[1:wireHeaderSize], uint32(id))
	copy(out[wireHeaderSize:], body)
	return out, nil
}
